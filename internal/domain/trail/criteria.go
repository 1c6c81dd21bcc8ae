package trail

import (
	"strings"
	"time"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/signal"
)

// Named-axis searches match entries at or above this score
const EmotionalAxisThreshold = 0.7

// History reads default to the recency window and stay bounded
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// HistoryFilter bounds a chronological history read
type HistoryFilter struct {
	Limit int
}

// Normalize applies the default and the cap
func (f HistoryFilter) Normalize() HistoryFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
	return f
}

// SearchCriteria narrows an agent's history. Every field is optional; an
// unset field matches everything, and set fields conjoin: an entry must
// satisfy all of them.
type SearchCriteria struct {
	Keywords      []string
	From          *time.Time
	To            *time.Time
	ContextType   *ContextType
	TrustMin      *float64
	TrustMax      *float64
	Compliance    *ComplianceStatus
	EmotionalAxis *signal.Axis
	AutonomyLevel *AutonomyLevel
	Limit         int
}

// Validate rejects criteria that could never match coherently
func (c SearchCriteria) Validate() error {
	if c.From != nil && c.To != nil && c.From.After(*c.To) {
		return errors.NewValidationError("INVALID_DATE_RANGE",
			"search range start must not be after its end")
	}
	for _, bound := range []*float64{c.TrustMin, c.TrustMax} {
		if bound != nil && (*bound < 0 || *bound > 1) {
			return errors.NewValidationError("INVALID_TRUST_BOUND",
				"trust bounds must stay within [0, 1]")
		}
	}
	if c.TrustMin != nil && c.TrustMax != nil && *c.TrustMin > *c.TrustMax {
		return errors.NewValidationError("INVALID_TRUST_RANGE",
			"trust minimum must not exceed trust maximum")
	}
	if c.ContextType != nil && !c.ContextType.IsValid() {
		return errors.NewValidationError("INVALID_CONTEXT_TYPE",
			"unknown context type in search criteria")
	}
	if c.Compliance != nil && !c.Compliance.IsValid() {
		return errors.NewValidationError("INVALID_COMPLIANCE_STATUS",
			"compliance status must be compliant, violation, or warning")
	}
	if c.EmotionalAxis != nil && !c.EmotionalAxis.IsValid() {
		return errors.NewValidationError("INVALID_EMOTIONAL_AXIS",
			"unknown emotional axis in search criteria")
	}
	if c.AutonomyLevel != nil && !c.AutonomyLevel.IsValid() {
		return errors.NewValidationError("INVALID_AUTONOMY_LEVEL",
			"unknown autonomy level in search criteria")
	}
	if c.Limit < 0 {
		return errors.NewValidationError("INVALID_LIMIT",
			"search limit cannot be negative")
	}
	return nil
}

// Normalize applies the default and cap to the result limit
func (c SearchCriteria) Normalize() SearchCriteria {
	if c.Limit <= 0 {
		c.Limit = DefaultHistoryLimit
	}
	if c.Limit > MaxHistoryLimit {
		c.Limit = MaxHistoryLimit
	}
	return c
}

// Matches evaluates the conjunction against one entry
func (c SearchCriteria) Matches(e *Entry) bool {
	if len(c.Keywords) > 0 {
		haystack := strings.ToLower(e.InputText + "\n" + e.OutputText)
		for _, kw := range c.Keywords {
			if kw == "" {
				continue
			}
			if !strings.Contains(haystack, strings.ToLower(kw)) {
				return false
			}
		}
	}

	if c.From != nil && e.Timestamp.Before(*c.From) {
		return false
	}
	if c.To != nil && e.Timestamp.After(*c.To) {
		return false
	}

	if c.ContextType != nil && e.ContextType != *c.ContextType {
		return false
	}

	// Trust bounds are inclusive on both ends
	if c.TrustMin != nil && e.Trust.Score < *c.TrustMin {
		return false
	}
	if c.TrustMax != nil && e.Trust.Score > *c.TrustMax {
		return false
	}

	if c.Compliance != nil && e.ComplianceStatus() != *c.Compliance {
		return false
	}

	if c.EmotionalAxis != nil && e.Emotional.Score(*c.EmotionalAxis) < EmotionalAxisThreshold {
		return false
	}

	if c.AutonomyLevel != nil && e.Autonomy.Level != *c.AutonomyLevel {
		return false
	}

	return true
}

// IsEmpty reports whether no predicate is set, which matches every entry
func (c SearchCriteria) IsEmpty() bool {
	return len(c.Keywords) == 0 &&
		c.From == nil && c.To == nil &&
		c.ContextType == nil &&
		c.TrustMin == nil && c.TrustMax == nil &&
		c.Compliance == nil &&
		c.EmotionalAxis == nil &&
		c.AutonomyLevel == nil
}
