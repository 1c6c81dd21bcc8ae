package trail

import (
	"time"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/values"
)

// ContextType classifies the interaction setting
type ContextType string

const (
	ContextSingleAgent ContextType = "single_agent"
	ContextMultiAgent  ContextType = "multi_agent"
	ContextOther       ContextType = "other"
)

// IsValid checks whether the context type is a known value
func (c ContextType) IsValid() bool {
	switch c {
	case ContextSingleAgent, ContextMultiAgent, ContextOther:
		return true
	}
	return false
}

// AutonomyLevel describes how much oversight the agent operated under
type AutonomyLevel string

const (
	AutonomySupervised     AutonomyLevel = "supervised"
	AutonomySemiAutonomous AutonomyLevel = "semi_autonomous"
	AutonomyAutonomous     AutonomyLevel = "autonomous"
)

// IsValid checks whether the autonomy level is a known value
func (a AutonomyLevel) IsValid() bool {
	switch a {
	case AutonomySupervised, AutonomySemiAutonomous, AutonomyAutonomous:
		return true
	}
	return false
}

// RiskLevel buckets an interaction by its derived safety score
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskLevelForSafety maps an overall safety score onto a risk bucket
func RiskLevelForSafety(safety float64) RiskLevel {
	switch {
	case safety < 0.5:
		return RiskHigh
	case safety < 0.7:
		return RiskMedium
	}
	return RiskLow
}

// InteractionRecord is the raw fact of one agent exchange as reported by
// the caller. It is input only: nothing in the ledger mutates it.
type InteractionRecord struct {
	AgentID       string
	UserID        string
	SessionID     string
	InteractionID string
	Provider      string
	Model         string
	InputText     string
	OutputText    string
	Latency       time.Duration
	TokensIn      int64
	TokensOut     int64
	TokensTotal   int64
	Cost          values.Cost
	Success       bool
	ErrorText     string
}

// Validate rejects records that must never reach the ledger. Identity
// fields are mandatory before any chain state is touched.
func (r InteractionRecord) Validate() error {
	if r.AgentID == "" {
		return errors.ErrMissingAgentID
	}
	if r.InteractionID == "" {
		return errors.ErrMissingInteraction
	}
	if r.Latency < 0 {
		return errors.NewValidationError("NEGATIVE_LATENCY",
			"interaction latency cannot be negative")
	}
	if r.TokensIn < 0 || r.TokensOut < 0 || r.TokensTotal < 0 {
		return errors.NewValidationError("NEGATIVE_TOKENS",
			"token counts cannot be negative")
	}
	return nil
}

// TotalTokens returns the reported total, falling back to the sum of the
// directional counts when the caller left it unset.
func (r InteractionRecord) TotalTokens() int64 {
	if r.TokensTotal > 0 {
		return r.TokensTotal
	}
	return r.TokensIn + r.TokensOut
}

// ContextDescriptor carries the operator-supplied context an interaction
// ran under. Everything here is optional; zero values fall back to the
// most conservative defaults.
type ContextDescriptor struct {
	ContextType     ContextType
	AutonomyLevel   AutonomyLevel
	Environment     string
	PermissionFlags []string
	PolicyIDs       []string
}

// Normalize fills defaults for unset descriptor fields
func (d ContextDescriptor) Normalize() ContextDescriptor {
	if !d.ContextType.IsValid() {
		d.ContextType = ContextOther
	}
	if !d.AutonomyLevel.IsValid() {
		d.AutonomyLevel = AutonomySupervised
	}
	if d.Environment == "" {
		d.Environment = "production"
	}
	if d.PermissionFlags == nil {
		d.PermissionFlags = make([]string, 0)
	}
	if d.PolicyIDs == nil {
		d.PolicyIDs = make([]string, 0)
	}
	return d
}
