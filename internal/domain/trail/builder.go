package trail

import (
	"time"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/signal"
	"github.com/google/uuid"
)

// TrustScorer supplies the trust group for a new entry. Deployments with a
// real evaluation pipeline plug one in; without it the builder falls back
// to the fixed policy defaults below.
type TrustScorer interface {
	Score(record InteractionRecord, signals signal.EmotionalState, prior float64, hasPrior bool) TrustSnapshot
}

// Fixed policy trust components used when no TrustScorer is wired. These
// are policy constants, not measurements: they state the trust extended to
// an agent absent any evaluation evidence.
const (
	defaultConsistency  = 0.80
	defaultAccuracy     = 0.85
	defaultTransparency = 0.90
)

// Builder assembles an Entry one group at a time. Errors accumulate: the
// first failure sticks and Build reports it, so call sites chain without
// checking every step.
type Builder struct {
	record     InteractionRecord
	descriptor ContextDescriptor
	signals    signal.EmotionalState
	hasSignals bool
	scorer     TrustScorer
	prior      float64
	hasPrior   bool
	id         uuid.UUID
	timestamp  time.Time
	err        error
}

// NewBuilder starts entry construction for one interaction. The record is
// validated immediately: identity problems surface before any derivation
// work happens.
func NewBuilder(record InteractionRecord, descriptor ContextDescriptor) *Builder {
	b := &Builder{
		record:     record,
		descriptor: descriptor.Normalize(),
	}

	if err := record.Validate(); err != nil {
		b.err = err
	}

	return b
}

// WithSignals attaches the analyzer output. Required: an entry without its
// derived telemetry is not a valid ledger record.
func (b *Builder) WithSignals(state signal.EmotionalState) *Builder {
	if b.err != nil {
		return b
	}

	b.signals = state
	b.hasSignals = true
	return b
}

// WithTrustScorer plugs in a trust evaluation collaborator
func (b *Builder) WithTrustScorer(scorer TrustScorer) *Builder {
	if b.err != nil {
		return b
	}

	b.scorer = scorer
	return b
}

// WithPriorTrust supplies the trust score of the agent's previous entry,
// so the new entry can record its trust delta.
func (b *Builder) WithPriorTrust(prior float64) *Builder {
	if b.err != nil {
		return b
	}

	if prior < 0 || prior > 1 {
		b.err = errors.NewValidationError("INVALID_PRIOR_TRUST",
			"prior trust score must stay within [0, 1]")
		return b
	}

	b.prior = prior
	b.hasPrior = true
	return b
}

// WithID overrides the generated entry ID (tests, replay tooling)
func (b *Builder) WithID(id uuid.UUID) *Builder {
	if b.err != nil {
		return b
	}

	if id == uuid.Nil {
		b.err = errors.NewValidationError("INVALID_ENTRY_ID",
			"entry ID cannot be nil")
		return b
	}

	b.id = id
	return b
}

// WithTimestamp overrides the capture time (tests, replay tooling)
func (b *Builder) WithTimestamp(ts time.Time) *Builder {
	if b.err != nil {
		return b
	}

	if ts.IsZero() {
		b.err = errors.NewValidationError("INVALID_TIMESTAMP",
			"timestamp cannot be zero")
		return b
	}

	b.timestamp = ts
	return b
}

// Build assembles and validates the entry. Chain fields stay empty; the
// ledger attaches those under the agent's append lane.
func (b *Builder) Build() (*Entry, error) {
	if b.err != nil {
		return nil, b.err
	}

	if !b.hasSignals {
		return nil, errors.NewValidationError("MISSING_SIGNALS",
			"entry requires analyzed signals")
	}

	id := b.id
	if id == uuid.Nil {
		id = uuid.New()
	}

	ts := b.timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	// Postgres keeps microseconds; anything finer would break hash
	// verification after a round trip through storage.
	ts = ts.UTC().Truncate(time.Microsecond)

	trace := ExtractCognitiveTrace(b.record.OutputText, b.signals.Confidence)

	entry := &Entry{
		ID:            id,
		Timestamp:     ts,
		AgentID:       b.record.AgentID,
		UserID:        b.record.UserID,
		SessionID:     b.record.SessionID,
		InteractionID: b.record.InteractionID,
		Provider:      b.record.Provider,
		Model:         b.record.Model,
		ContextType:   b.descriptor.ContextType,
		Environment:   b.descriptor.Environment,
		InputText:     b.record.InputText,
		OutputText:    b.record.OutputText,
		Latency:       b.record.Latency,
		TokensIn:      b.record.TokensIn,
		TokensOut:     b.record.TokensOut,
		TokensTotal:   b.record.TotalTokens(),
		Cost:          b.record.Cost,
		Success:       b.record.Success,
		ErrorText:     b.record.ErrorText,
		Cognitive:     trace,
		Trust:         b.buildTrust(),
		Autonomy:      b.buildAutonomy(trace),
		Emotional:     b.signals,
		Compliance:    b.buildCompliance(),
	}

	if err := entry.Validate(); err != nil {
		return nil, err
	}

	return entry, nil
}

func (b *Builder) buildTrust() TrustSnapshot {
	if b.scorer != nil {
		return b.scorer.Score(b.record, b.signals, b.prior, b.hasPrior)
	}
	return defaultTrustPolicy(b.signals, b.prior, b.hasPrior)
}

// defaultTrustPolicy blends the fixed component constants with the
// observed safety score. The first entry of a chain records a zero delta.
func defaultTrustPolicy(signals signal.EmotionalState, prior float64, hasPrior bool) TrustSnapshot {
	score := clamp01(0.25*defaultConsistency +
		0.25*defaultAccuracy +
		0.20*defaultTransparency +
		0.30*signals.OverallSafety)

	delta := 0.0
	if hasPrior {
		delta = score - prior
	}

	return TrustSnapshot{
		Score:        score,
		Delta:        delta,
		Consistency:  defaultConsistency,
		Accuracy:     defaultAccuracy,
		Transparency: defaultTransparency,
	}
}

func (b *Builder) buildAutonomy(trace CognitiveTrace) AutonomyProfile {
	risk := RiskLevelForSafety(b.signals.OverallSafety)

	return AutonomyProfile{
		Level: b.descriptor.AutonomyLevel,
		AutonomousReasoning: b.descriptor.AutonomyLevel != AutonomySupervised &&
			len(trace.DecisionPoints) > 0,
		RiskLevel:       risk,
		PermissionFlags: cloneStrings(b.descriptor.PermissionFlags),
		Safeguards:      safeguardsForRisk(risk),
	}
}

func safeguardsForRisk(risk RiskLevel) []string {
	switch risk {
	case RiskHigh:
		return []string{"human review required", "writes disabled", "rate limited"}
	case RiskMedium:
		return []string{"enhanced monitoring", "rate limited"}
	}
	return []string{"standard monitoring"}
}

func (b *Builder) buildCompliance() ComplianceRecord {
	violations := make([]string, 0)
	if b.signals.OverallSafety < 0.4 {
		violations = append(violations, "safety_threshold_breach")
	}
	if b.signals.Concern > 0.7 {
		violations = append(violations, "elevated_risk_content")
	}

	penalty := 0.25 * float64(len(violations))
	if b.signals.OverallSafety < 0.7 {
		penalty += 0.5 * (0.7 - b.signals.OverallSafety)
	}
	score := clamp01(1 - penalty)

	recommendations := make([]string, 0)
	if len(violations) > 0 {
		recommendations = append(recommendations, "escalate to policy review")
	} else if score < ComplianceWarningThreshold {
		recommendations = append(recommendations, "monitor subsequent interactions")
	}

	return ComplianceRecord{
		PolicyIDs:       cloneStrings(b.descriptor.PolicyIDs),
		Score:           score,
		Violations:      violations,
		Recommendations: recommendations,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
