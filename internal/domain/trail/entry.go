package trail

import (
	"encoding/json"
	"time"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/signal"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/values"
	"github.com/google/uuid"
)

// Entry is one immutable link of an agent's audit chain. It captures the
// raw interaction facts plus every derived group, and once sealed it never
// changes: the ledger appends, verifies, and reads, nothing else.
//
// Hashing requires a canonical byte form, so list-valued fields are slices
// only. A map anywhere in this struct would make marshaling order
// dependent on runtime state.
type Entry struct {
	// Identity
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Interaction facts, mirrored from the InteractionRecord
	AgentID       string        `json:"agent_id"`
	UserID        string        `json:"user_id,omitempty"`
	SessionID     string        `json:"session_id,omitempty"`
	InteractionID string        `json:"interaction_id"`
	Provider      string        `json:"provider,omitempty"`
	Model         string        `json:"model,omitempty"`
	ContextType   ContextType   `json:"context_type"`
	Environment   string        `json:"environment"`
	InputText     string        `json:"input_text"`
	OutputText    string        `json:"output_text"`
	Latency       time.Duration `json:"latency_ns"`
	TokensIn      int64         `json:"tokens_in"`
	TokensOut     int64         `json:"tokens_out"`
	TokensTotal   int64         `json:"tokens_total"`
	Cost          values.Cost   `json:"cost"`
	Success       bool          `json:"success"`
	ErrorText     string        `json:"error_text,omitempty"`

	// Derived groups
	Cognitive  CognitiveTrace        `json:"cognitive"`
	Trust      TrustSnapshot         `json:"trust"`
	Autonomy   AutonomyProfile       `json:"autonomy"`
	Emotional  signal.EmotionalState `json:"emotional"`
	Compliance ComplianceRecord      `json:"compliance"`

	// Chain linkage, attached by the ledger under the agent's append lane
	Chain ChainLink `json:"chain"`

	// Set after Seal; not persisted. Loaded entries rely on the presence
	// of a content hash instead.
	sealed bool
}

// CognitiveTrace holds the deterministic phrase extraction over the
// agent's output.
type CognitiveTrace struct {
	ReasoningSteps     []string `json:"reasoning_steps"`
	DecisionPoints     []string `json:"decision_points"`
	UncertaintyMarkers []string `json:"uncertainty_markers"`
	Assumptions        []string `json:"assumptions"`
	Alternatives       []string `json:"alternatives"`
	ConfidenceLevel    float64  `json:"confidence_level"`
	CognitiveLoad      float64  `json:"cognitive_load"`
}

// TrustSnapshot is the trust standing recorded with this interaction
type TrustSnapshot struct {
	Score        float64 `json:"score"`
	Delta        float64 `json:"delta"`
	Consistency  float64 `json:"consistency"`
	Accuracy     float64 `json:"accuracy"`
	Transparency float64 `json:"transparency"`
}

// AutonomyProfile records the oversight level and derived risk posture
type AutonomyProfile struct {
	Level               AutonomyLevel `json:"level"`
	AutonomousReasoning bool          `json:"autonomous_reasoning"`
	RiskLevel           RiskLevel     `json:"risk_level"`
	PermissionFlags     []string      `json:"permission_flags"`
	Safeguards          []string      `json:"safeguards"`
}

// ComplianceRecord carries policy evaluation results for the interaction
type ComplianceRecord struct {
	PolicyIDs       []string `json:"policy_ids"`
	Score           float64  `json:"score"`
	Violations      []string `json:"violations"`
	Recommendations []string `json:"recommendations"`
}

// ChainLink binds an entry into its agent's hash chain
type ChainLink struct {
	ContentHash  values.HashValue     `json:"content_hash"`
	PreviousHash values.HashValue     `json:"previous_hash"`
	Position     values.ChainPosition `json:"position"`
}

// ComplianceStatus buckets entries for search
type ComplianceStatus string

const (
	ComplianceCompliant ComplianceStatus = "compliant"
	ComplianceViolation ComplianceStatus = "violation"
	ComplianceWarning   ComplianceStatus = "warning"
)

// IsValid checks whether the compliance status is a known value
func (s ComplianceStatus) IsValid() bool {
	switch s {
	case ComplianceCompliant, ComplianceViolation, ComplianceWarning:
		return true
	}
	return false
}

// Compliance score below this threshold marks an otherwise clean entry as
// a warning.
const ComplianceWarningThreshold = 0.8

// ComplianceStatus derives the search bucket from the recorded group.
// Any violation wins; a clean entry with a weak score is a warning.
func (e *Entry) ComplianceStatus() ComplianceStatus {
	if len(e.Compliance.Violations) > 0 {
		return ComplianceViolation
	}
	if e.Compliance.Score < ComplianceWarningThreshold {
		return ComplianceWarning
	}
	return ComplianceCompliant
}

// Seal attaches the chain linkage and computes the content hash. After a
// successful seal the entry is immutable; sealing twice is an error so a
// ledger bug cannot silently rewrite history.
func (e *Entry) Seal(previous values.HashValue, position values.ChainPosition) error {
	if e.IsSealed() {
		return errors.NewBusinessError("ENTRY_SEALED",
			"cannot seal an already sealed entry")
	}

	if position.IsGenesis() != previous.IsEmpty() {
		return errors.NewValidationError("INVALID_CHAIN_LINK",
			"genesis entries carry no previous hash and only genesis entries may omit one")
	}

	e.Chain.PreviousHash = previous
	e.Chain.Position = position

	hash, err := e.computeContentHash()
	if err != nil {
		return err
	}

	e.Chain.ContentHash = hash
	e.sealed = true
	return nil
}

// IsSealed reports whether the entry carries its chain linkage. Entries
// loaded from storage qualify through their stored content hash.
func (e *Entry) IsSealed() bool {
	return e.sealed || !e.Chain.ContentHash.IsEmpty()
}

// RecomputeContentHash re-derives the hash from current field values
// without mutating the entry. Verification compares this against the
// stored content hash.
func (e *Entry) RecomputeContentHash() (values.HashValue, error) {
	return e.computeContentHash()
}

// computeContentHash hashes the canonical serialization of the entry with
// the content hash itself excluded. PreviousHash and Position are part of
// the hashed content: every hash binds its link to its place in the chain.
func (e *Entry) computeContentHash() (values.HashValue, error) {
	shadow := *e
	shadow.Chain.ContentHash = values.HashValue{}

	canonical, err := json.Marshal(&shadow)
	if err != nil {
		return values.HashValue{}, errors.NewInternalError(
			"failed to serialize entry for hashing").WithCause(err)
	}

	hash, err := values.ComputeHashValue(canonical)
	if err != nil {
		return values.HashValue{}, errors.NewInternalError(
			"failed to hash entry").WithCause(err)
	}

	return hash, nil
}

// Validate performs structural validation of the entry
func (e *Entry) Validate() error {
	if e.ID == uuid.Nil {
		return errors.NewValidationError("MISSING_ENTRY_ID", "entry ID is required")
	}
	if e.AgentID == "" {
		return errors.ErrMissingAgentID
	}
	if e.InteractionID == "" {
		return errors.ErrMissingInteraction
	}
	if e.Timestamp.IsZero() {
		return errors.NewValidationError("MISSING_TIMESTAMP", "entry timestamp is required")
	}
	if !e.ContextType.IsValid() {
		return errors.NewValidationError("INVALID_CONTEXT_TYPE",
			"context type must be single_agent, multi_agent, or other")
	}
	if !e.Autonomy.Level.IsValid() {
		return errors.NewValidationError("INVALID_AUTONOMY_LEVEL",
			"autonomy level must be supervised, semi_autonomous, or autonomous")
	}
	for _, score := range []float64{
		e.Trust.Score, e.Trust.Consistency, e.Trust.Accuracy, e.Trust.Transparency,
		e.Compliance.Score, e.Emotional.OverallSafety,
		e.Cognitive.ConfidenceLevel, e.Cognitive.CognitiveLoad,
	} {
		if score < 0 || score > 1 {
			return errors.NewValidationError("SCORE_OUT_OF_RANGE",
				"derived scores must stay within [0, 1]")
		}
	}
	if e.IsSealed() && e.Chain.ContentHash.IsEmpty() {
		return errors.NewValidationError("MISSING_CONTENT_HASH",
			"sealed entry must carry its content hash")
	}
	return nil
}

// Clone creates a deep copy of the entry. The clone is not sealed; the
// chain verifier re-hashes clones without touching stored entries.
func (e *Entry) Clone() *Entry {
	clone := *e
	clone.sealed = false

	clone.Cognitive.ReasoningSteps = cloneStrings(e.Cognitive.ReasoningSteps)
	clone.Cognitive.DecisionPoints = cloneStrings(e.Cognitive.DecisionPoints)
	clone.Cognitive.UncertaintyMarkers = cloneStrings(e.Cognitive.UncertaintyMarkers)
	clone.Cognitive.Assumptions = cloneStrings(e.Cognitive.Assumptions)
	clone.Cognitive.Alternatives = cloneStrings(e.Cognitive.Alternatives)
	clone.Autonomy.PermissionFlags = cloneStrings(e.Autonomy.PermissionFlags)
	clone.Autonomy.Safeguards = cloneStrings(e.Autonomy.Safeguards)
	clone.Emotional.RiskFactors = cloneStrings(e.Emotional.RiskFactors)
	clone.Emotional.Recommendations = cloneStrings(e.Emotional.Recommendations)
	clone.Compliance.PolicyIDs = cloneStrings(e.Compliance.PolicyIDs)
	clone.Compliance.Violations = cloneStrings(e.Compliance.Violations)
	clone.Compliance.Recommendations = cloneStrings(e.Compliance.Recommendations)

	return &clone
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
