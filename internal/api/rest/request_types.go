package rest

import (
	"time"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/safety"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/signal"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/values"
)

// RecordInteractionRequest reports one agent exchange for appending. The
// context block is optional; unset fields take conservative defaults.
type RecordInteractionRequest struct {
	AgentID       string `json:"agent_id" validate:"required,max=255"`
	UserID        string `json:"user_id" validate:"max=255"`
	SessionID     string `json:"session_id" validate:"max=255"`
	InteractionID string `json:"interaction_id" validate:"required,max=255"`
	Provider      string `json:"provider" validate:"max=255"`
	Model         string `json:"model" validate:"max=255"`

	InputText  string `json:"input_text"`
	OutputText string `json:"output_text"`

	LatencyNS   int64        `json:"latency_ns" validate:"min=0"`
	TokensIn    int64        `json:"tokens_in" validate:"min=0"`
	TokensOut   int64        `json:"tokens_out" validate:"min=0"`
	TokensTotal int64        `json:"tokens_total" validate:"min=0"`
	Cost        *values.Cost `json:"cost,omitempty"`
	Success     bool         `json:"success"`
	ErrorText   string       `json:"error_text"`

	Context *InteractionContextRequest `json:"context,omitempty"`
}

// InteractionContextRequest describes the setting the exchange ran under
type InteractionContextRequest struct {
	ContextType     string   `json:"context_type" validate:"omitempty,context_type"`
	AutonomyLevel   string   `json:"autonomy_level" validate:"omitempty,autonomy_level"`
	Environment     string   `json:"environment" validate:"max=100"`
	PermissionFlags []string `json:"permission_flags,omitempty"`
	PolicyIDs       []string `json:"policy_ids,omitempty"`
}

// ToDomain converts the request into the descriptor and record the ledger
// consumes. Deep validation stays in the domain; this only maps shapes.
func (req *RecordInteractionRequest) ToDomain() (trail.ContextDescriptor, trail.InteractionRecord) {
	record := trail.InteractionRecord{
		AgentID:       req.AgentID,
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		InteractionID: req.InteractionID,
		Provider:      req.Provider,
		Model:         req.Model,
		InputText:     req.InputText,
		OutputText:    req.OutputText,
		Latency:       time.Duration(req.LatencyNS),
		TokensIn:      req.TokensIn,
		TokensOut:     req.TokensOut,
		TokensTotal:   req.TokensTotal,
		Success:       req.Success,
		ErrorText:     req.ErrorText,
	}
	if req.Cost != nil {
		record.Cost = *req.Cost
	}

	var descriptor trail.ContextDescriptor
	if req.Context != nil {
		descriptor = trail.ContextDescriptor{
			ContextType:     trail.ContextType(req.Context.ContextType),
			AutonomyLevel:   trail.AutonomyLevel(req.Context.AutonomyLevel),
			Environment:     req.Context.Environment,
			PermissionFlags: req.Context.PermissionFlags,
			PolicyIDs:       req.Context.PolicyIDs,
		}
	}
	return descriptor, record
}

// SearchEntriesRequest narrows an agent's history. Unset fields match
// everything; set fields must all hold.
type SearchEntriesRequest struct {
	Keywords      []string   `json:"keywords,omitempty"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	ContextType   *string    `json:"context_type,omitempty" validate:"omitempty,context_type"`
	TrustMin      *float64   `json:"trust_min,omitempty" validate:"omitempty,min=0,max=1"`
	TrustMax      *float64   `json:"trust_max,omitempty" validate:"omitempty,min=0,max=1"`
	Compliance    *string    `json:"compliance,omitempty" validate:"omitempty,compliance_status"`
	EmotionalAxis *string    `json:"emotional_axis,omitempty" validate:"omitempty,emotional_axis"`
	AutonomyLevel *string    `json:"autonomy_level,omitempty" validate:"omitempty,autonomy_level"`
	Limit         int        `json:"limit" validate:"min=0,max=1000"`
}

// ToCriteria converts the request into domain search criteria
func (req *SearchEntriesRequest) ToCriteria() trail.SearchCriteria {
	criteria := trail.SearchCriteria{
		Keywords: req.Keywords,
		From:     req.From,
		To:       req.To,
		TrustMin: req.TrustMin,
		TrustMax: req.TrustMax,
		Limit:    req.Limit,
	}
	if req.ContextType != nil {
		ct := trail.ContextType(*req.ContextType)
		criteria.ContextType = &ct
	}
	if req.Compliance != nil {
		cs := trail.ComplianceStatus(*req.Compliance)
		criteria.Compliance = &cs
	}
	if req.EmotionalAxis != nil {
		axis := signal.Axis(*req.EmotionalAxis)
		criteria.EmotionalAxis = &axis
	}
	if req.AutonomyLevel != nil {
		al := trail.AutonomyLevel(*req.AutonomyLevel)
		criteria.AutonomyLevel = &al
	}
	return criteria
}

// SafetyCheckRequest evaluates emotional telemetry against a policy
// without touching the chain. A zero policy uses the service gate.
type SafetyCheckRequest struct {
	State  signal.EmotionalState `json:"state"`
	Policy safety.Policy         `json:"policy"`
}
