package safety

import (
	"fmt"
	"strings"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/signal"
)

// DecisionType names the intervention the gate selected
type DecisionType string

const (
	DecisionBlock    DecisionType = "block"
	DecisionWarning  DecisionType = "warning"
	DecisionRedirect DecisionType = "redirect"
	DecisionEnhance  DecisionType = "enhance"
	DecisionNone     DecisionType = "none"
)

// IsValid checks whether the decision type is a known value
func (d DecisionType) IsValid() bool {
	switch d {
	case DecisionBlock, DecisionWarning, DecisionRedirect, DecisionEnhance, DecisionNone:
		return true
	}
	return false
}

// Decision is the gate's verdict for one analyzed interaction. The gate
// never halts anything itself: callers own enforcement.
type Decision struct {
	Required bool         `json:"required"`
	Type     DecisionType `json:"type"`
	Reason   string       `json:"reason"`
	Actions  []string     `json:"actions"`
}

// Policy holds the gate thresholds. Zero-valued fields fall back to the
// defaults, so partial configuration overrides only what it names.
type Policy struct {
	BlockBelow   float64 `json:"block_below"`
	PassAt       float64 `json:"pass_at"`
	EnhanceAbove float64 `json:"enhance_above"`

	// Per-axis limits that trigger a redirect when the overall score
	// passes without margin
	MaxConcern    float64 `json:"max_concern"`
	MinConfidence float64 `json:"min_confidence"`
	MinClarity    float64 `json:"min_clarity"`
	MinAlignment  float64 `json:"min_alignment"`
}

// DefaultPolicy returns the standard threshold set
func DefaultPolicy() Policy {
	return Policy{
		BlockBelow:    0.4,
		PassAt:        0.6,
		EnhanceAbove:  0.8,
		MaxConcern:    0.7,
		MinConfidence: 0.5,
		MinClarity:    0.5,
		MinAlignment:  0.6,
	}
}

// Normalize fills unset thresholds from the defaults
func (p Policy) Normalize() Policy {
	defaults := DefaultPolicy()
	if p.BlockBelow == 0 {
		p.BlockBelow = defaults.BlockBelow
	}
	if p.PassAt == 0 {
		p.PassAt = defaults.PassAt
	}
	if p.EnhanceAbove == 0 {
		p.EnhanceAbove = defaults.EnhanceAbove
	}
	if p.MaxConcern == 0 {
		p.MaxConcern = defaults.MaxConcern
	}
	if p.MinConfidence == 0 {
		p.MinConfidence = defaults.MinConfidence
	}
	if p.MinClarity == 0 {
		p.MinClarity = defaults.MinClarity
	}
	if p.MinAlignment == 0 {
		p.MinAlignment = defaults.MinAlignment
	}
	return p
}

// Gate converts an emotional state into one intervention decision. It is a
// pure policy evaluation: stateless, deterministic, and safe for concurrent
// use.
type Gate struct {
	policy Policy
}

// NewGate creates a gate with the given policy, normalized against defaults
func NewGate(policy Policy) *Gate {
	return &Gate{policy: policy.Normalize()}
}

// NewDefaultGate creates a gate with the standard thresholds
func NewDefaultGate() *Gate {
	return NewGate(DefaultPolicy())
}

// Policy returns the normalized policy in effect
func (g *Gate) Policy() Policy {
	return g.policy
}

// Check evaluates the state against the policy. Band selection walks from
// most to least severe: block, warning, then redirect when the score passes
// without margin while an axis breaches its own limit, then enhance.
func (g *Gate) Check(state signal.EmotionalState) Decision {
	safety := state.OverallSafety

	switch {
	case safety < g.policy.BlockBelow:
		return Decision{
			Required: true,
			Type:     DecisionBlock,
			Reason: fmt.Sprintf("overall safety %.2f below the block threshold %.2f",
				safety, g.policy.BlockBelow),
			Actions: []string{
				"stop the current operation",
				"escalate to a human reviewer",
			},
		}

	case safety < g.policy.PassAt:
		return Decision{
			Required: true,
			Type:     DecisionWarning,
			Reason: fmt.Sprintf("overall safety %.2f below the pass threshold %.2f",
				safety, g.policy.PassAt),
			Actions: []string{
				"flag the interaction for review",
				"notify the operator channel",
			},
		}
	}

	if safety <= g.policy.EnhanceAbove {
		if breached := g.breachedAxes(state); len(breached) > 0 {
			return Decision{
				Required: true,
				Type:     DecisionRedirect,
				Reason: fmt.Sprintf("passed without margin while %s breached its limit",
					strings.Join(breached, ", ")),
				Actions: []string{
					"steer the agent back to the request",
					"ask the agent to clarify its response",
				},
			}
		}

		return Decision{
			Required: false,
			Type:     DecisionNone,
			Reason:   fmt.Sprintf("overall safety %.2f within normal bounds", safety),
			Actions:  []string{},
		}
	}

	return Decision{
		Required: false,
		Type:     DecisionEnhance,
		Reason: fmt.Sprintf("overall safety %.2f above the enhancement threshold %.2f",
			safety, g.policy.EnhanceAbove),
		Actions: []string{"reinforce current behavior"},
	}
}

// breachedAxes lists axes outside their limits, in fixed order so repeated
// checks produce identical decisions.
func (g *Gate) breachedAxes(state signal.EmotionalState) []string {
	breached := make([]string, 0, 4)
	if state.Concern > g.policy.MaxConcern {
		breached = append(breached, string(signal.AxisConcern))
	}
	if state.Confidence < g.policy.MinConfidence {
		breached = append(breached, string(signal.AxisConfidence))
	}
	if state.Clarity < g.policy.MinClarity {
		breached = append(breached, string(signal.AxisClarity))
	}
	if state.Alignment < g.policy.MinAlignment {
		breached = append(breached, string(signal.AxisAlignment))
	}
	return breached
}
