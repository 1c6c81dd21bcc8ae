package signal

// Axis identifies one of the scored emotional dimensions
type Axis string

const (
	AxisConfidence Axis = "confidence"
	AxisCuriosity  Axis = "curiosity"
	AxisConcern    Axis = "concern"
	AxisExcitement Axis = "excitement"
	AxisClarity    Axis = "clarity"
	AxisAlignment  Axis = "alignment"
)

// Axes lists every scored axis in canonical order
func Axes() []Axis {
	return []Axis{
		AxisConfidence,
		AxisCuriosity,
		AxisConcern,
		AxisExcitement,
		AxisClarity,
		AxisAlignment,
	}
}

// IsValid checks whether the axis is one of the scored dimensions
func (a Axis) IsValid() bool {
	switch a {
	case AxisConfidence, AxisCuriosity, AxisConcern, AxisExcitement, AxisClarity, AxisAlignment:
		return true
	}
	return false
}

// String returns the string representation of the axis
func (a Axis) String() string {
	return string(a)
}

// EmotionalState holds the derived per-interaction telemetry. All scores
// live in [0, 1]. Values are computed once by the Analyzer and never
// mutated afterwards.
type EmotionalState struct {
	Confidence      float64  `json:"confidence"`
	Curiosity       float64  `json:"curiosity"`
	Concern         float64  `json:"concern"`
	Excitement      float64  `json:"excitement"`
	Clarity         float64  `json:"clarity"`
	Alignment       float64  `json:"alignment"`
	OverallSafety   float64  `json:"overall_safety"`
	RiskFactors     []string `json:"risk_factors"`
	Recommendations []string `json:"recommendations"`
}

// Score returns the value for a single axis
func (s EmotionalState) Score(axis Axis) float64 {
	switch axis {
	case AxisConfidence:
		return s.Confidence
	case AxisCuriosity:
		return s.Curiosity
	case AxisConcern:
		return s.Concern
	case AxisExcitement:
		return s.Excitement
	case AxisClarity:
		return s.Clarity
	case AxisAlignment:
		return s.Alignment
	}
	return 0
}

// HasRiskFactors checks whether the analyzer flagged anything
func (s EmotionalState) HasRiskFactors() bool {
	return len(s.RiskFactors) > 0
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
