package patterns

import (
	"time"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
)

// Trend classifies how a dimension moved across the analysis window
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Report is the derived pattern view over one agent's recent history. It is
// recomputed on demand and cached by window fingerprint, never persisted as
// ledger truth.
//
// The report carries no generation timestamp: identical windows must yield
// byte-identical reports, so every field derives from entry data alone.
type Report struct {
	AgentID         string    `json:"agent_id"`
	EntriesAnalyzed int       `json:"entries_analyzed"`
	WindowStart     time.Time `json:"window_start,omitzero"`
	WindowEnd       time.Time `json:"window_end,omitzero"`
	LastPosition    int64     `json:"last_position"`

	ResponseTime ResponseTimeSummary `json:"response_time"`
	Trust        TrustSummary        `json:"trust"`
	Accuracy     ScoreSummary        `json:"accuracy"`
	Compliance   ScoreSummary        `json:"compliance"`
	Safety       ScoreSummary        `json:"safety"`

	RiskLevel       trail.RiskLevel `json:"risk_level"`
	Insights        []string        `json:"insights"`
	Recommendations []string        `json:"recommendations"`
}

// ResponseTimeSummary describes the latency distribution of the window
type ResponseTimeSummary struct {
	Mean     time.Duration `json:"mean_ns"`
	Min      time.Duration `json:"min_ns"`
	Max      time.Duration `json:"max_ns"`
	StdDev   time.Duration `json:"std_dev_ns"`
	Trend    Trend         `json:"trend"`
	Outliers []Outlier     `json:"outliers"`
}

// Outlier marks one entry whose latency sits above the two sigma band
type Outlier struct {
	Position  int64         `json:"position"`
	Latency   time.Duration `json:"latency_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// TrustSummary is the trust dimension with its volatility measure
type TrustSummary struct {
	Average    float64 `json:"average"`
	Volatility float64 `json:"volatility"`
	Trend      Trend   `json:"trend"`
}

// ScoreSummary is the running average and trend of one score dimension
type ScoreSummary struct {
	Average float64 `json:"average"`
	Trend   Trend   `json:"trend"`
}
