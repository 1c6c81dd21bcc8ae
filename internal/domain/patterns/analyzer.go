package patterns

import (
	"fmt"
	"math"
	"time"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
)

// DefaultWindowSize bounds the history slice a report covers
const DefaultWindowSize = 100

// Dimension trends use a fixed sensitivity band: the recent third must move
// by more than this against the prior third to leave "stable".
const trendBand = 0.05

// Latency outliers sit above mean plus this many standard deviations
const outlierSigma = 2.0

// Trust volatility above this marks the agent as erratic
const volatilityCeiling = 0.15

// Analyzer computes pattern reports over immutable history windows. It is
// stateless and safe for concurrent use; the same window always produces
// the same report.
type Analyzer struct {
	windowSize int
}

// NewAnalyzer creates an analyzer with the default window bound
func NewAnalyzer() *Analyzer {
	return &Analyzer{windowSize: DefaultWindowSize}
}

// NewAnalyzerWithWindow creates an analyzer with a custom window bound.
// Sizes below one fall back to the default.
func NewAnalyzerWithWindow(size int) *Analyzer {
	if size < 1 {
		size = DefaultWindowSize
	}
	return &Analyzer{windowSize: size}
}

// WindowSize returns the analyzer's window bound
func (a *Analyzer) WindowSize() int {
	return a.windowSize
}

// Analyze computes the report for one agent's history. Entries must be in
// chain order, oldest first; only the trailing window is analyzed. Empty
// history is not an error: it yields a neutral report.
func (a *Analyzer) Analyze(agentID string, entries []*trail.Entry) *Report {
	if len(entries) > a.windowSize {
		entries = entries[len(entries)-a.windowSize:]
	}

	report := &Report{
		AgentID:         agentID,
		EntriesAnalyzed: len(entries),
		ResponseTime:    ResponseTimeSummary{Trend: TrendStable, Outliers: make([]Outlier, 0)},
		Trust:           TrustSummary{Trend: TrendStable},
		Accuracy:        ScoreSummary{Trend: TrendStable},
		Compliance:      ScoreSummary{Trend: TrendStable},
		Safety:          ScoreSummary{Trend: TrendStable},
		RiskLevel:       trail.RiskLow,
		Insights:        make([]string, 0),
		Recommendations: make([]string, 0),
	}

	if len(entries) == 0 {
		report.Insights = append(report.Insights, "no recorded interactions in the analysis window")
		report.Recommendations = append(report.Recommendations, "continue standard monitoring")
		return report
	}

	report.WindowStart = entries[0].Timestamp
	report.WindowEnd = entries[len(entries)-1].Timestamp
	report.LastPosition = entries[len(entries)-1].Chain.Position.Value()

	latencies := make([]float64, len(entries))
	trust := make([]float64, len(entries))
	accuracy := make([]float64, len(entries))
	compliance := make([]float64, len(entries))
	safety := make([]float64, len(entries))
	for i, e := range entries {
		latencies[i] = float64(e.Latency)
		trust[i] = e.Trust.Score
		accuracy[i] = e.Trust.Accuracy
		compliance[i] = e.Compliance.Score
		safety[i] = e.Emotional.OverallSafety
	}

	report.ResponseTime = a.summarizeLatency(entries, latencies)
	report.Trust = TrustSummary{
		Average:    mean(trust),
		Volatility: stddev(trust),
		Trend:      classifyTrend(trust),
	}
	report.Accuracy = ScoreSummary{Average: mean(accuracy), Trend: classifyTrend(accuracy)}
	report.Compliance = ScoreSummary{Average: mean(compliance), Trend: classifyTrend(compliance)}
	report.Safety = ScoreSummary{Average: mean(safety), Trend: classifyTrend(safety)}
	report.RiskLevel = trail.RiskLevelForSafety(report.Safety.Average)

	a.deriveFindings(report)
	return report
}

// summarizeLatency computes the distribution and flags everything above the
// outlier band. The latency trend uses the band relative to the window mean
// so the fixed sensitivity applies regardless of scale; faster is improving.
func (a *Analyzer) summarizeLatency(entries []*trail.Entry, latencies []float64) ResponseTimeSummary {
	m := mean(latencies)
	sd := stddev(latencies)

	summary := ResponseTimeSummary{
		Mean:     time.Duration(m),
		Min:      time.Duration(minOf(latencies)),
		Max:      time.Duration(maxOf(latencies)),
		StdDev:   time.Duration(sd),
		Trend:    TrendStable,
		Outliers: make([]Outlier, 0),
	}

	threshold := m + outlierSigma*sd
	if sd > 0 {
		for i, e := range entries {
			if latencies[i] > threshold {
				summary.Outliers = append(summary.Outliers, Outlier{
					Position:  e.Chain.Position.Value(),
					Latency:   e.Latency,
					Timestamp: e.Timestamp,
				})
			}
		}
	}

	if m > 0 {
		latest, prior, ok := windowThirds(latencies)
		if ok {
			switch delta := (mean(latest) - mean(prior)) / m; {
			case delta < -trendBand:
				summary.Trend = TrendImproving
			case delta > trendBand:
				summary.Trend = TrendDeclining
			}
		}
	}

	return summary
}

// classifyTrend compares the mean of the latest third of the window against
// the third before it. Movement inside the band reads as stable.
func classifyTrend(series []float64) Trend {
	latest, prior, ok := windowThirds(series)
	if !ok {
		return TrendStable
	}

	switch delta := mean(latest) - mean(prior); {
	case delta > trendBand:
		return TrendImproving
	case delta < -trendBand:
		return TrendDeclining
	}
	return TrendStable
}

// windowThirds slices out the two most recent thirds of the series. Windows
// shorter than three points have no thirds to compare.
func windowThirds(series []float64) (latest, prior []float64, ok bool) {
	third := len(series) / 3
	if third == 0 {
		return nil, nil, false
	}
	n := len(series)
	return series[n-third:], series[n-2*third : n-third], true
}

// deriveFindings fills the insight and recommendation strings. Conditions
// are checked in a fixed order so repeated analysis yields identical slices.
func (a *Analyzer) deriveFindings(r *Report) {
	switch r.Trust.Trend {
	case TrendImproving:
		r.Insights = append(r.Insights, "trust score trending up across the window")
	case TrendDeclining:
		r.Insights = append(r.Insights, "trust score trending down across the window")
		r.Recommendations = append(r.Recommendations, "schedule a trust evaluation for this agent")
	}

	if r.Trust.Volatility > volatilityCeiling {
		r.Insights = append(r.Insights,
			fmt.Sprintf("trust score is volatile (stddev %.2f)", r.Trust.Volatility))
		r.Recommendations = append(r.Recommendations, "review interactions around trust swings")
	}

	if r.Compliance.Trend == TrendDeclining {
		r.Insights = append(r.Insights, "compliance scores trending down")
		r.Recommendations = append(r.Recommendations, "review recent interactions against policy")
	}

	if r.Safety.Trend == TrendDeclining {
		r.Insights = append(r.Insights, "safety scores trending down")
	}

	switch r.ResponseTime.Trend {
	case TrendImproving:
		r.Insights = append(r.Insights, "response times trending faster")
	case TrendDeclining:
		r.Insights = append(r.Insights, "response times trending slower")
	}

	if n := len(r.ResponseTime.Outliers); n > 0 {
		r.Insights = append(r.Insights,
			fmt.Sprintf("response-time outliers above the two sigma band: %d", n))
		r.Recommendations = append(r.Recommendations, "investigate response-time outliers")
	}

	switch r.RiskLevel {
	case trail.RiskHigh:
		r.Insights = append(r.Insights,
			fmt.Sprintf("recent safety average %.2f puts the agent in the high risk band", r.Safety.Average))
		r.Recommendations = append(r.Recommendations, "suspend autonomous operation pending review")
	case trail.RiskMedium:
		r.Insights = append(r.Insights,
			fmt.Sprintf("recent safety average %.2f warrants closer oversight", r.Safety.Average))
		r.Recommendations = append(r.Recommendations, "increase sampling of this agent's interactions")
	}

	if len(r.Recommendations) == 0 {
		r.Recommendations = append(r.Recommendations, "continue standard monitoring")
	}
}

func mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

func stddev(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	m := mean(series)
	sum := 0.0
	for _, v := range series {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(series)))
}

func minOf(series []float64) float64 {
	m := series[0]
	for _, v := range series[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(series []float64) float64 {
	m := series[0]
	for _, v := range series[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
