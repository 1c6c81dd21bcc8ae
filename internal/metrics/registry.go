package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the application
type Registry struct {
	meter metric.Meter

	// Ledger Metrics
	AppendDuration   metric.Float64Histogram
	AppendSuccess    metric.Int64Counter
	AppendFailure    metric.Int64Counter
	AppendsPerSecond metric.Float64ObservableGauge
	AsyncQueueDepth  metric.Int64ObservableGauge
	AsyncDropped     metric.Int64Counter

	// Chain Metrics
	VerifyDuration     metric.Float64Histogram
	ChainVerifications metric.Int64Counter
	ChainBreaks        metric.Int64Counter

	// Safety Metrics
	GateDecisions metric.Int64Counter
	Interventions metric.Int64Counter
	SafetyScore   metric.Float64Histogram

	// Pattern Metrics
	AnalysisDuration   metric.Float64Histogram
	AnalysisCounter    metric.Int64Counter
	ReportCacheHitRate metric.Float64ObservableGauge

	// System Metrics
	DatabaseConnectionPool metric.Int64ObservableGauge
	EntryCacheHitRate      metric.Float64ObservableGauge
	APIRequestDuration     metric.Float64Histogram
	APIRequestCounter      metric.Int64Counter

	// State for observable metrics
	mu                 sync.RWMutex
	asyncQueueDepth    int64
	dbPoolSize         int64
	appendsProcessed   int64
	lastAppendCount    int64
	lastAppendTime     time.Time
	entryCacheHits     int64
	entryCacheLookups  int64
	reportCacheHits    int64
	reportCacheLookups int64
}

// NewRegistry creates a new metrics registry with all domain metrics
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{
		meter:          meter,
		lastAppendTime: time.Now(),
	}

	if err := r.initLedgerMetrics(); err != nil {
		return nil, err
	}

	if err := r.initChainMetrics(); err != nil {
		return nil, err
	}

	if err := r.initSafetyMetrics(); err != nil {
		return nil, err
	}

	if err := r.initPatternMetrics(); err != nil {
		return nil, err
	}

	if err := r.initSystemMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

// initLedgerMetrics initializes append-path metrics
func (r *Registry) initLedgerMetrics() error {
	var err error

	// Append duration histogram
	r.AppendDuration, err = r.meter.Float64Histogram(
		"atl.ledger.append_duration",
		metric.WithDescription("Duration of ledger appends in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000),
	)
	if err != nil {
		return err
	}

	// Appends per second gauge
	r.AppendsPerSecond, err = r.meter.Float64ObservableGauge(
		"atl.ledger.append_throughput_per_second",
		metric.WithDescription("Current ledger append throughput per second"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.Lock()
			defer r.mu.Unlock()

			now := time.Now()
			elapsed := now.Sub(r.lastAppendTime).Seconds()
			if elapsed > 0 {
				rate := float64(r.appendsProcessed-r.lastAppendCount) / elapsed
				o.Observe(rate)
				r.lastAppendCount = r.appendsProcessed
				r.lastAppendTime = now
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	// Append counters
	r.AppendSuccess, err = r.meter.Int64Counter(
		"atl.ledger.append_success_total",
		metric.WithDescription("Total number of successful ledger appends"),
	)
	if err != nil {
		return err
	}

	r.AppendFailure, err = r.meter.Int64Counter(
		"atl.ledger.append_failure_total",
		metric.WithDescription("Total number of failed ledger appends"),
	)
	if err != nil {
		return err
	}

	// Async recorder queue depth
	r.AsyncQueueDepth, err = r.meter.Int64ObservableGauge(
		"atl.ledger.async_queue_depth",
		metric.WithDescription("Current depth of the async record queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.asyncQueueDepth)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.AsyncDropped, err = r.meter.Int64Counter(
		"atl.ledger.async_dropped_total",
		metric.WithDescription("Total records dropped by the async queue"),
	)

	return err
}

// initChainMetrics initializes verification metrics
func (r *Registry) initChainMetrics() error {
	var err error

	r.VerifyDuration, err = r.meter.Float64Histogram(
		"atl.chain.verify_duration",
		metric.WithDescription("Chain verification duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.ChainVerifications, err = r.meter.Int64Counter(
		"atl.chain.verification_total",
		metric.WithDescription("Total chain verifications performed"),
	)
	if err != nil {
		return err
	}

	r.ChainBreaks, err = r.meter.Int64Counter(
		"atl.chain.break_total",
		metric.WithDescription("Total chain breaks detected"),
	)

	return err
}

// initSafetyMetrics initializes gate metrics
func (r *Registry) initSafetyMetrics() error {
	var err error

	r.GateDecisions, err = r.meter.Int64Counter(
		"atl.safety.gate_decision_total",
		metric.WithDescription("Total safety gate decisions by type"),
	)
	if err != nil {
		return err
	}

	r.Interventions, err = r.meter.Int64Counter(
		"atl.safety.intervention_total",
		metric.WithDescription("Total decisions that required intervention"),
	)
	if err != nil {
		return err
	}

	r.SafetyScore, err = r.meter.Float64Histogram(
		"atl.safety.overall_score",
		metric.WithDescription("Distribution of overall safety scores"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9),
	)

	return err
}

// initPatternMetrics initializes analysis metrics
func (r *Registry) initPatternMetrics() error {
	var err error

	r.AnalysisDuration, err = r.meter.Float64Histogram(
		"atl.patterns.analysis_duration",
		metric.WithDescription("Pattern analysis duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100),
	)
	if err != nil {
		return err
	}

	r.AnalysisCounter, err = r.meter.Int64Counter(
		"atl.patterns.analysis_total",
		metric.WithDescription("Total pattern analyses performed"),
	)
	if err != nil {
		return err
	}

	r.ReportCacheHitRate, err = r.meter.Float64ObservableGauge(
		"atl.patterns.report_cache_hit_rate",
		metric.WithDescription("Hit rate of the pattern report cache"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			if r.reportCacheLookups > 0 {
				o.Observe(float64(r.reportCacheHits) / float64(r.reportCacheLookups))
			}
			return nil
		}),
	)

	return err
}

// initSystemMetrics initializes system-level metrics
func (r *Registry) initSystemMetrics() error {
	var err error

	r.DatabaseConnectionPool, err = r.meter.Int64ObservableGauge(
		"atl.system.db_connection_pool_size",
		metric.WithDescription("Current database connection pool size"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.dbPoolSize)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.EntryCacheHitRate, err = r.meter.Float64ObservableGauge(
		"atl.system.entry_cache_hit_rate",
		metric.WithDescription("Hit rate of the entry recency cache"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			if r.entryCacheLookups > 0 {
				o.Observe(float64(r.entryCacheHits) / float64(r.entryCacheLookups))
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"atl.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"atl.api.request_total",
		metric.WithDescription("Total number of API requests"),
	)

	return err
}

// Helper methods for updating observable metric values

// SetAsyncQueueDepth sets the async record queue depth
func (r *Registry) SetAsyncQueueDepth(depth int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asyncQueueDepth = depth
}

// SetDBPoolSize sets the database connection pool size
func (r *Registry) SetDBPoolSize(size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbPoolSize = size
}

// RecordEntryCacheLookup counts one recency cache lookup
func (r *Registry) RecordEntryCacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryCacheLookups++
	if hit {
		r.entryCacheHits++
	}
}

// Helper methods for recording metrics with common attribute patterns

// RecordAppend records append path metrics
func (r *Registry) RecordAppend(ctx context.Context, durationMS float64, contextType string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("context_type", contextType),
		attribute.Bool("success", success),
	}

	r.AppendDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))

	if success {
		r.AppendSuccess.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		r.AppendFailure.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	r.mu.Lock()
	r.appendsProcessed++
	r.mu.Unlock()
}

// RecordAsyncDrop counts a record dropped by the async queue
func (r *Registry) RecordAsyncDrop(ctx context.Context, reason string) {
	r.AsyncDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordChainVerification records verification metrics
func (r *Registry) RecordChainVerification(ctx context.Context, durationMS float64, valid bool, breaks int) {
	attrs := []attribute.KeyValue{
		attribute.Bool("valid", valid),
	}

	r.VerifyDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))
	r.ChainVerifications.Add(ctx, 1, metric.WithAttributes(attrs...))

	if breaks > 0 {
		r.ChainBreaks.Add(ctx, int64(breaks))
	}
}

// RecordGateDecision records safety gate metrics
func (r *Registry) RecordGateDecision(ctx context.Context, decisionType string, required bool, overallSafety float64) {
	attrs := []attribute.KeyValue{
		attribute.String("decision", decisionType),
		attribute.Bool("required", required),
	}

	r.GateDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
	r.SafetyScore.Record(ctx, overallSafety)

	if required {
		r.Interventions.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordPatternAnalysis records analysis metrics including cache behavior
func (r *Registry) RecordPatternAnalysis(ctx context.Context, durationMS float64, cacheHit bool) {
	attrs := []attribute.KeyValue{
		attribute.Bool("cache_hit", cacheHit),
	}

	r.AnalysisDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))
	r.AnalysisCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	r.mu.Lock()
	r.reportCacheLookups++
	if cacheHit {
		r.reportCacheHits++
	}
	r.mu.Unlock()
}

// RecordAPIRequest records API request metrics
func (r *Registry) RecordAPIRequest(ctx context.Context, durationMS float64, method, path string, statusCode int) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	}

	r.APIRequestDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))
	r.APIRequestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
