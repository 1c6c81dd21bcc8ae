package insights

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/patterns"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
	"github.com/davidleathers/agent-trust-ledger/internal/metrics"
)

const defaultReportTTL = 5 * time.Minute

// HistorySource is the slice of the entry store the insights service reads
type HistorySource interface {
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*trail.Entry, error)
	Tail(ctx context.Context, agentID string) (*trail.ChainTail, error)
	CountByAgent(ctx context.Context, agentID string) (int64, error)
}

// ReportCache stores computed reports under fingerprint keys. Implementations
// must treat a miss as (nil, false, nil), not an error.
type ReportCache interface {
	Get(ctx context.Context, key string) (*patterns.Report, bool, error)
	Set(ctx context.Context, key string, report *patterns.Report, ttl time.Duration) error
}

// Service computes pattern reports over stored history and caches them by
// window fingerprint. Reports carry no wall-clock fields, so the same chain
// state always yields the same report and cached copies stay exact.
type Service struct {
	logger   *zap.Logger
	source   HistorySource
	analyzer *patterns.Analyzer
	metrics  *metrics.Registry
	cache    ReportCache
	ttl      time.Duration
	tracer   trace.Tracer
}

// Option customizes the insights service
type Option func(*Service)

// WithCache wires a report cache; without one every call recomputes
func WithCache(cache ReportCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithWindowSize overrides the trailing analysis window
func WithWindowSize(size int) Option {
	return func(s *Service) { s.analyzer = patterns.NewAnalyzerWithWindow(size) }
}

// WithTTL overrides how long cached reports live
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New creates the insights service
func New(logger *zap.Logger, source HistorySource, registry *metrics.Registry, opts ...Option) (*Service, error) {
	if source == nil {
		return nil, errors.NewValidationError("MISSING_HISTORY_SOURCE", "history source is required")
	}
	if registry == nil {
		return nil, errors.NewValidationError("MISSING_METRICS", "metrics registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		logger:   logger,
		source:   source,
		analyzer: patterns.NewAnalyzer(),
		metrics:  registry,
		ttl:      defaultReportTTL,
		tracer:   otel.Tracer("insights.service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Analyze returns the pattern report for the agent's current window, served
// from cache when the chain has not moved since the report was computed.
func (s *Service) Analyze(ctx context.Context, agentID string) (*patterns.Report, error) {
	ctx, span := s.tracer.Start(ctx, "Insights.Analyze",
		trace.WithAttributes(attribute.String("agent.id", agentID)),
	)
	defer span.End()

	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}

	start := time.Now()

	key, err := s.fingerprint(ctx, agentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s.cache != nil {
		report, ok, cacheErr := s.cache.Get(ctx, key)
		switch {
		case cacheErr != nil:
			s.logger.Warn("report cache read failed, recomputing",
				zap.String("agent_id", agentID),
				zap.Error(cacheErr),
			)
		case ok:
			s.metrics.RecordPatternAnalysis(ctx, elapsedMS(start), true)
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return report, nil
		}
	}

	window, err := s.source.ListByAgent(ctx, agentID, s.analyzer.WindowSize())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := s.analyzer.Analyze(agentID, window)

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, key, report, s.ttl); cacheErr != nil {
			s.logger.Warn("report cache write failed",
				zap.String("agent_id", agentID),
				zap.Error(cacheErr),
			)
		}
	}

	s.metrics.RecordPatternAnalysis(ctx, elapsedMS(start), false)
	span.SetAttributes(attribute.Int("entries.analyzed", report.EntriesAnalyzed))
	return report, nil
}

// fingerprint identifies the agent's current window. Any append moves both
// the tail position and the count, so stale reports can never be served; old
// keys simply age out.
func (s *Service) fingerprint(ctx context.Context, agentID string) (string, error) {
	tail, err := s.source.Tail(ctx, agentID)
	if err != nil {
		return "", err
	}

	count, err := s.source.CountByAgent(ctx, agentID)
	if err != nil {
		return "", err
	}

	position := int64(-1)
	if tail != nil && tail.Exists {
		position = tail.Position.Value()
	}
	return fmt.Sprintf("%s:%d:%d", agentID, position, count), nil
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
