package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/patterns"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/safety"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/signal"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/values"
	"github.com/davidleathers/agent-trust-ledger/internal/metrics"
)

// Config configures the ledger service
type Config struct {
	// Async recorder
	AsyncWorkers int // default: 4
	AsyncBuffer  int // default: 1024

	// Store I/O
	WriteTimeout time.Duration // default: 5s

	// Gate thresholds; zero fields fall back to the defaults
	Gate safety.Policy
}

// DefaultConfig returns the standard service configuration
func DefaultConfig() Config {
	return Config{
		AsyncWorkers: 4,
		AsyncBuffer:  1024,
		WriteTimeout: 5 * time.Second,
	}
}

func (c Config) normalize() Config {
	if c.AsyncWorkers <= 0 {
		c.AsyncWorkers = 4
	}
	if c.AsyncBuffer <= 0 {
		c.AsyncBuffer = 1024
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// RecordOutcome is the result of recording one interaction: the sealed,
// durably committed entry plus the synchronous gate decision.
type RecordOutcome struct {
	Entry  *trail.Entry    `json:"entry"`
	Safety safety.Decision `json:"safety"`
}

// Stats is a point-in-time snapshot of the service counters
type Stats struct {
	Appended   int64 `json:"appended"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	QueueDepth int   `json:"queue_depth"`
}

// Service is the audit trail facade: it runs the analyze, build, append
// pipeline and serves reads. Appends are serialized per agent through keyed
// lanes; everything else is safe for unbounded concurrency.
type Service struct {
	config  Config
	logger  *zap.Logger
	repo    trail.EntryRepository
	cache   EntryCache
	metrics *metrics.Registry

	analyzer *signal.Analyzer
	gate     *safety.Gate
	reports  *patterns.Analyzer

	// Optional collaborators
	scorer        trail.TrustScorer
	notifier      EntryNotifier
	patternSource PatternSource

	lanes  *laneSet
	async  *asyncRecorder
	tracer trace.Tracer

	appended int64
	failed   int64
}

// Option customizes optional service collaborators
type Option func(*Service)

// WithTrustScorer plugs in a trust evaluation collaborator; without one the
// entry builder's fixed policy defaults apply.
func WithTrustScorer(scorer trail.TrustScorer) Option {
	return func(s *Service) { s.scorer = scorer }
}

// WithNotifier wires a post-commit entry notifier (live feeds)
func WithNotifier(notifier EntryNotifier) Option {
	return func(s *Service) { s.notifier = notifier }
}

// WithPatternSource routes AnalyzePatterns through a caching report source
func WithPatternSource(source PatternSource) Option {
	return func(s *Service) { s.patternSource = source }
}

// New creates the ledger service and starts its async workers. The cache is
// optional; a nil cache serves every read from the durable store.
func New(
	ctx context.Context,
	config Config,
	logger *zap.Logger,
	repo trail.EntryRepository,
	cache EntryCache,
	registry *metrics.Registry,
	opts ...Option,
) (*Service, error) {
	if repo == nil {
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "entry repository is required")
	}
	if registry == nil {
		return nil, errors.NewValidationError("MISSING_METRICS", "metrics registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		config:   config.normalize(),
		logger:   logger,
		repo:     repo,
		cache:    cache,
		metrics:  registry,
		analyzer: signal.NewAnalyzer(),
		gate:     safety.NewGate(config.Gate),
		reports:  patterns.NewAnalyzer(),
		lanes:    newLaneSet(),
		tracer:   otel.Tracer("ledger.service"),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.async = newAsyncRecorder(ctx, s)

	logger.Info("ledger service initialized",
		zap.Int("async_workers", s.config.AsyncWorkers),
		zap.Int("async_buffer", s.config.AsyncBuffer),
		zap.Bool("cache_enabled", cache != nil),
	)

	return s, nil
}

// RecordInteraction runs the full pipeline for one interaction: analyze,
// gate, build, seal, commit. The gate decision is computed concurrently with
// entry construction since both depend only on the analyzed state. The
// returned entry is durably committed and chain-linked.
func (s *Service) RecordInteraction(ctx context.Context, descriptor trail.ContextDescriptor, record trail.InteractionRecord) (*RecordOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "Service.RecordInteraction",
		trace.WithAttributes(
			attribute.String("agent.id", record.AgentID),
			attribute.String("interaction.id", record.InteractionID),
		),
	)
	defer span.End()

	start := time.Now()

	// Reject malformed input before touching any chain state
	if err := record.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	state := s.analyzer.Analyze(record.InputText, record.OutputText)

	decisionCh := make(chan safety.Decision, 1)
	go func() {
		decisionCh <- s.gate.Check(state)
	}()

	entry, err := s.append(ctx, descriptor, record, state)

	decision := <-decisionCh
	s.metrics.RecordGateDecision(ctx, string(decision.Type), decision.Required, state.OverallSafety)

	elapsed := time.Since(start)
	s.metrics.RecordAppend(ctx, float64(elapsed.Microseconds())/1000.0,
		string(descriptor.Normalize().ContextType), err == nil)

	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		span.RecordError(err)
		s.logger.Error("interaction record failed",
			zap.String("agent_id", record.AgentID),
			zap.String("interaction_id", record.InteractionID),
			zap.Error(err),
		)
		return nil, err
	}

	atomic.AddInt64(&s.appended, 1)
	span.SetAttributes(
		attribute.Int64("chain.position", entry.Chain.Position.Value()),
		attribute.String("safety.decision", string(decision.Type)),
	)

	if decision.Required {
		s.logger.Warn("safety intervention required",
			zap.String("agent_id", record.AgentID),
			zap.String("decision", string(decision.Type)),
			zap.Float64("overall_safety", state.OverallSafety),
		)
	}

	if s.notifier != nil {
		s.notifier.NotifyAppended(entry)
	}

	return &RecordOutcome{Entry: entry, Safety: decision}, nil
}

// append builds, seals, and durably commits the entry under the agent's
// lane. The lane tail only advances after the store write succeeds, so a
// failed append leaves chain state exactly as it was.
func (s *Service) append(ctx context.Context, descriptor trail.ContextDescriptor, record trail.InteractionRecord, state signal.EmotionalState) (*trail.Entry, error) {
	l := s.lanes.acquire(record.AgentID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.hydrate(ctx, s.repo, record.AgentID); err != nil {
		return nil, err
	}

	builder := trail.NewBuilder(record, descriptor).WithSignals(state)
	if s.scorer != nil {
		builder = builder.WithTrustScorer(s.scorer)
	}

	var previous = l.tail.Hash
	var position = values.GenesisPosition()
	if l.tail.Exists {
		next, err := l.tail.Position.Next()
		if err != nil {
			return nil, err
		}
		position = next
		builder = builder.WithPriorTrust(l.tail.TrustScore)
	}

	entry, err := builder.Build()
	if err != nil {
		return nil, err
	}

	if err := entry.Seal(previous, position); err != nil {
		return nil, err
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
	defer cancel()

	if err := s.repo.Append(writeCtx, entry); err != nil {
		return nil, err
	}

	l.advance(entry)

	// Cache updates happen after the durable commit and never fail the
	// append.
	if s.cache != nil {
		if err := s.cache.Push(ctx, entry); err != nil {
			s.logger.Warn("entry cache push failed",
				zap.String("agent_id", entry.AgentID),
				zap.Error(err),
			)
		}
	}

	return entry, nil
}

// GetHistory returns the agent's most recent entries in chain order. Reads
// are served from the recency cache only when the requested window fits
// entirely inside it.
func (s *Service) GetHistory(ctx context.Context, agentID string, filter trail.HistoryFilter) ([]*trail.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "Service.GetHistory",
		trace.WithAttributes(attribute.String("agent.id", agentID)),
	)
	defer span.End()

	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}
	filter = filter.Normalize()

	if s.cache != nil {
		entries, complete, err := s.cache.Recent(ctx, agentID, filter.Limit)
		switch {
		case err != nil:
			s.logger.Warn("entry cache read failed, bypassing",
				zap.String("agent_id", agentID),
				zap.Error(err),
			)
			s.metrics.RecordEntryCacheLookup(false)
		case complete:
			s.metrics.RecordEntryCacheLookup(true)
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return entries, nil
		default:
			s.metrics.RecordEntryCacheLookup(false)
		}
	}

	entries, err := s.repo.ListByAgent(ctx, agentID, filter.Limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return entries, nil
}

// Search applies the criteria conjunction over the agent's history,
// preserving chain order. An empty result is a successful outcome.
func (s *Service) Search(ctx context.Context, agentID string, criteria trail.SearchCriteria) ([]*trail.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Search",
		trace.WithAttributes(attribute.String("agent.id", agentID)),
	)
	defer span.End()

	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}
	if err := criteria.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	entries, err := s.repo.Search(ctx, agentID, criteria.Normalize())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("result.count", len(entries)))
	return entries, nil
}

// AnalyzePatterns produces the pattern report for an agent, through the
// caching report source when one is wired.
func (s *Service) AnalyzePatterns(ctx context.Context, agentID string) (*patterns.Report, error) {
	ctx, span := s.tracer.Start(ctx, "Service.AnalyzePatterns",
		trace.WithAttributes(attribute.String("agent.id", agentID)),
	)
	defer span.End()

	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}

	if s.patternSource != nil {
		report, err := s.patternSource.Analyze(ctx, agentID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		return report, nil
	}

	start := time.Now()
	window, err := s.repo.ListByAgent(ctx, agentID, s.reports.WindowSize())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := s.reports.Analyze(agentID, window)
	s.metrics.RecordPatternAnalysis(ctx, float64(time.Since(start).Microseconds())/1000.0, false)
	return report, nil
}

// CheckSafety evaluates an emotional state against a threshold policy. A
// zero policy uses the service defaults.
func (s *Service) CheckSafety(state signal.EmotionalState, policy safety.Policy) safety.Decision {
	gate := s.gate
	if policy != (safety.Policy{}) {
		gate = safety.NewGate(policy)
	}
	return gate.Check(state)
}

// VerifyChain replays the agent's stored sequence and reports the first
// broken link as a value. A valid result proves the stored history has not
// been reordered, truncated in the middle, or rewritten.
func (s *Service) VerifyChain(ctx context.Context, agentID string) (*trail.ChainVerification, error) {
	ctx, span := s.tracer.Start(ctx, "Service.VerifyChain",
		trace.WithAttributes(attribute.String("agent.id", agentID)),
	)
	defer span.End()

	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}

	start := time.Now()
	chain, err := s.repo.ChainByAgent(ctx, agentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := trail.NewVerifier().VerifySequential(chain)
	s.metrics.RecordChainVerification(ctx,
		float64(time.Since(start).Microseconds())/1000.0,
		result.Valid, len(result.Breaks))

	if !result.Valid {
		s.logger.Error("chain verification failed",
			zap.String("agent_id", agentID),
			zap.Int64p("broken_at", result.BrokenAt),
			zap.String("reason", result.Reason),
		)
	}

	span.SetAttributes(attribute.Bool("chain.valid", result.Valid))
	return result, nil
}

// Stats returns a snapshot of the service counters
func (s *Service) Stats() Stats {
	return Stats{
		Appended:   atomic.LoadInt64(&s.appended),
		Failed:     atomic.LoadInt64(&s.failed),
		Dropped:    s.async.droppedCount(),
		QueueDepth: s.async.queueDepth(),
	}
}

// Health reports whether the service can accept work
func (s *Service) Health() error {
	if !s.async.running() {
		return errors.NewInternalError("ledger service not running")
	}

	if usage := s.async.queueUsage(); usage > 0.9 {
		return errors.NewInternalError(fmt.Sprintf("async queue nearly full: %.0f%%", usage*100))
	}

	return nil
}

// Close drains the async recorder and stops the workers
func (s *Service) Close() error {
	s.logger.Info("shutting down ledger service")
	return s.async.close(s.config.WriteTimeout * 2)
}
