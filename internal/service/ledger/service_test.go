package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/patterns"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/safety"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/signal"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
	"github.com/davidleathers/agent-trust-ledger/internal/metrics"
)

func ptr[T any](v T) *T {
	return &v
}

// memoryRepo is an in-memory EntryRepository for tests. appendGate, when
// set, makes Append block until the channel is closed.
type memoryRepo struct {
	mu         sync.Mutex
	chains     map[string][]*trail.Entry
	byID       map[uuid.UUID]*trail.Entry
	appendErr  error
	appendGate chan struct{}
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		chains: make(map[string][]*trail.Entry),
		byID:   make(map[uuid.UUID]*trail.Entry),
	}
}

func (m *memoryRepo) failNextAppend(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

func (m *memoryRepo) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains = make(map[string][]*trail.Entry)
	m.byID = make(map[uuid.UUID]*trail.Entry)
}

func (m *memoryRepo) Append(ctx context.Context, entry *trail.Entry) error {
	if m.appendGate != nil {
		select {
		case <-m.appendGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		err := m.appendErr
		m.appendErr = nil
		return err
	}

	m.chains[entry.AgentID] = append(m.chains[entry.AgentID], entry)
	m.byID[entry.ID] = entry
	return nil
}

func (m *memoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*trail.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byID[id]
	if !ok {
		return nil, errors.ErrEntryNotFound
	}
	return entry, nil
}

func (m *memoryRepo) ListByAgent(ctx context.Context, agentID string, limit int) ([]*trail.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.chains[agentID]
	if limit > 0 && len(chain) > limit {
		chain = chain[len(chain)-limit:]
	}
	out := make([]*trail.Entry, len(chain))
	copy(out, chain)
	return out, nil
}

func (m *memoryRepo) ChainByAgent(ctx context.Context, agentID string) ([]*trail.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.chains[agentID]
	out := make([]*trail.Entry, len(chain))
	copy(out, chain)
	return out, nil
}

func (m *memoryRepo) Search(ctx context.Context, agentID string, criteria trail.SearchCriteria) ([]*trail.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]*trail.Entry, 0)
	for _, entry := range m.chains[agentID] {
		if criteria.Matches(entry) {
			matched = append(matched, entry)
		}
	}
	if criteria.Limit > 0 && len(matched) > criteria.Limit {
		matched = matched[len(matched)-criteria.Limit:]
	}
	return matched, nil
}

func (m *memoryRepo) Tail(ctx context.Context, agentID string) (*trail.ChainTail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.chains[agentID]
	if len(chain) == 0 {
		return &trail.ChainTail{}, nil
	}
	last := chain[len(chain)-1]
	return &trail.ChainTail{
		Position:   last.Chain.Position,
		Hash:       last.Chain.ContentHash,
		TrustScore: last.Trust.Score,
		Exists:     true,
	}, nil
}

func (m *memoryRepo) CountByAgent(ctx context.Context, agentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.chains[agentID])), nil
}

// memoryCache is an in-memory EntryCache holding a bounded recency window
type memoryCache struct {
	mu        sync.Mutex
	recent    map[string][]*trail.Entry
	window    int
	pushErr   error
	recentErr error
}

func newMemoryCache(window int) *memoryCache {
	return &memoryCache{
		recent: make(map[string][]*trail.Entry),
		window: window,
	}
}

func (c *memoryCache) Recent(ctx context.Context, agentID string, limit int) ([]*trail.Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recentErr != nil {
		return nil, false, c.recentErr
	}
	cached := c.recent[agentID]
	if len(cached) < limit {
		return nil, false, nil
	}
	out := make([]*trail.Entry, limit)
	copy(out, cached[len(cached)-limit:])
	return out, true, nil
}

func (c *memoryCache) Push(ctx context.Context, entry *trail.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pushErr != nil {
		return c.pushErr
	}
	list := append(c.recent[entry.AgentID], entry)
	if len(list) > c.window {
		list = list[len(list)-c.window:]
	}
	c.recent[entry.AgentID] = list
	return nil
}

func (c *memoryCache) Invalidate(ctx context.Context, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.recent, agentID)
	return nil
}

type captureNotifier struct {
	mu      sync.Mutex
	entries []*trail.Entry
}

func (n *captureNotifier) NotifyAppended(entry *trail.Entry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, entry)
}

func (n *captureNotifier) captured() []*trail.Entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*trail.Entry, len(n.entries))
	copy(out, n.entries)
	return out
}

type stubPatternSource struct {
	report *patterns.Report
	err    error
	calls  int
}

func (s *stubPatternSource) Analyze(ctx context.Context, agentID string) (*patterns.Report, error) {
	s.calls++
	return s.report, s.err
}

func newTestService(t *testing.T, config Config, repo trail.EntryRepository, cache EntryCache, opts ...Option) *Service {
	t.Helper()

	registry, err := metrics.NewRegistry("atl.ledger.test")
	require.NoError(t, err)

	svc, err := New(context.Background(), config, zap.NewNop(), repo, cache, registry, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func calmRecord(agentID, interactionID string) trail.InteractionRecord {
	return trail.InteractionRecord{
		AgentID:       agentID,
		UserID:        "user-1",
		SessionID:     "session-1",
		InteractionID: interactionID,
		Provider:      "openai",
		Model:         "gpt-4o",
		InputText:     "Summarize the deployment checklist.",
		OutputText:    "The deployment checklist covers build, test, and rollout stages.",
		Latency:       250 * time.Millisecond,
		TokensIn:      40,
		TokensOut:     80,
		Success:       true,
	}
}

func alarmedRecord(agentID, interactionID string) trail.InteractionRecord {
	r := calmRecord(agentID, interactionID)
	r.InputText = "Please review the security status of this system."
	r.OutputText = "This action could be dangerous and involves a security breach with unauthorized access."
	return r
}

func TestNewValidatesDependencies(t *testing.T) {
	registry, err := metrics.NewRegistry("atl.ledger.test")
	require.NoError(t, err)

	_, err = New(context.Background(), DefaultConfig(), zap.NewNop(), nil, nil, registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING_REPOSITORY")

	_, err = New(context.Background(), DefaultConfig(), zap.NewNop(), newMemoryRepo(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING_METRICS")

	svc, err := New(context.Background(), DefaultConfig(), nil, newMemoryRepo(), nil, registry)
	require.NoError(t, err)
	require.NoError(t, svc.Close())
}

func TestRecordInteractionBuildsChain(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, DefaultConfig(), repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		outcome, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{},
			calmRecord("agent-1", fmt.Sprintf("int-%d", i)))
		require.NoError(t, err)
		require.NotNil(t, outcome.Entry)
		assert.Equal(t, int64(i), outcome.Entry.Chain.Position.Value())
		assert.True(t, outcome.Entry.IsSealed())
	}

	chain, err := repo.ChainByAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, chain, 3)

	assert.True(t, chain[0].Chain.PreviousHash.IsEmpty())
	assert.True(t, chain[1].Chain.PreviousHash.Equal(chain[0].Chain.ContentHash))
	assert.True(t, chain[2].Chain.PreviousHash.Equal(chain[1].Chain.ContentHash))

	result, err := svc.VerifyChain(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 3, result.Checked)
}

func TestRecordInteractionGateOutcomes(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, DefaultConfig(), repo, nil)
	ctx := context.Background()

	calm, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{}, calmRecord("agent-1", "int-1"))
	require.NoError(t, err)
	assert.Equal(t, safety.DecisionNone, calm.Safety.Type)
	assert.False(t, calm.Safety.Required)

	alarmed, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{}, alarmedRecord("agent-1", "int-2"))
	require.NoError(t, err)
	assert.Equal(t, safety.DecisionWarning, alarmed.Safety.Type)
	assert.True(t, alarmed.Safety.Required)

	// Interventions do not stop the append: the concerning exchange is
	// exactly what the trail must retain.
	count, err := repo.CountByAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRecordInteractionPriorTrust(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, DefaultConfig(), repo, nil)
	ctx := context.Background()

	first, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{}, calmRecord("agent-1", "int-1"))
	require.NoError(t, err)
	assert.Zero(t, first.Entry.Trust.Delta)

	second, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{}, alarmedRecord("agent-1", "int-2"))
	require.NoError(t, err)
	assert.InDelta(t, second.Entry.Trust.Score-first.Entry.Trust.Score,
		second.Entry.Trust.Delta, 1e-9)
	assert.Negative(t, second.Entry.Trust.Delta)
}

func TestRecordInteractionRejectsInvalidRecord(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, DefaultConfig(), repo, nil)
	ctx := context.Background()

	_, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{}, calmRecord("", "int-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING_AGENT_ID")

	count, err := repo.CountByAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAppendFailureLeavesChainIntact(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, DefaultConfig(), repo, nil)
	ctx := context.Background()

	first, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{}, calmRecord("agent-1", "int-1"))
	require.NoError(t, err)

	repo.failNextAppend(errors.NewStorageError("insert", nil))
	_, err = svc.RecordInteraction(ctx, trail.ContextDescriptor{}, calmRecord("agent-1", "int-2"))
	require.Error(t, err)

	// The failed write must not advance the chain: the retry lands at the
	// position the failed attempt would have taken.
	third, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{}, calmRecord("agent-1", "int-3"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), third.Entry.Chain.Position.Value())
	assert.True(t, third.Entry.Chain.PreviousHash.Equal(first.Entry.Chain.ContentHash))

	result, err := svc.VerifyChain(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.Checked)

	stats := svc.Stats()
	assert.Equal(t, int64(2), stats.Appended)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestRecordInteractionConcurrentAgents(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, DefaultConfig(), repo, nil)
	ctx := context.Background()

	agents := []string{"agent-a", "agent-b", "agent-c", "agent-d"}
	perAgent := 25

	var wg sync.WaitGroup
	errs := make(chan error, len(agents)*perAgent)
	for _, agentID := range agents {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			for i := 0; i < perAgent; i++ {
				_, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{},
					calmRecord(agentID, fmt.Sprintf("%s-int-%d", agentID, i)))
				if err != nil {
					errs <- err
				}
			}
		}(agentID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent append failed: %v", err)
	}

	for _, agentID := range agents {
		chain, err := repo.ChainByAgent(ctx, agentID)
		require.NoError(t, err)
		require.Len(t, chain, perAgent)
		for i, entry := range chain {
			assert.Equal(t, int64(i), entry.Chain.Position.Value())
		}

		result, err := svc.VerifyChain(ctx, agentID)
		require.NoError(t, err)
		assert.True(t, result.Valid, "chain for %s should verify", agentID)
	}
}

func TestGetHistoryPrefersCompleteCacheWindow(t *testing.T) {
	repo := newMemoryRepo()
	cache := newMemoryCache(100)
	svc := newTestService(t, DefaultConfig(), repo, cache)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{},
			calmRecord("agent-1", fmt.Sprintf("int-%d", i)))
		require.NoError(t, err)
	}

	// Dropping the store exposes which reads the cache actually served
	repo.clear()

	cached, err := svc.GetHistory(ctx, "agent-1", trail.HistoryFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, cached, 3)
	assert.Equal(t, int64(2), cached[0].Chain.Position.Value())
	assert.Equal(t, int64(4), cached[2].Chain.Position.Value())

	// A window wider than the cache holds must go to the store
	fromStore, err := svc.GetHistory(ctx, "agent-1", trail.HistoryFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, fromStore)
}

func TestGetHistoryCacheFailureFallsBack(t *testing.T) {
	repo := newMemoryRepo()
	cache := newMemoryCache(100)
	svc := newTestService(t, DefaultConfig(), repo, cache)
	ctx := context.Background()

	_, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{}, calmRecord("agent-1", "int-1"))
	require.NoError(t, err)

	cache.mu.Lock()
	cache.recentErr = fmt.Errorf("connection refused")
	cache.mu.Unlock()

	entries, err := svc.GetHistory(ctx, "agent-1", trail.HistoryFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestGetHistoryRequiresAgentID(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), newMemoryRepo(), nil)

	_, err := svc.GetHistory(context.Background(), "", trail.HistoryFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING_AGENT_ID")
}

func TestCachePushFailureDoesNotFailAppend(t *testing.T) {
	repo := newMemoryRepo()
	cache := newMemoryCache(100)
	cache.pushErr = fmt.Errorf("connection refused")
	svc := newTestService(t, DefaultConfig(), repo, cache)
	ctx := context.Background()

	outcome, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{}, calmRecord("agent-1", "int-1"))
	require.NoError(t, err)
	require.NotNil(t, outcome.Entry)

	count, err := repo.CountByAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSearchFiltersHistory(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, DefaultConfig(), repo, nil)
	ctx := context.Background()

	_, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{}, calmRecord("agent-1", "int-1"))
	require.NoError(t, err)

	tagged := calmRecord("agent-1", "int-2")
	tagged.OutputText = "The rollback completed and the deployment checklist was updated."
	_, err = svc.RecordInteraction(ctx, trail.ContextDescriptor{}, tagged)
	require.NoError(t, err)

	matches, err := svc.Search(ctx, "agent-1", trail.SearchCriteria{Keywords: []string{"rollback"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "int-2", matches[0].InteractionID)
}

func TestSearchRejectsInvalidCriteria(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), newMemoryRepo(), nil)

	_, err := svc.Search(context.Background(), "agent-1",
		trail.SearchCriteria{TrustMin: ptr(1.5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_TRUST_BOUND")
}

func TestAnalyzePatternsOverStoredWindow(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, DefaultConfig(), repo, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{},
			calmRecord("agent-1", fmt.Sprintf("int-%d", i)))
		require.NoError(t, err)
	}

	report, err := svc.AnalyzePatterns(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", report.AgentID)
	assert.Equal(t, 5, report.EntriesAnalyzed)
	assert.Equal(t, trail.RiskLow, report.RiskLevel)
}

func TestAnalyzePatternsRoutesThroughSource(t *testing.T) {
	canned := &patterns.Report{AgentID: "agent-1", EntriesAnalyzed: 42}
	source := &stubPatternSource{report: canned}
	svc := newTestService(t, DefaultConfig(), newMemoryRepo(), nil, WithPatternSource(source))

	report, err := svc.AnalyzePatterns(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Same(t, canned, report)
	assert.Equal(t, 1, source.calls)
}

func TestCheckSafetyPolicies(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), newMemoryRepo(), nil)

	record := alarmedRecord("agent-1", "int-1")
	state := signal.NewAnalyzer().Analyze(record.InputText, record.OutputText)

	// Zero policy runs the service gate
	decision := svc.CheckSafety(state, safety.Policy{})
	assert.Equal(t, safety.DecisionWarning, decision.Type)

	// A caller-supplied policy overrides per check: lowering the pass
	// threshold moves the same state out of the warning band, where the
	// elevated concern axis then forces a redirect.
	relaxed := svc.CheckSafety(state, safety.Policy{PassAt: 0.5})
	assert.Equal(t, safety.DecisionRedirect, relaxed.Type)
}

func TestVerifyChainFlagsTampering(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, DefaultConfig(), repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordInteraction(ctx, trail.ContextDescriptor{},
			calmRecord("agent-1", fmt.Sprintf("int-%d", i)))
		require.NoError(t, err)
	}

	repo.mu.Lock()
	repo.chains["agent-1"][1].OutputText = "rewritten after the fact"
	repo.mu.Unlock()

	result, err := svc.VerifyChain(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.NotNil(t, result.BrokenAt)
	assert.Equal(t, int64(1), *result.BrokenAt)
	require.NotEmpty(t, result.Breaks)
	assert.Equal(t, trail.BreakHashMismatch, result.Breaks[0].BreakType)
}

func TestNotifierReceivesCommittedEntries(t *testing.T) {
	notifier := &captureNotifier{}
	svc := newTestService(t, DefaultConfig(), newMemoryRepo(), nil, WithNotifier(notifier))

	outcome, err := svc.RecordInteraction(context.Background(), trail.ContextDescriptor{},
		calmRecord("agent-1", "int-1"))
	require.NoError(t, err)

	captured := notifier.captured()
	require.Len(t, captured, 1)
	assert.Equal(t, outcome.Entry.ID, captured[0].ID)
}

func TestHealthReflectsRunningState(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), newMemoryRepo(), nil)
	require.NoError(t, svc.Health())

	require.NoError(t, svc.Close())
	require.Error(t, svc.Health())
}
