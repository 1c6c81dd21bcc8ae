package rest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
	"github.com/davidleathers/agent-trust-ledger/internal/metrics"
	"github.com/davidleathers/agent-trust-ledger/internal/service/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryRepo is an in-memory entry repository backing handler tests
type memoryRepo struct {
	mu     sync.Mutex
	chains map[string][]*trail.Entry
	byID   map[uuid.UUID]*trail.Entry
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		chains: make(map[string][]*trail.Entry),
		byID:   make(map[uuid.UUID]*trail.Entry),
	}
}

func (m *memoryRepo) Append(ctx context.Context, entry *trail.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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

// memorySessions is an in-memory SessionStore
type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[string]Session)}
}

func (s *memorySessions) CreateSession(ctx context.Context, userID uuid.UUID, scopes []string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	s.sessions[id] = Session{
		ID:        id,
		UserID:    userID,
		Scopes:    scopes,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}
	return id, nil
}

func (s *memorySessions) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok, nil
}

func (s *memorySessions) RevokeSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// newTestLedger builds a ledger service over the memory repo with the
// safety gate at its defaults.
func newTestLedger(t *testing.T, repo *memoryRepo, opts ...ledger.Option) *ledger.Service {
	t.Helper()

	registry, err := metrics.NewRegistry("atl.rest.test")
	require.NoError(t, err)

	svc, err := ledger.New(context.Background(), ledger.Config{}, zap.NewNop(), repo, nil, registry, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// newTestMux wires the handler set with auth disabled and a minimal chain
func newTestMux(t *testing.T) (*http.ServeMux, *memoryRepo) {
	t.Helper()

	repo := newMemoryRepo()
	svc := newTestLedger(t, repo)

	auth := NewAuthMiddleware(AuthConfig{}, nil, testLogger())
	base := NewBaseHandler("test", auth.Enabled(), true)
	handler := NewTrailHandler(base, svc, auth, testLogger(), nil)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, NewMiddlewareChain(RequestIDMiddleware()), nil)
	return mux, repo
}

// newAuthedTestMux wires the handler set with token verification enabled
func newAuthedTestMux(t *testing.T, secret []byte) (*http.ServeMux, *AuthMiddleware) {
	t.Helper()

	repo := newMemoryRepo()
	svc := newTestLedger(t, repo)

	auth := NewAuthMiddleware(AuthConfig{Secret: secret}, newMemorySessions(), testLogger())
	base := NewBaseHandler("test", auth.Enabled(), true)
	handler := NewTrailHandler(base, svc, auth, testLogger(), nil)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, NewMiddlewareChain(RequestIDMiddleware()), nil)
	return mux, auth
}

// doRequest drives one request through the handler and captures the response
func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// testEnvelope mirrors the response envelope with typed payload data
type testEnvelope[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data"`
	Error   *ErrorResponse `json:"error"`
	Meta    *ResponseMeta  `json:"meta"`
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) testEnvelope[T] {
	t.Helper()

	var env testEnvelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return env
}

func recordPayload(agentID, interactionID string) string {
	return `{
		"agent_id": "` + agentID + `",
		"interaction_id": "` + interactionID + `",
		"user_id": "user-1",
		"provider": "openai",
		"model": "gpt-4o",
		"input_text": "Summarize the deployment checklist.",
		"output_text": "The deployment checklist covers build, test, and rollout stages.",
		"latency_ns": 250000000,
		"tokens_in": 40,
		"tokens_out": 80,
		"success": true
	}`
}
