package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
	"github.com/davidleathers/agent-trust-ledger/internal/infrastructure/database"
	"github.com/davidleathers/agent-trust-ledger/internal/service/ledger"
)

// TrailHandler serves the ledger endpoints
type TrailHandler struct {
	*BaseHandler

	svc    *ledger.Service
	auth   *AuthMiddleware
	logger *slog.Logger

	// nil when the caller has no pool to report on
	poolMetrics func() database.MetricsSnapshot
	startTime   time.Time
}

// NewTrailHandler creates the handler set
func NewTrailHandler(base *BaseHandler, svc *ledger.Service, auth *AuthMiddleware, logger *slog.Logger, poolMetrics func() database.MetricsSnapshot) *TrailHandler {
	return &TrailHandler{
		BaseHandler: base,
		svc:         svc,
		auth:        auth,
		logger:      logger,
		poolMetrics: poolMetrics,
		startTime:   time.Now(),
	}
}

// RegisterRoutes mounts every endpoint on mux. The chain wraps each
// route; writeLimiter additionally guards the append path.
func (h *TrailHandler) RegisterRoutes(mux *http.ServeMux, chain *MiddlewareChain, writeLimiter Middleware) {
	record := h.WrapHandler(h.handleRecordInteraction,
		WithTimeout(10*time.Second))
	recordAsync := h.WrapHandler(h.handleRecordAsync,
		WithTimeout(5*time.Second))

	writeChain := chain
	if writeLimiter != nil {
		writeChain = chain.Append(writeLimiter)
	}

	mux.Handle("POST /api/v1/interactions",
		writeChain.Append(h.auth.Middleware(ScopeTrailWrite)).Then(record))
	mux.Handle("POST /api/v1/interactions/async",
		writeChain.Append(h.auth.Middleware(ScopeTrailWrite)).Then(recordAsync))

	readChain := chain.Append(h.auth.Middleware(ScopeTrailRead))
	mux.Handle("GET /api/v1/agents/{id}/history",
		readChain.Then(h.WrapHandler(h.handleHistory)))
	mux.Handle("POST /api/v1/agents/{id}/search",
		readChain.Then(h.WrapHandler(h.handleSearch)))
	mux.Handle("GET /api/v1/agents/{id}/chain/verification",
		readChain.Then(h.WrapHandler(h.handleVerifyChain)))
	mux.Handle("GET /api/v1/stats",
		readChain.Then(h.WrapHandler(h.handleStats)))

	mux.Handle("GET /api/v1/agents/{id}/patterns",
		chain.Append(h.auth.Middleware(ScopeInsightsRead)).Then(
			h.WrapHandler(h.handlePatterns, WithCache(time.Minute))))

	mux.Handle("POST /api/v1/safety/check",
		chain.Append(h.auth.Middleware(ScopeSafetyCheck)).Then(
			h.WrapHandler(h.handleSafetyCheck)))

	mux.Handle("POST /api/v1/auth/revoke",
		chain.Append(h.auth.Middleware()).Then(
			h.WrapHandler(h.handleRevokeToken)))
}

// handleRecordInteraction appends one interaction synchronously and
// returns the sealed entry with its gate verdict.
func (h *TrailHandler) handleRecordInteraction(ctx context.Context, r *http.Request) (interface{}, error) {
	var req RecordInteractionRequest
	if err := h.ParseJSON(r, &req); err != nil {
		return nil, err
	}

	descriptor, record := req.ToDomain()
	outcome, err := h.svc.RecordInteraction(ctx, descriptor, record)
	if err != nil {
		return nil, err
	}
	return RecordedResponse{Entry: outcome.Entry, Safety: outcome.Safety}, nil
}

// handleRecordAsync validates and queues the interaction, acknowledging
// before the append lands.
func (h *TrailHandler) handleRecordAsync(ctx context.Context, r *http.Request) (interface{}, error) {
	var req RecordInteractionRequest
	if err := h.ParseJSON(r, &req); err != nil {
		return nil, err
	}

	descriptor, record := req.ToDomain()
	if err := h.svc.RecordInteractionAsync(ctx, descriptor, record); err != nil {
		return nil, err
	}
	return RecordAcceptedResponse{
		Status:        "accepted",
		AgentID:       record.AgentID,
		InteractionID: record.InteractionID,
	}, nil
}

// handleHistory returns an agent's most recent entries in chain order
func (h *TrailHandler) handleHistory(ctx context.Context, r *http.Request) (interface{}, error) {
	agentID := r.PathValue("id")
	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}

	filter := trail.HistoryFilter{Limit: getQueryInt(r, "limit", 0)}
	entries, err := h.svc.GetHistory(ctx, agentID, filter)
	if err != nil {
		return nil, err
	}
	return EntryListResponse{Entries: entries, Count: len(entries)}, nil
}

// handleSearch filters an agent's history by the posted criteria
func (h *TrailHandler) handleSearch(ctx context.Context, r *http.Request) (interface{}, error) {
	agentID := r.PathValue("id")
	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}

	var req SearchEntriesRequest
	if err := h.ParseJSON(r, &req); err != nil {
		return nil, err
	}

	entries, err := h.svc.Search(ctx, agentID, req.ToCriteria())
	if err != nil {
		return nil, err
	}
	return EntryListResponse{Entries: entries, Count: len(entries)}, nil
}

// handlePatterns returns the behavioral report for an agent
func (h *TrailHandler) handlePatterns(ctx context.Context, r *http.Request) (interface{}, error) {
	agentID := r.PathValue("id")
	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}
	return h.svc.AnalyzePatterns(ctx, agentID)
}

// handleVerifyChain walks the agent's full chain and reports integrity
func (h *TrailHandler) handleVerifyChain(ctx context.Context, r *http.Request) (interface{}, error) {
	agentID := r.PathValue("id")
	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}
	return h.svc.VerifyChain(ctx, agentID)
}

// handleSafetyCheck evaluates telemetry against a policy without writing
func (h *TrailHandler) handleSafetyCheck(ctx context.Context, r *http.Request) (interface{}, error) {
	var req SafetyCheckRequest
	if err := h.ParseJSON(r, &req); err != nil {
		return nil, err
	}
	return SafetyCheckResponse{Decision: h.svc.CheckSafety(req.State, req.Policy)}, nil
}

// handleStats reports service counters and pool usage. Pool internals are
// operator data, so they stay scope gated while auth is live.
func (h *TrailHandler) handleStats(ctx context.Context, r *http.Request) (interface{}, error) {
	resp := StatsResponse{
		Ledger: h.svc.Stats(),
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.poolMetrics != nil && (!h.authEnabled || hasScope(ctx, ScopeAdmin)) {
		snapshot := h.poolMetrics()
		resp.Database = DatabaseStats{
			TotalConnections:  snapshot.TotalConnections,
			ActiveConnections: snapshot.ActiveConnections,
			IdleConnections:   snapshot.IdleConnections,
		}
	}
	return resp, nil
}

// handleRevokeToken invalidates the session behind the presented token
func (h *TrailHandler) handleRevokeToken(ctx context.Context, r *http.Request) (interface{}, error) {
	token := extractToken(r)
	if token == "" {
		return nil, errors.NewUnauthorizedError("No token presented")
	}
	if err := h.auth.RevokeToken(ctx, token); err != nil {
		return nil, errors.NewValidationError("REVOKE_FAILED", err.Error())
	}
	h.logger.InfoContext(ctx, "token_revoked",
		"session_id", getSessionFromContext(ctx))
	return map[string]bool{"revoked": true}, nil
}

// getQueryInt reads an integer query parameter with a fallback
func getQueryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
