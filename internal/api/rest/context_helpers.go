package rest

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
)

// contextWithRequestMeta stores the per-request bookkeeping
func contextWithRequestMeta(ctx context.Context, meta *RequestMeta) context.Context {
	return context.WithValue(ctx, contextKeyRequestMeta, meta)
}

// getRequestMeta returns the per-request bookkeeping, or nil outside the
// middleware chain.
func getRequestMeta(ctx context.Context) *RequestMeta {
	meta, _ := ctx.Value(contextKeyRequestMeta).(*RequestMeta)
	return meta
}

// getUserFromContext extracts the authenticated principal
func getUserFromContext(ctx context.Context) (uuid.UUID, error) {
	userID, ok := ctx.Value(contextKeyUserID).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, errors.NewUnauthorizedError("Authentication required")
	}
	return userID, nil
}

// getScopesFromContext extracts the principal's granted scopes
func getScopesFromContext(ctx context.Context) []string {
	scopes, ok := ctx.Value(contextKeyScopes).([]string)
	if !ok {
		return nil
	}
	return scopes
}

// hasScope reports whether the principal holds scope. The "*" grant
// matches everything.
func hasScope(ctx context.Context, scope string) bool {
	for _, s := range getScopesFromContext(ctx) {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// getSessionFromContext extracts the session the token was issued under
func getSessionFromContext(ctx context.Context) string {
	session, _ := ctx.Value(contextKeySessionID).(string)
	return session
}
