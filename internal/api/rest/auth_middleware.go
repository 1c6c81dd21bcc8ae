package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes gate what a principal may do with the trail
const (
	ScopeTrailWrite   = "trail:write"
	ScopeTrailRead    = "trail:read"
	ScopeInsightsRead = "insights:read"
	ScopeSafetyCheck  = "safety:check"
	ScopeAdmin        = "*"
)

// AuthConfig configures token verification and issuance
type AuthConfig struct {
	Secret      []byte
	TokenExpiry time.Duration
	Issuer      string
	Audience    []string
}

// Claims are the JWT claims carried by ledger tokens
type Claims struct {
	jwt.RegisteredClaims
	UserID    uuid.UUID `json:"uid"`
	Scopes    []string  `json:"scopes"`
	SessionID string    `json:"sid,omitempty"`
}

// AuthMiddleware verifies bearer tokens and enforces scopes. With an
// empty secret it passes everything through, so development setups and
// tests run without token plumbing.
type AuthMiddleware struct {
	config   AuthConfig
	sessions SessionStore
	logger   *slog.Logger
	enabled  bool
}

// NewAuthMiddleware creates the middleware. sessions may be nil, in which
// case tokens stay valid until they expire.
func NewAuthMiddleware(config AuthConfig, sessions SessionStore, logger *slog.Logger) *AuthMiddleware {
	if config.TokenExpiry <= 0 {
		config.TokenExpiry = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "agent-trust-ledger"
	}
	return &AuthMiddleware{
		config:   config,
		sessions: sessions,
		logger:   logger,
		enabled:  len(config.Secret) > 0,
	}
}

// Enabled reports whether token verification is active
func (m *AuthMiddleware) Enabled() bool {
	return m.enabled
}

// Middleware returns a middleware requiring all of the given scopes
func (m *AuthMiddleware) Middleware(requiredScopes ...string) Middleware {
	return func(next http.Handler) http.Handler {
		if !m.enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "Missing authentication token")
				return
			}

			claims, err := m.validateToken(token)
			if err != nil {
				m.logger.WarnContext(r.Context(), "token_rejected",
					"error", err.Error(),
					"remote_addr", getClientIP(r),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			if m.sessions != nil && claims.SessionID != "" {
				valid, err := m.sessions.ValidateSession(r.Context(), claims.SessionID)
				if err != nil {
					m.logger.ErrorContext(r.Context(), "session_check_failed",
						"error", err.Error())
					writeServiceUnavailable(w, "Authentication backend unavailable")
					return
				}
				if !valid {
					writeUnauthorized(w, "Session has been revoked")
					return
				}
			}

			for _, required := range requiredScopes {
				if !scopeGranted(claims.Scopes, required) {
					writeForbidden(w)
					return
				}
			}

			ctx := m.enrichContext(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GenerateToken issues a signed token for userID with the given scopes.
// When a session store is wired the token is bound to a revocable session.
func (m *AuthMiddleware) GenerateToken(ctx context.Context, userID uuid.UUID, scopes []string) (string, error) {
	if !m.enabled {
		return "", fmt.Errorf("token issuance requires a configured secret")
	}

	sessionID := uuid.New().String()
	if m.sessions != nil {
		var err error
		sessionID, err = m.sessions.CreateSession(ctx, userID, scopes, m.config.TokenExpiry)
		if err != nil {
			return "", fmt.Errorf("creating session: %w", err)
		}
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Issuer:    m.config.Issuer,
			Subject:   userID.String(),
			Audience:  m.config.Audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TokenExpiry)),
		},
		UserID:    userID,
		Scopes:    scopes,
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.config.Secret)
}

// RevokeToken invalidates the session a token was issued under
func (m *AuthMiddleware) RevokeToken(ctx context.Context, tokenString string) error {
	if m.sessions == nil {
		return fmt.Errorf("revocation requires a session store")
	}
	claims, err := m.validateToken(tokenString)
	if err != nil {
		return err
	}
	if claims.SessionID == "" {
		return fmt.Errorf("token carries no session")
	}
	return m.sessions.RevokeSession(ctx, claims.SessionID)
}

// validateToken parses and verifies a token string
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.config.Secret, nil
	}, jwt.WithIssuer(m.config.Issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token carries no user")
	}
	return claims, nil
}

func (m *AuthMiddleware) enrichContext(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, contextKeyUserID, claims.UserID)
	ctx = context.WithValue(ctx, contextKeyScopes, claims.Scopes)
	ctx = context.WithValue(ctx, contextKeySessionID, claims.SessionID)
	return ctx
}

// extractToken pulls the bearer token from the header or cookie
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// scopeGranted reports whether granted covers required
func scopeGranted(granted []string, required string) bool {
	for _, scope := range granted {
		if scope == required || scope == ScopeAdmin {
			return true
		}
	}
	return false
}

// writeUnauthorized writes a 401 with the bearer challenge
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"success":false,"error":{"code":"UNAUTHORIZED","message":"` + message + `"}}`))
}

// writeForbidden writes a 403
func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"success":false,"error":{"code":"FORBIDDEN","message":"Insufficient scope for this operation"}}`))
}
