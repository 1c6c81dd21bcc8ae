package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SessionStore tracks which issued tokens are still live. Revoking a
// session invalidates its token before the JWT itself expires.
type SessionStore interface {
	CreateSession(ctx context.Context, userID uuid.UUID, scopes []string, ttl time.Duration) (string, error)
	ValidateSession(ctx context.Context, sessionID string) (bool, error)
	RevokeSession(ctx context.Context, sessionID string) error
}

// Session is the stored record for one issued token
type Session struct {
	ID        string    `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedisSessionStore implements SessionStore on Redis. Expiry rides on the
// key TTL, so revocation and natural expiry share one mechanism.
type RedisSessionStore struct {
	client *redis.Client
	tracer trace.Tracer
}

const sessionKeyPrefix = "atl:session:"

// NewRedisSessionStore creates a Redis-backed session store
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{
		client: client,
		tracer: otel.Tracer("api.rest.session"),
	}
}

// CreateSession stores a new session and returns its ID
func (s *RedisSessionStore) CreateSession(ctx context.Context, userID uuid.UUID, scopes []string, ttl time.Duration) (string, error) {
	ctx, span := s.tracer.Start(ctx, "session.create",
		trace.WithAttributes(attribute.String("user_id", userID.String())),
	)
	defer span.End()

	now := time.Now().UTC()
	session := Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Scopes:    scopes,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	payload, err := json.Marshal(session)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("marshaling session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKeyPrefix+session.ID, payload, ttl).Err(); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("storing session: %w", err)
	}
	return session.ID, nil
}

// ValidateSession reports whether the session still exists
func (s *RedisSessionStore) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "session.validate")
	defer span.End()

	exists, err := s.client.Exists(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("checking session: %w", err)
	}

	valid := exists > 0
	span.SetAttributes(attribute.Bool("valid", valid))
	return valid, nil
}

// RevokeSession deletes the session, invalidating its token
func (s *RedisSessionStore) RevokeSession(ctx context.Context, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "session.revoke")
	defer span.End()

	if err := s.client.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}
