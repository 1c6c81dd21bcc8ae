package rest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// RedisRateLimiter enforces limits across replicas with a fixed one-second
// window in Redis. When Redis is unreachable it degrades to per-process
// token buckets rather than failing requests.
type RedisRateLimiter struct {
	client   *redis.Client
	config   RateLimitConfig
	tracer   trace.Tracer
	fallback sync.Map
}

// RateLimitResult describes one limit check
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// NewRedisRateLimiter creates a Redis-backed rate limiter
func NewRedisRateLimiter(client *redis.Client, config RateLimitConfig) *RedisRateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 100
	}
	return &RedisRateLimiter{
		client: client,
		config: config,
		tracer: otel.Tracer("api.rest.ratelimit"),
	}
}

// CheckLimit counts the request against its window and reports the verdict
func (rl *RedisRateLimiter) CheckLimit(ctx context.Context, key string) (*RateLimitResult, error) {
	ctx, span := rl.tracer.Start(ctx, "ratelimit.check",
		trace.WithAttributes(
			attribute.String("key", key),
			attribute.Int("limit", rl.config.RequestsPerSecond),
		),
	)
	defer span.End()

	now := time.Now()
	window := now.Truncate(time.Second).Unix()
	redisKey := fmt.Sprintf("atl:ratelimit:%s:%d", key, window)

	pipe := rl.client.Pipeline()
	countCmd := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return rl.checkLocal(key), nil
	}

	count := countCmd.Val()
	limit := int64(rl.config.RequestsPerSecond)
	result := &RateLimitResult{
		Allowed:   count <= limit,
		Limit:     rl.config.RequestsPerSecond,
		Remaining: int(limit - count),
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if !result.Allowed {
		result.RetryAfter = now.Truncate(time.Second).Add(time.Second).Sub(now)
	}

	span.SetAttributes(
		attribute.Bool("allowed", result.Allowed),
		attribute.Int("remaining", result.Remaining),
	)
	return result, nil
}

// checkLocal is the degraded path when Redis is down
func (rl *RedisRateLimiter) checkLocal(key string) *RateLimitResult {
	limiter, _ := rl.fallback.LoadOrStore(key,
		rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.RequestsPerSecond))

	allowed := limiter.(*rate.Limiter).Allow()
	result := &RateLimitResult{
		Allowed: allowed,
		Limit:   rl.config.RequestsPerSecond,
	}
	if !allowed {
		result.RetryAfter = time.Second
	}
	return result
}

// Middleware returns the enforcing middleware
func (rl *RedisRateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFor(r)
			result, err := rl.CheckLimit(r.Context(), key)
			if err != nil || result.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			writeRateLimitExceeded(w, result.RetryAfter)
		})
	}
}

func (rl *RedisRateLimiter) keyFor(r *http.Request) string {
	if rl.config.CustomKeyFunc != nil {
		return rl.config.CustomKeyFunc(r)
	}
	if rl.config.ByUser {
		if userID, err := getUserFromContext(r.Context()); err == nil {
			return "user:" + userID.String()
		}
	}
	return "ip:" + getClientIP(r)
}
