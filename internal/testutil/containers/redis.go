package containers

import (
	"context"
	"fmt"
	"strings"

	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// RedisContainer wraps testcontainers redis for cache integration tests
type RedisContainer struct {
	*redis.RedisContainer
	// Addr is host:port, the form go-redis takes directly
	Addr string
}

// NewRedisContainer starts a disposable Redis instance for integration
// tests.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	connStr, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &RedisContainer{
		RedisContainer: redisContainer,
		Addr:           strings.TrimPrefix(connStr, "redis://"),
	}, nil
}
