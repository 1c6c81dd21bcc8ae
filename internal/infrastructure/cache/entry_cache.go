package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
)

const entryRecentPrefix = "atl:trail:recent:"

// RecentCacheTTL bounds how long an idle agent's window stays cached
const RecentCacheTTL = 1 * time.Hour

// EntryCacheConfig tunes the per-agent recency window
type EntryCacheConfig struct {
	// Entries kept per agent; reads wider than this always go to the store
	Window int
	TTL    time.Duration
	// Jitter spreads expirations to avoid synchronized refills
	Jitter time.Duration
}

// DefaultEntryCacheConfig returns the standard recency window configuration
func DefaultEntryCacheConfig() *EntryCacheConfig {
	return &EntryCacheConfig{
		Window: 100,
		TTL:    RecentCacheTTL,
		Jitter: 30 * time.Second,
	}
}

// Stats is a point-in-time view of cache effectiveness counters
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// EntryCache keeps each agent's most recent sealed entries in a Redis list,
// in chain order. It only ever serves a read it can serve completely; a
// partial window is reported as a miss so the caller falls through to the
// durable store.
type EntryCache struct {
	client *redis.Client
	logger *zap.Logger
	window int
	ttl    time.Duration
	jitter time.Duration

	hits   int64
	misses int64
	errors int64
}

// NewEntryCache creates the recency cache
func NewEntryCache(client *redis.Client, logger *zap.Logger, config *EntryCacheConfig) (*EntryCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config == nil {
		config = DefaultEntryCacheConfig()
	}
	if config.Window <= 0 {
		config.Window = DefaultEntryCacheConfig().Window
	}
	if config.TTL <= 0 {
		config.TTL = RecentCacheTTL
	}

	return &EntryCache{
		client: client,
		logger: logger,
		window: config.Window,
		ttl:    config.TTL,
		jitter: config.Jitter,
	}, nil
}

// Recent returns the agent's latest entries in chain order. The boolean
// reports whether the cache held the full requested window; when false the
// returned slice is nil and the caller must read the store.
func (c *EntryCache) Recent(ctx context.Context, agentID string, limit int) ([]*trail.Entry, bool, error) {
	if agentID == "" || limit <= 0 {
		return nil, false, nil
	}
	key := c.recentKey(agentID)

	pipe := c.client.Pipeline()
	lenCmd := pipe.LLen(ctx, key)
	rangeCmd := pipe.LRange(ctx, key, int64(-limit), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return nil, false, errors.NewInternalError("failed to read recency window").WithCause(err)
	}

	if lenCmd.Val() < int64(limit) {
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}

	raw := rangeCmd.Val()
	entries := make([]*trail.Entry, 0, len(raw))
	for _, item := range raw {
		var entry trail.Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			// A corrupt item poisons the whole window; drop it and let
			// the store rebuild it.
			atomic.AddInt64(&c.errors, 1)
			c.logger.Warn("corrupt cached entry, invalidating window",
				zap.String("agent_id", agentID),
				zap.Error(err))
			c.client.Del(ctx, key)
			return nil, false, nil
		}
		entries = append(entries, &entry)
	}

	atomic.AddInt64(&c.hits, 1)
	return entries, true, nil
}

// Push appends a committed entry to the agent's window and trims it. Callers
// push strictly in chain order, after the durable write.
func (c *EntryCache) Push(ctx context.Context, entry *trail.Entry) error {
	if entry == nil {
		return errors.NewValidationError("INVALID_ENTRY", "entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		atomic.AddInt64(&c.errors, 1)
		return errors.NewInternalError("failed to marshal entry").WithCause(err)
	}

	key := c.recentKey(entry.AgentID)
	pipe := c.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-c.window), -1)
	pipe.Expire(ctx, key, c.addJitter(c.ttl))
	if _, err := pipe.Exec(ctx); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return errors.NewInternalError("failed to push entry to recency window").WithCause(err)
	}

	return nil
}

// Invalidate drops the agent's cached window
func (c *EntryCache) Invalidate(ctx context.Context, agentID string) error {
	if err := c.client.Del(ctx, c.recentKey(agentID)).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return errors.NewInternalError("failed to invalidate recency window").WithCause(err)
	}
	return nil
}

// Stats returns the effectiveness counters
func (c *EntryCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Errors: atomic.LoadInt64(&c.errors),
	}
}

func (c *EntryCache) recentKey(agentID string) string {
	return entryRecentPrefix + agentID
}

func (c *EntryCache) addJitter(ttl time.Duration) time.Duration {
	if c.jitter == 0 {
		return ttl
	}
	return ttl + time.Duration(time.Now().UnixNano()%int64(c.jitter))
}
