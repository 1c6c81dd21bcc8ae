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
	"github.com/davidleathers/agent-trust-ledger/internal/domain/patterns"
)

const reportPrefix = "atl:patterns:report:"

// ReportCache stores pattern reports under their window fingerprints. Keys
// embed the chain state, so entries never need explicit invalidation; they
// age out on TTL.
type ReportCache struct {
	client *redis.Client
	logger *zap.Logger

	hits   int64
	misses int64
	errors int64
}

// NewReportCache creates the pattern report cache
func NewReportCache(client *redis.Client, logger *zap.Logger) (*ReportCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &ReportCache{client: client, logger: logger}, nil
}

// Get returns the cached report for a fingerprint key. A miss is
// (nil, false, nil).
func (c *ReportCache) Get(ctx context.Context, key string) (*patterns.Report, bool, error) {
	data, err := c.client.Get(ctx, reportPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			atomic.AddInt64(&c.misses, 1)
			return nil, false, nil
		}
		atomic.AddInt64(&c.errors, 1)
		return nil, false, errors.NewInternalError("failed to read cached report").WithCause(err)
	}

	var report patterns.Report
	if err := json.Unmarshal(data, &report); err != nil {
		atomic.AddInt64(&c.errors, 1)
		c.logger.Warn("corrupt cached report, dropping",
			zap.String("key", key),
			zap.Error(err))
		c.client.Del(ctx, reportPrefix+key)
		return nil, false, nil
	}

	atomic.AddInt64(&c.hits, 1)
	return &report, true, nil
}

// Set stores a report under its fingerprint key
func (c *ReportCache) Set(ctx context.Context, key string, report *patterns.Report, ttl time.Duration) error {
	if report == nil {
		return errors.NewValidationError("INVALID_REPORT", "report cannot be nil")
	}

	data, err := json.Marshal(report)
	if err != nil {
		atomic.AddInt64(&c.errors, 1)
		return errors.NewInternalError("failed to marshal report").WithCause(err)
	}

	if err := c.client.Set(ctx, reportPrefix+key, data, ttl).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return errors.NewInternalError("failed to cache report").WithCause(err)
	}
	return nil
}

// Stats returns the effectiveness counters
func (c *ReportCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Errors: atomic.LoadInt64(&c.errors),
	}
}
