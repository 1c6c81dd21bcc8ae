package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/patterns"
)

func setupReportCache(t *testing.T) (*ReportCache, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := NewReportCache(client, zaptest.NewLogger(t))
	require.NoError(t, err)

	return cache, s, client
}

func TestReportCacheRoundTrip(t *testing.T) {
	cache, _, _ := setupReportCache(t)
	ctx := context.Background()

	chain := sealedChain(t, "agent-1", 4)
	report := patterns.NewAnalyzer().Analyze("agent-1", chain)
	key := "agent-1:3:4"

	require.NoError(t, cache.Set(ctx, key, report, time.Minute))

	cached, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	// The report must round-trip bit identical or the fingerprint scheme
	// cannot treat cached copies as equivalent to recomputed ones
	want, err := json.Marshal(report)
	require.NoError(t, err)
	got, err := json.Marshal(cached)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))

	assert.Equal(t, int64(1), cache.Stats().Hits)
}

func TestReportCacheMiss(t *testing.T) {
	cache, _, _ := setupReportCache(t)

	report, ok, err := cache.Get(context.Background(), "agent-unknown:0:1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, report)
	assert.Equal(t, int64(1), cache.Stats().Misses)
}

func TestReportCacheCorruptValueSelfHeals(t *testing.T) {
	cache, s, client := setupReportCache(t)
	ctx := context.Background()

	key := "agent-1:5:6"
	require.NoError(t, client.Set(ctx, reportPrefix+key, "{broken", time.Minute).Err())

	report, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, report)
	assert.False(t, s.Exists(reportPrefix+key), "corrupt report should be dropped")
}

func TestReportCacheSetRejectsNil(t *testing.T) {
	cache, _, _ := setupReportCache(t)

	err := cache.Set(context.Background(), "agent-1:0:1", nil, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_REPORT")
}

func TestReportCacheSetAppliesTTL(t *testing.T) {
	cache, s, _ := setupReportCache(t)
	ctx := context.Background()

	report := patterns.NewAnalyzer().Analyze("agent-1", nil)
	key := "agent-1:-1:0"
	require.NoError(t, cache.Set(ctx, key, report, 5*time.Minute))

	assert.Equal(t, 5*time.Minute, s.TTL(reportPrefix+key))
}
