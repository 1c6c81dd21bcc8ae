package ledger

import (
	"context"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/patterns"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
)

// EntryCache is the bounded per-agent recency cache. It is strictly a read
// optimization: the durable store stays the source of truth, and every
// method may fail without affecting correctness.
type EntryCache interface {
	// Recent returns the agent's most recent entries in chain order. The
	// second result reports whether the cache could serve the full window;
	// when false the caller must bypass to the durable store.
	Recent(ctx context.Context, agentID string, limit int) ([]*trail.Entry, bool, error)

	// Push appends a durably committed entry to the agent's recency window
	Push(ctx context.Context, entry *trail.Entry) error

	// Invalidate drops the agent's cached window
	Invalidate(ctx context.Context, agentID string) error
}

// EntryNotifier receives entries after their durable commit. Implementations
// must not block the append path.
type EntryNotifier interface {
	NotifyAppended(entry *trail.Entry)
}

// PatternSource produces pattern reports, typically with caching layered on
// top of the pure analyzer.
type PatternSource interface {
	Analyze(ctx context.Context, agentID string) (*patterns.Report, error)
}
