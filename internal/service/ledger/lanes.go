package ledger

import (
	"context"
	"sync"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
)

// lane is the single-writer append state for one agent. The mutex serializes
// appends for that agent; the cached tail avoids a store read per append once
// hydrated.
type lane struct {
	mu       sync.Mutex
	tail     trail.ChainTail
	hydrated bool
}

// laneSet owns every agent lane. Lanes are created on first use and never
// removed; an agent's lane is as long-lived as its chain.
type laneSet struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

func newLaneSet() *laneSet {
	return &laneSet{lanes: make(map[string]*lane)}
}

// acquire returns the agent's lane, creating it if needed. Only the lookup
// is guarded here; callers lock the lane itself around append work.
func (s *laneSet) acquire(agentID string) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[agentID]
	if !ok {
		l = &lane{}
		s.lanes[agentID] = l
	}
	return l
}

// hydrate loads the lane tail from the repository on first use. Runs under
// the lane lock.
func (l *lane) hydrate(ctx context.Context, repo trail.EntryRepository, agentID string) error {
	if l.hydrated {
		return nil
	}

	tail, err := repo.Tail(ctx, agentID)
	if err != nil {
		return err
	}

	if tail != nil {
		l.tail = *tail
	}
	l.hydrated = true
	return nil
}

// advance moves the tail to a just-committed entry. Runs under the lane
// lock, strictly after the durable write succeeded.
func (l *lane) advance(entry *trail.Entry) {
	l.tail = trail.ChainTail{
		Position:   entry.Chain.Position,
		Hash:       entry.Chain.ContentHash,
		TrustScore: entry.Trust.Score,
		Exists:     true,
	}
}
