package trail

import (
	"context"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/values"
	"github.com/google/uuid"
)

// ChainTail describes the durable end of an agent's chain. Exists is false
// for agents with no entries yet; that is a normal state, not an error.
type ChainTail struct {
	Position   values.ChainPosition
	Hash       values.HashValue
	TrustScore float64
	Exists     bool
}

// EntryRepository is the durable store port for audit entries. Append is
// all-or-nothing: on error nothing is persisted and chain state must be
// treated as unchanged.
type EntryRepository interface {
	// Append persists a sealed entry
	Append(ctx context.Context, entry *Entry) error

	// GetByID loads a single entry
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)

	// ListByAgent returns the most recent entries in ascending chain
	// order, at most limit of them
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*Entry, error)

	// ChainByAgent returns the agent's full chain in ascending position
	// order, for verification replay
	ChainByAgent(ctx context.Context, agentID string) ([]*Entry, error)

	// Search returns entries matching the criteria in ascending chain order
	Search(ctx context.Context, agentID string, criteria SearchCriteria) ([]*Entry, error)

	// Tail returns the latest chain link state for the agent
	Tail(ctx context.Context, agentID string) (*ChainTail, error)

	// CountByAgent returns the number of stored entries for the agent
	CountByAgent(ctx context.Context, agentID string) (int64, error)
}
