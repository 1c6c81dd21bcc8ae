package database

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
)

// uniqueViolation is the Postgres error code for a violated unique
// constraint. The (agent_id, chain_position) index turns a concurrent
// double-append into this code instead of a forked chain.
const uniqueViolation = "23505"

const entryColumns = `
	id, timestamp, agent_id, user_id, session_id, interaction_id,
	provider, model, context_type, environment, input_text, output_text,
	latency_ns, tokens_in, tokens_out, tokens_total, cost, success, error_text,
	cognitive, trust, autonomy, emotional, compliance,
	content_hash, previous_hash, chain_position`

// EntryRepository implements trail.EntryRepository on PostgreSQL. Raw
// interaction facts live in flat columns; the derived groups are stored as
// JSONB so search predicates can reach into them without extra tables.
type EntryRepository struct {
	db *pgxpool.Pool
}

// NewEntryRepository creates a PostgreSQL entry repository
func NewEntryRepository(db *pgxpool.Pool) *EntryRepository {
	return &EntryRepository{db: db}
}

// Append persists a sealed entry. The write is a single statement: either
// the whole entry lands or nothing does, so chain state never straddles a
// failure.
func (r *EntryRepository) Append(ctx context.Context, entry *trail.Entry) error {
	if entry == nil {
		return errors.NewValidationError("INVALID_ENTRY", "entry cannot be nil")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if !entry.IsSealed() {
		return errors.NewValidationError("UNSEALED_ENTRY",
			"only sealed entries can be appended")
	}

	cognitiveJSON, err := json.Marshal(entry.Cognitive)
	if err != nil {
		return errors.NewInternalError("failed to marshal cognitive trace").WithCause(err)
	}
	trustJSON, err := json.Marshal(entry.Trust)
	if err != nil {
		return errors.NewInternalError("failed to marshal trust snapshot").WithCause(err)
	}
	autonomyJSON, err := json.Marshal(entry.Autonomy)
	if err != nil {
		return errors.NewInternalError("failed to marshal autonomy profile").WithCause(err)
	}
	emotionalJSON, err := json.Marshal(entry.Emotional)
	if err != nil {
		return errors.NewInternalError("failed to marshal emotional state").WithCause(err)
	}
	complianceJSON, err := json.Marshal(entry.Compliance)
	if err != nil {
		return errors.NewInternalError("failed to marshal compliance record").WithCause(err)
	}

	query := `
		INSERT INTO trail_entries (` + entryColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27
		)`

	_, err = r.db.Exec(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.AgentID,
		entry.UserID,
		entry.SessionID,
		entry.InteractionID,
		entry.Provider,
		entry.Model,
		string(entry.ContextType),
		entry.Environment,
		entry.InputText,
		entry.OutputText,
		int64(entry.Latency),
		entry.TokensIn,
		entry.TokensOut,
		entry.TokensTotal,
		entry.Cost,
		entry.Success,
		entry.ErrorText,
		cognitiveJSON,
		trustJSON,
		autonomyJSON,
		emotionalJSON,
		complianceJSON,
		entry.Chain.ContentHash,
		entry.Chain.PreviousHash,
		entry.Chain.Position.Value(),
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errors.ErrDuplicateEntry
		}
		return errors.NewStorageError("append", err)
	}

	return nil
}

// GetByID loads a single entry
func (r *EntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*trail.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM trail_entries WHERE id = $1`

	entry, err := scanEntry(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrEntryNotFound
		}
		return nil, err
	}

	return entry, nil
}

// ListByAgent returns the most recent entries for an agent in ascending
// chain order, at most limit of them. The inner query walks the position
// index backwards; the outer one restores chain order.
func (r *EntryRepository) ListByAgent(ctx context.Context, agentID string, limit int) ([]*trail.Entry, error) {
	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}
	if limit <= 0 {
		limit = trail.DefaultHistoryLimit
	}

	query := `
		SELECT ` + entryColumns + ` FROM (
			SELECT ` + entryColumns + `
			FROM trail_entries
			WHERE agent_id = $1
			ORDER BY chain_position DESC
			LIMIT $2
		) recent
		ORDER BY chain_position ASC`

	rows, err := r.db.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, errors.NewStorageError("list", err)
	}

	return collectEntries(rows)
}

// ChainByAgent returns the agent's full chain in ascending position order
// for verification replay.
func (r *EntryRepository) ChainByAgent(ctx context.Context, agentID string) ([]*trail.Entry, error) {
	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}

	query := `
		SELECT ` + entryColumns + `
		FROM trail_entries
		WHERE agent_id = $1
		ORDER BY chain_position ASC`

	rows, err := r.db.Query(ctx, query, agentID)
	if err != nil {
		return nil, errors.NewStorageError("chain", err)
	}

	return collectEntries(rows)
}

// Search pushes the criteria conjunction down to SQL and returns matches
// in ascending chain order.
func (r *EntryRepository) Search(ctx context.Context, agentID string, criteria trail.SearchCriteria) ([]*trail.Entry, error) {
	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}

	query, args := buildSearchQuery(agentID, criteria.Normalize())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("search", err)
	}

	return collectEntries(rows)
}

// Tail returns the latest chain link state for the agent. A missing chain
// is reported through Exists, not an error.
func (r *EntryRepository) Tail(ctx context.Context, agentID string) (*trail.ChainTail, error) {
	if agentID == "" {
		return nil, errors.ErrMissingAgentID
	}

	query := `
		SELECT chain_position, content_hash, (trust->>'score')::double precision
		FROM trail_entries
		WHERE agent_id = $1
		ORDER BY chain_position DESC
		LIMIT 1`

	tail := &trail.ChainTail{}
	err := r.db.QueryRow(ctx, query, agentID).Scan(
		&tail.Position,
		&tail.Hash,
		&tail.TrustScore,
	)

	if stderrors.Is(err, pgx.ErrNoRows) {
		return &trail.ChainTail{}, nil
	}
	if err != nil {
		return nil, errors.NewStorageError("tail", err)
	}

	tail.Exists = true
	return tail, nil
}

// CountByAgent returns the number of stored entries for the agent
func (r *EntryRepository) CountByAgent(ctx context.Context, agentID string) (int64, error) {
	if agentID == "" {
		return 0, errors.ErrMissingAgentID
	}

	var count int64
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM trail_entries WHERE agent_id = $1", agentID).Scan(&count)
	if err != nil {
		return 0, errors.NewStorageError("count", err)
	}

	return count, nil
}

// buildSearchQuery assembles the search statement. Every predicate mirrors
// trail.SearchCriteria.Matches exactly; criteria must arrive normalized.
func buildSearchQuery(agentID string, criteria trail.SearchCriteria) (string, []interface{}) {
	conditions := []string{"agent_id = $1"}
	args := []interface{}{agentID}
	argCounter := 2

	for _, kw := range criteria.Keywords {
		if kw == "" {
			continue
		}
		conditions = append(conditions, fmt.Sprintf(
			"(input_text ILIKE $%d OR output_text ILIKE $%d)", argCounter, argCounter))
		args = append(args, "%"+kw+"%")
		argCounter++
	}

	if criteria.From != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", argCounter))
		args = append(args, *criteria.From)
		argCounter++
	}
	if criteria.To != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", argCounter))
		args = append(args, *criteria.To)
		argCounter++
	}

	if criteria.ContextType != nil {
		conditions = append(conditions, fmt.Sprintf("context_type = $%d", argCounter))
		args = append(args, string(*criteria.ContextType))
		argCounter++
	}

	// Trust bounds are inclusive on both ends
	if criteria.TrustMin != nil {
		conditions = append(conditions, fmt.Sprintf(
			"(trust->>'score')::double precision >= $%d", argCounter))
		args = append(args, *criteria.TrustMin)
		argCounter++
	}
	if criteria.TrustMax != nil {
		conditions = append(conditions, fmt.Sprintf(
			"(trust->>'score')::double precision <= $%d", argCounter))
		args = append(args, *criteria.TrustMax)
		argCounter++
	}

	if criteria.Compliance != nil {
		switch *criteria.Compliance {
		case trail.ComplianceViolation:
			conditions = append(conditions,
				"jsonb_array_length(compliance->'violations') > 0")
		case trail.ComplianceWarning:
			conditions = append(conditions, fmt.Sprintf(
				"jsonb_array_length(compliance->'violations') = 0 AND (compliance->>'score')::double precision < $%d",
				argCounter))
			args = append(args, trail.ComplianceWarningThreshold)
			argCounter++
		case trail.ComplianceCompliant:
			conditions = append(conditions, fmt.Sprintf(
				"jsonb_array_length(compliance->'violations') = 0 AND (compliance->>'score')::double precision >= $%d",
				argCounter))
			args = append(args, trail.ComplianceWarningThreshold)
			argCounter++
		}
	}

	if criteria.EmotionalAxis != nil {
		conditions = append(conditions, fmt.Sprintf(
			"(emotional->>$%d)::double precision >= $%d", argCounter, argCounter+1))
		args = append(args, criteria.EmotionalAxis.String(), trail.EmotionalAxisThreshold)
		argCounter += 2
	}

	if criteria.AutonomyLevel != nil {
		conditions = append(conditions, fmt.Sprintf(
			"autonomy->>'level' = $%d", argCounter))
		args = append(args, string(*criteria.AutonomyLevel))
		argCounter++
	}

	query := `SELECT ` + entryColumns + `
		FROM trail_entries
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY chain_position ASC`

	if criteria.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCounter)
		args = append(args, criteria.Limit)
	}

	return query, args
}

// scanEntry reads one row into a domain entry. Timestamps are forced back
// to UTC: the content hash covers the serialized timestamp, and an offset
// change would break verification of a perfectly intact row.
func scanEntry(row pgx.Row) (*trail.Entry, error) {
	entry := &trail.Entry{}
	var latencyNS int64
	var cognitiveJSON, trustJSON, autonomyJSON, emotionalJSON, complianceJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.Timestamp,
		&entry.AgentID,
		&entry.UserID,
		&entry.SessionID,
		&entry.InteractionID,
		&entry.Provider,
		&entry.Model,
		&entry.ContextType,
		&entry.Environment,
		&entry.InputText,
		&entry.OutputText,
		&latencyNS,
		&entry.TokensIn,
		&entry.TokensOut,
		&entry.TokensTotal,
		&entry.Cost,
		&entry.Success,
		&entry.ErrorText,
		&cognitiveJSON,
		&trustJSON,
		&autonomyJSON,
		&emotionalJSON,
		&complianceJSON,
		&entry.Chain.ContentHash,
		&entry.Chain.PreviousHash,
		&entry.Chain.Position,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.NewInternalError("failed to scan entry").WithCause(err)
	}

	entry.Timestamp = entry.Timestamp.UTC()
	entry.Latency = time.Duration(latencyNS)

	if err := json.Unmarshal(cognitiveJSON, &entry.Cognitive); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal cognitive trace").WithCause(err)
	}
	if err := json.Unmarshal(trustJSON, &entry.Trust); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal trust snapshot").WithCause(err)
	}
	if err := json.Unmarshal(autonomyJSON, &entry.Autonomy); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal autonomy profile").WithCause(err)
	}
	if err := json.Unmarshal(emotionalJSON, &entry.Emotional); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal emotional state").WithCause(err)
	}
	if err := json.Unmarshal(complianceJSON, &entry.Compliance); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal compliance record").WithCause(err)
	}

	return entry, nil
}

func collectEntries(rows pgx.Rows) ([]*trail.Entry, error) {
	defer rows.Close()

	entries := make([]*trail.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("read", err)
	}

	return entries, nil
}
