package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// ApplyMigrations runs every *.sql file in dir against db in filename
// order, the same order cmd/migrate applies them. Tests get the real
// schema instead of a hand-maintained copy.
func ApplyMigrations(t *testing.T, db *sql.DB, dir string) {
	t.Helper()

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no migration files found in %s", dir)
	sort.Strings(files)

	ctx := context.Background()
	for _, file := range files {
		content, err := os.ReadFile(file)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, string(content))
		require.NoError(t, err, "migration %s failed", filepath.Base(file))
	}
}

// TruncateEntries empties the trail between scenarios so each starts
// from position zero.
func TruncateEntries(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), "TRUNCATE TABLE trail_entries")
	require.NoError(t, err)
}

// CountEntries returns the number of stored entries for one agent.
func CountEntries(t *testing.T, db *sql.DB, agentID string) int {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM trail_entries WHERE agent_id = $1", agentID).Scan(&count)
	require.NoError(t, err)
	return count
}
