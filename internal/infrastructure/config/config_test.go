package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 100, cfg.Redis.RecencyWindow)
	assert.Equal(t, 5*time.Minute, cfg.Redis.ReportTTL)
	assert.Equal(t, 4, cfg.Recorder.AsyncWorkers)
	assert.Equal(t, 1024, cfg.Recorder.AsyncBuffer)
	assert.Equal(t, "agent-trust-ledger", cfg.Telemetry.ServiceName)

	// Gate thresholds stay zero so the domain defaults apply downstream
	assert.Zero(t, cfg.Safety.BlockBelow)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
environment: production
server:
  port: 9000
redis:
  recency_window: 50
safety:
  block_below: 0.3
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Redis.RecencyWindow)
	assert.InDelta(t, 0.3, cfg.Safety.BlockBelow, 1e-9)

	// Untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))

	t.Setenv("ATL_SERVER_PORT", "9443")
	t.Setenv("ATL_ENVIRONMENT", "staging")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, "staging", cfg.Environment)
}
