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
	t.Setenv("STORE_TYPE", "")
	t.Setenv("STORE_DATA_DIR", "")
	t.Setenv("TICKETS_CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, filepath.Join("data", "tickets-sqlite.db"), cfg.SQLite.Path)
	assert.Equal(t, filepath.Join("data", "tickets-cached.db"), cfg.SQLite.CachedPath)
	assert.Equal(t, 10*time.Minute, cfg.Store.SnapshotInterval())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORE_TYPE", "memory")
	t.Setenv("STORE_DATA_DIR", "/var/lib/tickets")
	t.Setenv("MEMORY_SNAPSHOT_INTERVAL_SECONDS", "30")
	t.Setenv("STORE_OPERATION_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("TICKETS_CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 30*time.Second, cfg.Store.SnapshotInterval())
	assert.Equal(t, 10*time.Second, cfg.Store.OperationTimeout())
	assert.Equal(t, filepath.Join("/var/lib/tickets", "tickets-memory.snapshot"), cfg.Store.SnapshotPath())
}

func TestLoadAppliesYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  type: redis
  write_queue_size: 16
redis:
  addr: redis.internal:6380
logger:
  level: debug
`), 0o644))
	t.Setenv("STORE_TYPE", "memory")
	t.Setenv("TICKETS_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, 16, cfg.Store.WriteQueueSize)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "8080", cfg.App.Port)
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("STORE_TYPE", "mongodb")
	t.Setenv("TICKETS_CONFIG_FILE", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestPostgresRequiresDSN(t *testing.T) {
	t.Setenv("STORE_TYPE", "postgres")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("TICKETS_CONFIG_FILE", "")
	_, err := Load()
	assert.Error(t, err)
}
