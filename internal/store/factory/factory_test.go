package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/ticket-manager/internal/config"
	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/observability"
	"github.com/spec-kit/ticket-manager/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Store: config.StoreConfig{Type: "memory", DataDir: dir, WriteQueueSize: 16},
		SQLite: config.SQLiteConfig{
			Path:       filepath.Join(dir, "sqlite.db"),
			CachedPath: filepath.Join(dir, "cached.db"),
			PoolSize:   2,
		},
	}
}

func TestOpenLocalBackends(t *testing.T) {
	ctx := context.Background()
	f := New(testConfig(t), zaptest.NewLogger(t), observability.NewMetrics())
	assert.Equal(t, store.TypeMemory, f.Configured())

	for _, typ := range []store.Type{store.TypeMemory, store.TypeSQLite, store.TypeCachedSQLite} {
		t.Run(string(typ), func(t *testing.T) {
			s, err := f.Open(ctx, typ)
			require.NoError(t, err)
			assert.Equal(t, typ, s.Type())

			id, err := s.Insert(ctx, domain.NewTicket(domain.Console(), nil, "hello", time.Unix(1, 0)))
			require.NoError(t, err)
			assert.Equal(t, int64(1), id)
			require.NoError(t, s.Close(ctx))
		})
	}
}

func TestOpenPostgresWithoutDSN(t *testing.T) {
	f := New(testConfig(t), nil, nil)
	_, err := f.Open(context.Background(), store.TypePostgres)
	assert.ErrorIs(t, err, store.ErrBackendUnavailable)
}

func TestOpenUnknownType(t *testing.T) {
	f := New(testConfig(t), nil, nil)
	_, err := f.Open(context.Background(), store.Type("flatfile"))
	assert.Error(t, err)
}
