// Package factory builds configured Store backends by type.
package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-manager/internal/config"
	"github.com/spec-kit/ticket-manager/internal/observability"
	"github.com/spec-kit/ticket-manager/internal/persistence"
	"github.com/spec-kit/ticket-manager/internal/store"
	"github.com/spec-kit/ticket-manager/internal/store/cachedsqlite"
	"github.com/spec-kit/ticket-manager/internal/store/memory"
	"github.com/spec-kit/ticket-manager/internal/store/postgres"
	"github.com/spec-kit/ticket-manager/internal/store/redis"
	"github.com/spec-kit/ticket-manager/internal/store/sqlite"
)

// Factory opens backends from the loaded configuration.
type Factory struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New returns a Factory. metrics may be nil.
func New(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger, metrics: metrics}
}

// Configured is the backend named by STORE_TYPE.
func (f *Factory) Configured() store.Type {
	return store.Type(f.cfg.Store.Type)
}

// Open constructs and initialises the backend t. Schema setup and startup
// loads happen here, so a returned store is ready for use.
func (f *Factory) Open(ctx context.Context, t store.Type) (store.Store, error) {
	switch t {
	case store.TypeMemory:
		return memory.Open(ctx, memory.Options{
			Path:     f.cfg.Store.SnapshotPath(),
			Interval: f.cfg.Store.SnapshotInterval(),
			Logger:   f.logger,
			OnSnapshotError: func(err error) {
				f.metrics.RecordBackgroundFailure("memory_snapshot")
			},
		})
	case store.TypeSQLite:
		return sqlite.Open(ctx, f.cfg.SQLite.Path, f.logger)
	case store.TypeCachedSQLite:
		return cachedsqlite.Open(ctx, cachedsqlite.Options{
			Path:      f.cfg.SQLite.CachedPath,
			PoolSize:  f.cfg.SQLite.PoolSize,
			QueueSize: f.cfg.Store.WriteQueueSize,
			Logger:    f.logger,
			OnWriteFailure: func(job string, err error) {
				f.metrics.RecordBackgroundFailure("cached_sqlite_write")
			},
		})
	case store.TypePostgres:
		pg, err := persistence.NewPostgres(ctx, f.cfg.Postgres, f.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrBackendUnavailable, err)
		}
		return postgres.New(pg.Pool, postgres.Options{
			Timeout: f.cfg.Store.OperationTimeout(),
			Logger:  f.logger,
		}), nil
	case store.TypeRedis:
		rdb, err := persistence.NewRedis(ctx, f.cfg.Redis, f.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrBackendUnavailable, err)
		}
		s, err := redis.New(ctx, rdb.Client, redis.Options{
			Timeout: f.cfg.Store.OperationTimeout(),
			Logger:  f.logger,
		})
		if err != nil {
			rdb.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", t)
	}
}
