package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/ticket-manager/internal/config"
	"github.com/spec-kit/ticket-manager/internal/persistence"
	"github.com/spec-kit/ticket-manager/internal/store"
	"github.com/spec-kit/ticket-manager/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		pg, err := persistence.NewPostgres(ctx, config.PostgresConfig{DSN: dsn, RunMigrations: true}, zaptest.NewLogger(t))
		require.NoError(t, err)
		_, err = pg.Pool.Exec(ctx, `TRUNCATE actions, tickets RESTART IDENTITY`)
		require.NoError(t, err)
		return New(pg.Pool, Options{Logger: zaptest.NewLogger(t)})
	})
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil, 1))
	assert.ErrorIs(t, mapErr(pgx.ErrNoRows, 1), store.ErrNotFound)
	assert.ErrorIs(t, mapErr(&pgconn.PgError{Code: uniqueViolation}, 1), store.ErrDuplicateID)

	syntax := &pgconn.PgError{Code: "42601"}
	assert.Same(t, syntax, mapErr(syntax, 1))

	err := mapErr(errors.New("dial tcp: connection refused"), 1)
	assert.ErrorIs(t, err, store.ErrBackendUnavailable)
	assert.ErrorIs(t, mapErr(context.DeadlineExceeded, 1), store.ErrBackendUnavailable)
}
