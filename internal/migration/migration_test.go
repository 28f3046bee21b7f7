package migration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/store"
	"github.com/spec-kit/ticket-manager/internal/store/cachedsqlite"
	"github.com/spec-kit/ticket-manager/internal/store/memory"
	sqlitestore "github.com/spec-kit/ticket-manager/internal/store/sqlite"
)

func openMemory(t *testing.T) *memory.Store {
	s, err := memory.Open(context.Background(), memory.Options{})
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s store.Store, n int) []domain.Ticket {
	ctx := context.Background()
	player := domain.User(uuid.New())
	var out []domain.Ticket
	for i := 0; i < n; i++ {
		id, err := s.Insert(ctx, domain.NewTicket(player, &domain.Location{World: "world", X: i}, "ticket", time.Unix(int64(100+i), 0)))
		require.NoError(t, err)
		require.NoError(t, s.AppendAction(ctx, id, domain.Action{
			Kind:      domain.Comment{Text: "reply"},
			Actor:     domain.Console(),
			Timestamp: int64(200 + i),
		}))
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		out = append(out, got)
	}
	require.NoError(t, s.MassClose(ctx, 2, 3, domain.Console(), nil))
	for i := range out {
		got, err := s.Get(ctx, out[i].ID)
		require.NoError(t, err)
		out[i] = got
	}
	return out
}

func TestMigrateMemoryToCachedSQLite(t *testing.T) {
	ctx := context.Background()
	src := openMemory(t)
	want := seed(t, src, 5)

	core, logs := observer.New(zap.InfoLevel)
	dst, err := cachedsqlite.Open(ctx, cachedsqlite.Options{Path: filepath.Join(t.TempDir(), "dst.db")})
	require.NoError(t, err)
	defer dst.Close(ctx)

	report, err := Migrate(ctx, src, dst, Options{LogEvery: 2, Logger: zap.New(core)})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Migrated)
	assert.Equal(t, store.TypeMemory, report.From)
	assert.Equal(t, store.TypeCachedSQLite, report.To)
	assert.Len(t, logs.FilterMessage("migration progress").All(), 2)

	for _, w := range want {
		got, err := dst.Get(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}

	// the source was closed
	_, err = src.Get(ctx, 1)
	assert.ErrorIs(t, err, store.ErrClosed)

	// ids continue after the migrated range
	id, err := dst.Insert(ctx, domain.NewTicket(domain.Console(), nil, "next", time.Unix(999, 0)))
	require.NoError(t, err)
	assert.Equal(t, int64(6), id)
}

func TestMigrateKeepSource(t *testing.T) {
	ctx := context.Background()
	src := openMemory(t)
	defer src.Close(ctx)
	seed(t, src, 2)

	dst, err := sqlitestore.Open(ctx, filepath.Join(t.TempDir(), "dst.db"), nil)
	require.NoError(t, err)
	defer dst.Close(ctx)

	report, err := Migrate(ctx, src, dst, Options{KeepSource: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Migrated)

	n, err := src.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMigrateRejectsSameBackend(t *testing.T) {
	ctx := context.Background()
	a, b := openMemory(t), openMemory(t)
	defer a.Close(ctx)
	defer b.Close(ctx)

	_, err := Migrate(ctx, a, b, Options{})
	assert.ErrorIs(t, err, store.ErrSameBackend)
}

func TestMigrateStopsOnCollision(t *testing.T) {
	ctx := context.Background()
	src := openMemory(t)
	defer src.Close(ctx)
	seed(t, src, 3)

	dst, err := sqlitestore.Open(ctx, filepath.Join(t.TempDir(), "dst.db"), nil)
	require.NoError(t, err)
	defer dst.Close(ctx)
	require.NoError(t, dst.Import(ctx, domain.NewTicket(domain.Console(), nil, "occupied", time.Unix(1, 0)).WithID(2)))

	report, err := Migrate(ctx, src, dst, Options{})
	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, int64(2), merr.TicketID)
	assert.ErrorIs(t, err, store.ErrDuplicateID)
	assert.Equal(t, 1, report.Migrated)

	// the source stays open after a failure
	_, err = src.Get(ctx, 1)
	assert.NoError(t, err)
}

func TestMigrateFailsWhenDestinationWritesFail(t *testing.T) {
	ctx := context.Background()
	src := openMemory(t)
	defer src.Close(ctx)
	seed(t, src, 3)

	path := filepath.Join(t.TempDir(), "dst.db")
	dst, err := cachedsqlite.Open(ctx, cachedsqlite.Options{Path: path})
	require.NoError(t, err)
	defer dst.Close(ctx)

	conn, err := sqlite.OpenConn(path)
	require.NoError(t, err)
	require.NoError(t, sqlitex.ExecuteTransient(conn, "DROP TABLE actions", nil))
	require.NoError(t, conn.Close())

	_, err = Migrate(ctx, src, dst, Options{})
	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Contains(t, err.Error(), "flush destination")

	// the source stays open after a failed flush
	n, err := src.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
