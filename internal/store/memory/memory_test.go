package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/store"
	"github.com/spec-kit/ticket-manager/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(context.Background(), Options{
			Path:   filepath.Join(t.TempDir(), "tickets.snapshot"),
			Logger: zaptest.NewLogger(t),
		})
		require.NoError(t, err)
		return s
	})
}

func TestConformanceWithoutSnapshot(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(context.Background(), Options{})
		require.NoError(t, err)
		return s
	})
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tickets.snapshot")
	creator := domain.User(uuid.New())

	s, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	id, err := s.Insert(ctx, domain.NewTicket(creator, &domain.Location{Server: "hub", World: "nether", X: 1, Y: 2, Z: 3}, "help", time.Unix(10, 0)))
	require.NoError(t, err)
	require.NoError(t, s.AppendAction(ctx, id, domain.Action{Kind: domain.Assign{Target: domain.Group("mods")}, Actor: domain.Console(), Timestamp: 20}))
	require.NoError(t, s.SetAssignment(ctx, id, domain.Group("mods")))
	want, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	reopened, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	defer reopened.Close(ctx)

	got, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	next, err := reopened.Insert(ctx, domain.NewTicket(creator, nil, "again", time.Unix(30, 0)))
	require.NoError(t, err)
	assert.Equal(t, id+1, next)
}

func TestCloseKeepsAcceptedWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tickets.snapshot")
	s, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := s.Insert(ctx, domain.NewTicket(domain.Console(), nil, "racing", time.Unix(1, 0)))
				if err != nil {
					assert.ErrorIs(t, err, store.ErrClosed)
					return
				}
				accepted.Add(1)
			}
		}()
	}
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Close(ctx))
	wg.Wait()

	reopened, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	defer reopened.Close(ctx)
	n, err := reopened.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int(accepted.Load()), n)
}

func TestPeriodicSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tickets.snapshot")

	s, err := Open(ctx, Options{Path: path, Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close(ctx)

	_, err = s.Insert(ctx, domain.NewTicket(domain.Console(), nil, "tick", time.Unix(1, 0)))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		tickets, _, err := readSnapshot(path)
		return err == nil && len(tickets) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOpenRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.snapshot")
	require.NoError(t, os.WriteFile(path, []byte("not zstd"), 0o644))

	_, err := Open(context.Background(), Options{Path: path})
	assert.Error(t, err)
}
