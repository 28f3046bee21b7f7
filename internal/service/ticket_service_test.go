package service

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/ticket-manager/internal/config"
	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/events"
	"github.com/spec-kit/ticket-manager/internal/observability"
	"github.com/spec-kit/ticket-manager/internal/query"
	"github.com/spec-kit/ticket-manager/internal/store"
	"github.com/spec-kit/ticket-manager/internal/store/factory"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// countingOpener wraps a factory and counts Open calls.
type countingOpener struct {
	*factory.Factory
	opened atomic.Int32
	open   func(ctx context.Context, t store.Type) (store.Store, error)
}

func (o *countingOpener) Open(ctx context.Context, t store.Type) (store.Store, error) {
	o.opened.Add(1)
	if o.open != nil {
		return o.open(ctx, t)
	}
	return o.Factory.Open(ctx, t)
}

func newService(t *testing.T) (*TicketService, *recorder, *countingOpener) {
	dir := t.TempDir()
	cfg := &config.Config{
		Store: config.StoreConfig{Type: "memory", DataDir: dir},
		SQLite: config.SQLiteConfig{
			Path:       filepath.Join(dir, "sqlite.db"),
			CachedPath: filepath.Join(dir, "cached.db"),
		},
	}
	opener := &countingOpener{Factory: factory.New(cfg, zaptest.NewLogger(t), nil)}
	active, err := opener.Factory.Open(context.Background(), store.TypeMemory)
	require.NoError(t, err)

	dispatcher := events.NewInMemoryDispatcher()
	rec := &recorder{}
	dispatcher.SubscribeAll(rec.handle)

	svc := NewTicketService(TicketDependencies{
		Store:      active,
		Opener:     opener,
		Dispatcher: dispatcher,
		Metrics:    observability.NewMetrics(),
		Logger:     zaptest.NewLogger(t),
	})
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc, rec, opener
}

func TestMutationsPublishEvents(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newService(t)
	player := domain.User(uuid.New())

	ticket, err := svc.CreateTicket(ctx, player, &domain.Location{World: "world"}, "help", domain.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ticket.ID)
	assert.Equal(t, domain.PriorityHigh, ticket.Priority)

	require.NoError(t, svc.SetPriority(ctx, ticket.ID, domain.PriorityLowest))
	require.NoError(t, svc.SetAssignment(ctx, ticket.ID, domain.Group("mods")))
	require.NoError(t, svc.AppendAction(ctx, ticket.ID, domain.Action{Kind: domain.Comment{Text: "ok"}, Actor: domain.Console(), Timestamp: time.Now().Unix()}))
	require.NoError(t, svc.SetStatus(ctx, ticket.ID, domain.TicketStatusClosed))
	require.NoError(t, svc.SetCreatorStatusUpdate(ctx, ticket.ID, true))
	require.NoError(t, svc.MassClose(ctx, 1, 5, domain.Console(), nil))

	assert.Equal(t, []events.EventType{
		events.EventTicketCreated,
		events.EventTicketPriorityChanged,
		events.EventTicketAssigned,
		events.EventTicketActionAppended,
		events.EventTicketStatusChanged,
		events.EventTicketsMassClosed,
	}, rec.types())

	ids, err := svc.IDsWithUnreadUpdatesFor(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)

	snap := svc.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.StoreOps["memory|insert"])
}

func TestFailedMutationPublishesNothing(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newService(t)

	assert.ErrorIs(t, svc.SetPriority(ctx, 42, domain.PriorityHigh), store.ErrNotFound)
	assert.ErrorIs(t, svc.SetPriority(ctx, 42, domain.TicketPriority(9)), domain.ErrInvalidTicket)
	assert.ErrorIs(t, svc.MassClose(ctx, 5, 1, domain.Console(), nil), domain.ErrInvalidTicket)
	assert.Empty(t, rec.types())
}

func TestMutationsLockedOutsideRunning(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	_, err := svc.CreateTicket(ctx, domain.Console(), nil, "first", 0)
	require.NoError(t, err)

	svc.state.Store(int32(StateMigrating))
	_, err = svc.CreateTicket(ctx, domain.Console(), nil, "second", 0)
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, svc.SetStatus(ctx, 1, domain.TicketStatusClosed), ErrLocked)
	_, err = svc.MigrateTo(ctx, store.TypeSQLite)
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, svc.Reload(ctx), ErrLocked)

	// reads still work
	got, err := svc.GetTicket(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, got.Status)

	svc.state.Store(int32(StateRunning))
	assert.NoError(t, svc.SetStatus(ctx, 1, domain.TicketStatusClosed))
}

func TestMigrateToSwapsActiveStore(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newService(t)
	for i := 0; i < 3; i++ {
		_, err := svc.CreateTicket(ctx, domain.Console(), nil, "ticket", 0)
		require.NoError(t, err)
	}

	report, err := svc.MigrateTo(ctx, store.TypeSQLite)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Migrated)
	assert.Equal(t, store.TypeSQLite, svc.ActiveType())
	assert.Equal(t, StateRunning, svc.State())
	assert.Contains(t, rec.types(), events.EventStoreMigrated)

	got, err := svc.GetTickets(ctx, []int64{3, 1, 9})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)

	ticket, err := svc.CreateTicket(ctx, domain.Console(), nil, "after", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), ticket.ID)

	_, err = svc.MigrateTo(ctx, store.TypeSQLite)
	assert.ErrorIs(t, err, store.ErrSameBackend)
}

func TestMigrateToFailureKeepsSource(t *testing.T) {
	ctx := context.Background()
	svc, _, opener := newService(t)
	_, err := svc.CreateTicket(ctx, domain.Console(), nil, "ticket", 0)
	require.NoError(t, err)

	var dst store.Store
	opener.open = func(ctx context.Context, t store.Type) (store.Store, error) {
		s, err := opener.Factory.Open(ctx, t)
		if err != nil {
			return nil, err
		}
		dst = s
		return s, s.Import(ctx, domain.NewTicket(domain.Console(), nil, "taken", time.Unix(1, 0)).WithID(1))
	}

	_, err = svc.MigrateTo(ctx, store.TypeSQLite)
	assert.ErrorIs(t, err, store.ErrDuplicateID)
	assert.Equal(t, store.TypeMemory, svc.ActiveType())
	assert.Equal(t, StateRunning, svc.State())

	_, err = dst.Get(ctx, 1)
	assert.ErrorIs(t, err, store.ErrClosed)

	_, err = svc.CreateTicket(ctx, domain.Console(), nil, "still writable", 0)
	assert.NoError(t, err)
}

// blockingStore holds SetStatus until release is closed.
type blockingStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) SetStatus(ctx context.Context, id int64, status domain.TicketStatus) error {
	close(b.entered)
	<-b.release
	return b.Store.SetStatus(ctx, id, status)
}

func TestTransitionWaitsForInFlightMutation(t *testing.T) {
	ctx := context.Background()
	svc, _, opener := newService(t)
	_, err := svc.CreateTicket(ctx, domain.Console(), nil, "ticket", 0)
	require.NoError(t, err)

	blocking := &blockingStore{Store: svc.active, entered: make(chan struct{}), release: make(chan struct{})}
	svc.active = blocking

	mutated := make(chan error, 1)
	go func() { mutated <- svc.SetStatus(ctx, 1, domain.TicketStatusClosed) }()
	<-blocking.entered

	migrated := make(chan error, 1)
	go func() {
		_, err := svc.MigrateTo(ctx, store.TypeCachedSQLite)
		migrated <- err
	}()

	assert.Eventually(t, func() bool { return svc.State() == StateMigrating }, time.Second, time.Millisecond)
	// the destination is not opened until the mutation finishes
	assert.Equal(t, int32(0), opener.opened.Load())

	close(blocking.release)
	require.NoError(t, <-mutated)
	require.NoError(t, <-migrated)

	got, err := svc.GetTicket(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, got.Status)
	assert.Equal(t, store.TypeCachedSQLite, svc.ActiveType())
}

func TestReloadReopensConfiguredBackend(t *testing.T) {
	ctx := context.Background()
	svc, _, opener := newService(t)
	_, err := svc.CreateTicket(ctx, domain.Console(), nil, "survives reload", 0)
	require.NoError(t, err)

	require.NoError(t, svc.Reload(ctx))
	assert.Equal(t, int32(1), opener.opened.Load())
	assert.Equal(t, store.TypeMemory, svc.ActiveType())

	page, err := svc.Search(ctx, query.Constraints{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalResults)
	require.NoError(t, svc.Ready(ctx))
}
