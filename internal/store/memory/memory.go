// Package memory keeps every ticket in process memory and persists the
// whole set as a compressed snapshot on a timer and at shutdown.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/query"
	"github.com/spec-kit/ticket-manager/internal/store"
	"github.com/spec-kit/ticket-manager/internal/store/ticketmap"
)

// Options configures the memory store. An empty Path disables snapshots
// and a zero Interval disables the periodic writer.
type Options struct {
	Path     string
	Interval time.Duration
	Logger   *zap.Logger
	// OnSnapshotError is called when a periodic snapshot fails.
	OnSnapshotError func(error)
}

// Store is the in-memory backend.
type Store struct {
	tickets *ticketmap.Map
	opts    Options
	logger  *zap.Logger

	snapMu sync.Mutex
	// writeMu is held shared by mutations and exclusively while closing,
	// so the final snapshot sees every accepted write.
	writeMu sync.RWMutex
	closed  atomic.Bool
	once   sync.Once
	stop   chan struct{}
	wg     sync.WaitGroup
}

var _ store.Store = (*Store)(nil)

// Open loads the snapshot at opts.Path, if any, and starts the periodic
// snapshot writer.
func Open(ctx context.Context, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		tickets: ticketmap.New(),
		opts:    opts,
		logger:  logger.With(zap.String("store", string(store.TypeMemory))),
		stop:    make(chan struct{}),
	}

	if opts.Path != "" {
		tickets, next, err := readSnapshot(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("load memory snapshot: %w", err)
		}
		s.tickets.Load(tickets)
		s.tickets.AdvanceTo(next)
		s.logger.Info("memory snapshot loaded", zap.String("path", opts.Path), zap.Int("tickets", len(tickets)))
	}

	if opts.Path != "" && opts.Interval > 0 {
		s.wg.Add(1)
		go s.snapshotLoop(opts.Interval)
	}
	return s, nil
}

func (s *Store) snapshotLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// skip the tick while a previous snapshot is still being written
			if !s.snapMu.TryLock() {
				continue
			}
			err := s.writeLocked()
			s.snapMu.Unlock()
			if err != nil {
				s.logger.Error("periodic snapshot failed", zap.Error(err))
				if s.opts.OnSnapshotError != nil {
					s.opts.OnSnapshotError(err)
				}
			}
		}
	}
}

// Snapshot writes the current state to disk.
func (s *Store) Snapshot(ctx context.Context) error {
	if s.opts.Path == "" {
		return nil
	}
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.writeLocked()
}

func (s *Store) writeLocked() error {
	start := time.Now()
	tickets := s.tickets.All()
	if err := writeSnapshot(s.opts.Path, tickets, s.tickets.NextID()); err != nil {
		return fmt.Errorf("write memory snapshot: %w", err)
	}
	s.logger.Debug("memory snapshot written",
		zap.Int("tickets", len(tickets)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// Flush writes a snapshot so that a reopened store sees every change.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.Snapshot(ctx)
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return ctx.Err()
}

func (s *Store) mutate(ctx context.Context, fn func() error) error {
	s.writeMu.RLock()
	defer s.writeMu.RUnlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	return fn()
}

func (s *Store) Type() store.Type { return store.TypeMemory }

func (s *Store) Insert(ctx context.Context, ticket domain.Ticket) (int64, error) {
	var id int64
	err := s.mutate(ctx, func() error {
		var err error
		id, err = s.tickets.Insert(ticket, nil)
		return err
	})
	return id, err
}

func (s *Store) Import(ctx context.Context, ticket domain.Ticket) error {
	return s.mutate(ctx, func() error { return s.tickets.Import(ticket, nil) })
}

func (s *Store) Get(ctx context.Context, id int64) (domain.Ticket, error) {
	if err := s.check(ctx); err != nil {
		return domain.Ticket{}, err
	}
	return s.tickets.Get(id)
}

func (s *Store) GetMany(ctx context.Context, ids []int64) ([]domain.Ticket, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.tickets.GetMany(ids), nil
}

func (s *Store) update(ctx context.Context, id int64, fn func(domain.Ticket) (domain.Ticket, error)) error {
	return s.mutate(ctx, func() error {
		_, err := s.tickets.Update(id, fn)
		return err
	})
}

func set(fn func(domain.Ticket) domain.Ticket) func(domain.Ticket) (domain.Ticket, error) {
	return func(t domain.Ticket) (domain.Ticket, error) { return fn(t), nil }
}

func (s *Store) SetStatus(ctx context.Context, id int64, status domain.TicketStatus) error {
	return s.update(ctx, id, set(func(t domain.Ticket) domain.Ticket { return t.WithStatus(status) }))
}

func (s *Store) SetPriority(ctx context.Context, id int64, priority domain.TicketPriority) error {
	return s.update(ctx, id, set(func(t domain.Ticket) domain.Ticket { return t.WithPriority(priority) }))
}

func (s *Store) SetAssignment(ctx context.Context, id int64, assignment domain.Assignment) error {
	return s.update(ctx, id, set(func(t domain.Ticket) domain.Ticket { return t.WithAssignment(assignment) }))
}

func (s *Store) SetCreatorStatusUpdate(ctx context.Context, id int64, update bool) error {
	return s.update(ctx, id, set(func(t domain.Ticket) domain.Ticket { return t.WithCreatorStatusUpdate(update) }))
}

func (s *Store) AppendAction(ctx context.Context, id int64, action domain.Action) error {
	return s.update(ctx, id, func(t domain.Ticket) (domain.Ticket, error) {
		if err := t.CanAppend(action); err != nil {
			return domain.Ticket{}, err
		}
		return t.WithAction(action), nil
	})
}

func (s *Store) MassClose(ctx context.Context, lo, hi int64, actor domain.Creator, location *domain.Location) error {
	action := domain.Action{Kind: domain.MassClose{}, Actor: actor, Location: location, Timestamp: time.Now().Unix()}
	return s.mutate(ctx, func() error {
		_, err := s.tickets.MassClose(lo, hi, action, nil)
		return err
	})
}

func (s *Store) CountOpen(ctx context.Context) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return s.tickets.CountOpen(), nil
}

func (s *Store) CountOpenAssignedTo(ctx context.Context, assignment domain.Assignment, groups []string) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return s.tickets.CountOpenAssignedTo(assignment, groups), nil
}

func (s *Store) OpenTickets(ctx context.Context, page, pageSize int) (query.Page, error) {
	if err := s.check(ctx); err != nil {
		return query.Page{}, err
	}
	return s.tickets.OpenTickets(page, pageSize), nil
}

func (s *Store) OpenTicketsAssignedTo(ctx context.Context, assignment domain.Assignment, groups []string, page, pageSize int) (query.Page, error) {
	if err := s.check(ctx); err != nil {
		return query.Page{}, err
	}
	return s.tickets.OpenTicketsAssignedTo(assignment, groups, page, pageSize), nil
}

func (s *Store) OpenTicketsNotAssigned(ctx context.Context, page, pageSize int) (query.Page, error) {
	if err := s.check(ctx); err != nil {
		return query.Page{}, err
	}
	return s.tickets.OpenTicketsNotAssigned(page, pageSize), nil
}

func (s *Store) Search(ctx context.Context, constraints query.Constraints, page, pageSize int) (query.Page, error) {
	if err := s.check(ctx); err != nil {
		return query.Page{}, err
	}
	return s.tickets.Search(constraints, page, pageSize)
}

func (s *Store) IDsWithUnreadUpdates(ctx context.Context) ([]int64, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.tickets.IDsWithUnreadUpdates(), nil
}

func (s *Store) IDsWithUnreadUpdatesFor(ctx context.Context, creator domain.Creator) ([]int64, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.tickets.IDsWithUnreadUpdatesFor(creator), nil
}

func (s *Store) OwnedTicketIDs(ctx context.Context, creator domain.Creator) ([]int64, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.tickets.OwnedTicketIDs(creator), nil
}

func (s *Store) OpenTicketIDs(ctx context.Context) ([]int64, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.tickets.OpenTicketIDs(), nil
}

func (s *Store) OpenTicketIDsFor(ctx context.Context, creator domain.Creator) ([]int64, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.tickets.OpenTicketIDsFor(creator), nil
}

func (s *Store) Each(ctx context.Context, fn func(domain.Ticket) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	for _, id := range s.tickets.IDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, err := s.tickets.Get(id)
		if err != nil {
			continue
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the snapshot timer and writes a final snapshot.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		s.closed.Store(true)
		s.writeMu.Unlock()
		close(s.stop)
		s.wg.Wait()
		err = s.Snapshot(ctx)
		s.logger.Info("memory store closed")
	})
	return err
}
