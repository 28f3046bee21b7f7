// Package postgres stores tickets in PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/query"
	"github.com/spec-kit/ticket-manager/internal/repository"
	"github.com/spec-kit/ticket-manager/internal/store"
)

const uniqueViolation = "23505"

// Options configures the Postgres store.
type Options struct {
	// Timeout bounds each store operation. Zero means no extra bound.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Store is the Postgres backend.
type Store struct {
	pool    *pgxpool.Pool
	tickets repository.TicketRepository
	actions repository.ActionRepository
	timeout time.Duration
	logger  *zap.Logger
	closed  atomic.Bool
	once    sync.Once
}

var _ store.Store = (*Store)(nil)

// New wraps an already migrated pool. The store closes the pool on Close.
func New(pool *pgxpool.Pool, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:    pool,
		tickets: repository.NewTicketRepository(),
		actions: repository.NewActionRepository(),
		timeout: opts.Timeout,
		logger:  logger.With(zap.String("store", string(store.TypePostgres))),
	}
}

func (s *Store) Type() store.Type { return store.TypePostgres }

// begin checks the store is open and applies the operation timeout.
func (s *Store) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if s.closed.Load() {
		return ctx, func() {}, store.ErrClosed
	}
	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

// mapErr converts driver errors into store errors. Anything that is not
// a server-side rejection is treated as a connectivity problem.
func mapErr(err error, id int64) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %d", store.ErrNotFound, id)
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return fmt.Errorf("%w: %d", store.ErrDuplicateID, id)
	case errors.As(err, &pgErr):
		return err
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrDuplicateID), errors.Is(err, domain.ErrInvalidTicket):
		return err
	default:
		return fmt.Errorf("%w: %v", store.ErrBackendUnavailable, err)
	}
}

func (s *Store) tx(ctx context.Context, id int64, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return mapErr(pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	}), id)
}

func (s *Store) Insert(ctx context.Context, ticket domain.Ticket) (int64, error) {
	if err := ticket.Validate(); err != nil {
		return 0, err
	}
	rec := domain.ToRecord(ticket)
	var id int64
	err := s.tx(ctx, 0, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		if id, err = s.tickets.Create(ctx, tx, rec); err != nil {
			return err
		}
		return s.actions.CreateBatch(ctx, tx, id, rec.Actions)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) Import(ctx context.Context, ticket domain.Ticket) error {
	if ticket.ID <= 0 {
		return fmt.Errorf("%w: import needs a positive id", store.ErrInvalidTicket)
	}
	if err := ticket.Validate(); err != nil {
		return err
	}
	rec := domain.ToRecord(ticket)
	return s.tx(ctx, ticket.ID, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.tickets.Import(ctx, tx, rec); err != nil {
			return err
		}
		if err := s.actions.CreateBatch(ctx, tx, rec.ID, rec.Actions); err != nil {
			return err
		}
		return s.tickets.ResetSequence(ctx, tx)
	})
}

func (s *Store) load(ctx context.Context, f repository.TicketFilter) ([]domain.Ticket, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	records, err := s.tickets.ListWithFilter(ctx, s.pool, f)
	if err != nil {
		return nil, mapErr(err, 0)
	}
	if len(records) == 0 {
		return []domain.Ticket{}, nil
	}
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	actions, err := s.actions.ListByTickets(ctx, s.pool, ids)
	if err != nil {
		return nil, mapErr(err, 0)
	}
	return repository.Assemble(records, actions)
}

func (s *Store) count(ctx context.Context, f repository.TicketFilter) (int, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	n, err := s.tickets.Count(ctx, s.pool, f)
	return n, mapErr(err, 0)
}

func (s *Store) ids(ctx context.Context, f repository.TicketFilter) ([]int64, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	ids, err := s.tickets.ListIDs(ctx, s.pool, f)
	if err != nil {
		return nil, mapErr(err, 0)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

func (s *Store) Get(ctx context.Context, id int64) (domain.Ticket, error) {
	tickets, err := s.load(ctx, repository.TicketFilter{IDs: []int64{id}})
	if err != nil {
		return domain.Ticket{}, err
	}
	if len(tickets) == 0 {
		return domain.Ticket{}, fmt.Errorf("%w: %d", store.ErrNotFound, id)
	}
	return tickets[0], nil
}

func (s *Store) GetMany(ctx context.Context, ids []int64) ([]domain.Ticket, error) {
	if len(ids) == 0 {
		return []domain.Ticket{}, nil
	}
	tickets, err := s.load(ctx, repository.TicketFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Ticket, len(tickets))
	for _, t := range tickets {
		byID[t.ID] = t
	}
	out := make([]domain.Ticket, 0, len(tickets))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) exec(ctx context.Context, id int64, fn func(ctx context.Context, db repository.DBTX) error) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return mapErr(fn(ctx, s.pool), id)
}

func (s *Store) SetStatus(ctx context.Context, id int64, status domain.TicketStatus) error {
	return s.exec(ctx, id, func(ctx context.Context, db repository.DBTX) error {
		return s.tickets.SetStatus(ctx, db, id, status)
	})
}

func (s *Store) SetPriority(ctx context.Context, id int64, priority domain.TicketPriority) error {
	return s.exec(ctx, id, func(ctx context.Context, db repository.DBTX) error {
		return s.tickets.SetPriority(ctx, db, id, priority)
	})
}

func (s *Store) SetAssignment(ctx context.Context, id int64, assignment domain.Assignment) error {
	return s.exec(ctx, id, func(ctx context.Context, db repository.DBTX) error {
		return s.tickets.SetAssignment(ctx, db, id, assignment)
	})
}

func (s *Store) SetCreatorStatusUpdate(ctx context.Context, id int64, update bool) error {
	return s.exec(ctx, id, func(ctx context.Context, db repository.DBTX) error {
		return s.tickets.SetCreatorStatusUpdate(ctx, db, id, update)
	})
}

func (s *Store) AppendAction(ctx context.Context, id int64, action domain.Action) error {
	rec := domain.EncodeAction(action)
	return s.tx(ctx, id, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.tickets.LockByID(ctx, tx, id); err != nil {
			return err
		}
		openedAt, err := s.actions.OpenedAt(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := domain.CheckAppend(openedAt, action); err != nil {
			return err
		}
		return s.actions.Create(ctx, tx, id, rec)
	})
}

func (s *Store) MassClose(ctx context.Context, lo, hi int64, actor domain.Creator, location *domain.Location) error {
	rec := domain.EncodeAction(domain.Action{Kind: domain.MassClose{}, Actor: actor, Location: location, Timestamp: time.Now().Unix()})
	return s.tx(ctx, 0, func(ctx context.Context, tx pgx.Tx) error {
		closed, err := s.tickets.CloseOpenInRange(ctx, tx, lo, hi)
		if err != nil {
			return err
		}
		for _, id := range closed {
			if err := s.actions.Create(ctx, tx, id, rec); err != nil {
				return err
			}
		}
		s.logger.Debug("mass close", zap.Int64("from", lo), zap.Int64("to", hi), zap.Int("closed", len(closed)))
		return nil
	})
}

func (s *Store) CountOpen(ctx context.Context) (int, error) {
	return s.count(ctx, repository.OpenFilter())
}

func (s *Store) CountOpenAssignedTo(ctx context.Context, assignment domain.Assignment, groups []string) (int, error) {
	return repository.CountOpenAssignedTo(ctx, s.count, assignment, groups)
}

func (s *Store) OpenTickets(ctx context.Context, page, pageSize int) (query.Page, error) {
	return repository.ListPage(ctx, s.load, repository.OpenFilter(), page, pageSize)
}

func (s *Store) OpenTicketsAssignedTo(ctx context.Context, assignment domain.Assignment, groups []string, page, pageSize int) (query.Page, error) {
	return repository.OpenTicketsAssignedTo(ctx, s.load, assignment, groups, page, pageSize)
}

func (s *Store) OpenTicketsNotAssigned(ctx context.Context, page, pageSize int) (query.Page, error) {
	f := repository.OpenFilter()
	f.Unassigned = true
	return repository.ListPage(ctx, s.load, f, page, pageSize)
}

func (s *Store) Search(ctx context.Context, constraints query.Constraints, page, pageSize int) (query.Page, error) {
	return repository.Search(ctx, s.load, constraints, page, pageSize)
}

func flagged() *bool {
	v := true
	return &v
}

func (s *Store) IDsWithUnreadUpdates(ctx context.Context) ([]int64, error) {
	return s.ids(ctx, repository.TicketFilter{CreatorStatusUpdate: flagged()})
}

func (s *Store) IDsWithUnreadUpdatesFor(ctx context.Context, creator domain.Creator) ([]int64, error) {
	return s.ids(ctx, repository.TicketFilter{CreatorStatusUpdate: flagged(), Creator: &creator})
}

func (s *Store) OwnedTicketIDs(ctx context.Context, creator domain.Creator) ([]int64, error) {
	return s.ids(ctx, repository.TicketFilter{Creator: &creator})
}

func (s *Store) OpenTicketIDs(ctx context.Context) ([]int64, error) {
	return s.ids(ctx, repository.OpenFilter())
}

func (s *Store) OpenTicketIDsFor(ctx context.Context, creator domain.Creator) ([]int64, error) {
	f := repository.OpenFilter()
	f.Creator = &creator
	return s.ids(ctx, f)
}

func (s *Store) Each(ctx context.Context, fn func(domain.Ticket) error) error {
	ids, err := s.ids(ctx, repository.TicketFilter{})
	if err != nil {
		return err
	}
	return repository.Each(ctx, ids, s.load, fn)
}

// Close releases the pool.
func (s *Store) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.pool.Close()
		s.logger.Info("postgres store closed")
	})
	return nil
}
