// Package cachedsqlite serves every read from memory and writes changes
// to a SQLite file in the background, in the order they were made.
package cachedsqlite

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/persistence"
	"github.com/spec-kit/ticket-manager/internal/query"
	"github.com/spec-kit/ticket-manager/internal/repository"
	"github.com/spec-kit/ticket-manager/internal/store"
	"github.com/spec-kit/ticket-manager/internal/store/ticketmap"
	"github.com/spec-kit/ticket-manager/internal/worker"
)

// Options configures the cached SQLite store.
type Options struct {
	Path      string
	PoolSize  int
	QueueSize int
	Logger    *zap.Logger
	// OnWriteFailure is called from the writer goroutine when a
	// background write fails. The in-memory state is not rolled back.
	OnWriteFailure func(job string, err error)
}

// Store is the cached SQLite backend.
type Store struct {
	tickets *ticketmap.Map
	pool    *sqlitex.Pool
	queue   *worker.Queue
	logger  *zap.Logger
	closed  atomic.Bool
	once    sync.Once
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Flusher = (*Store)(nil)
)

// Open loads the whole database into memory and starts the writer.
func Open(ctx context.Context, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("store", string(store.TypeCachedSQLite)))

	pool, err := persistence.OpenSQLitePool(ctx, opts.Path, opts.PoolSize, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrBackendUnavailable, err)
	}

	start := time.Now()
	tickets, err := loadAll(ctx, pool)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("load cached tickets: %w", err)
	}
	m := ticketmap.New()
	m.Load(tickets)
	logger.Info("ticket cache warmed", zap.Int("tickets", len(tickets)), zap.Duration("took", time.Since(start)))

	return &Store{
		tickets: m,
		pool:    pool,
		queue:   worker.NewQueue(opts.QueueSize, logger, opts.OnWriteFailure),
		logger:  logger,
	}, nil
}

func loadAll(ctx context.Context, pool *sqlitex.Pool) ([]domain.Ticket, error) {
	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer pool.Put(conn)

	var records []domain.TicketRecord
	err = sqlitex.Execute(conn, "SELECT "+repository.TicketColumns+" FROM tickets ORDER BY id", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			records = append(records, scanTicket(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	actions := make(map[int64][]domain.ActionRecord, len(records))
	err = sqlitex.Execute(conn, "SELECT "+repository.ActionColumns+" FROM actions ORDER BY ticket_id, epoch_time, action_id", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ticketID := stmt.ColumnInt64(0)
			actions[ticketID] = append(actions[ticketID], scanAction(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return repository.Assemble(records, actions)
}

// Columns follow repository.TicketColumns.
func scanTicket(stmt *sqlite.Stmt) domain.TicketRecord {
	return domain.TicketRecord{
		ID:                  stmt.ColumnInt64(0),
		Creator:             stmt.ColumnText(1),
		Priority:            uint8(stmt.ColumnInt64(2)),
		Status:              stmt.ColumnText(3),
		AssignedTo:          nullText(stmt, 4),
		CreatorStatusUpdate: stmt.ColumnInt64(5) != 0,
	}
}

// Columns follow repository.ActionColumns.
func scanAction(stmt *sqlite.Stmt) domain.ActionRecord {
	return domain.ActionRecord{
		Type:      domain.ActionType(stmt.ColumnText(1)),
		Actor:     stmt.ColumnText(2),
		Message:   nullText(stmt, 3),
		Timestamp: stmt.ColumnInt64(4),
		Server:    nullText(stmt, 5),
		World:     nullText(stmt, 6),
		X:         nullInt(stmt, 7),
		Y:         nullInt(stmt, 8),
		Z:         nullInt(stmt, 9),
	}
}

func nullText(stmt *sqlite.Stmt, col int) *string {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	v := stmt.ColumnText(col)
	return &v
}

func nullInt(stmt *sqlite.Stmt, col int) *int64 {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	v := stmt.ColumnInt64(col)
	return &v
}

// bindable turns the nullable pointers produced by the repository codec
// into values sqlitex binds natively.
func bindable(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case *string:
			if v != nil {
				out[i] = *v
			}
		case *int64:
			if v != nil {
				out[i] = *v
			}
		default:
			out[i] = a
		}
	}
	return out
}

// enqueue schedules fn to run in its own IMMEDIATE transaction on the
// writer goroutine.
func (s *Store) enqueue(name string, fn func(conn *sqlite.Conn) error) error {
	return s.queue.Enqueue(name, func(ctx context.Context) (err error) {
		conn, err := s.pool.Take(ctx)
		if err != nil {
			return err
		}
		defer s.pool.Put(conn)

		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endTransaction(&err)
		return fn(conn)
	})
}

func writeTicket(conn *sqlite.Conn, t domain.Ticket) error {
	rec := domain.ToRecord(t)
	args := append([]any{rec.ID}, repository.TicketArgs(rec)...)
	err := sqlitex.Execute(conn, "INSERT INTO tickets ("+repository.TicketColumns+") VALUES (?,?,?,?,?,?)",
		&sqlitex.ExecOptions{Args: bindable(args)})
	if err != nil {
		return err
	}
	for _, a := range rec.Actions {
		if err := writeAction(conn, t.ID, a); err != nil {
			return err
		}
	}
	return nil
}

func writeAction(conn *sqlite.Conn, ticketID int64, rec domain.ActionRecord) error {
	return sqlitex.Execute(conn, "INSERT INTO actions ("+repository.ActionColumns+") VALUES (?,?,?,?,?,?,?,?,?,?)",
		&sqlitex.ExecOptions{Args: bindable(repository.ActionArgs(ticketID, rec))})
}

func writeColumn(conn *sqlite.Conn, id int64, column string, value any) error {
	return sqlitex.Execute(conn, "UPDATE tickets SET "+column+" = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: bindable([]any{value, id})})
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return ctx.Err()
}

func (s *Store) Type() store.Type { return store.TypeCachedSQLite }

// Flush blocks until every write accepted so far is on disk.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.queue.Flush(ctx)
}

func (s *Store) persistNew(t domain.Ticket) error {
	return s.enqueue("insert ticket", func(conn *sqlite.Conn) error { return writeTicket(conn, t) })
}

func (s *Store) Insert(ctx context.Context, ticket domain.Ticket) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return s.tickets.Insert(ticket, s.persistNew)
}

func (s *Store) Import(ctx context.Context, ticket domain.Ticket) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.tickets.Import(ticket, s.persistNew)
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

// setColumn applies change in memory and queues the matching UPDATE
// while the ticket is still locked.
func (s *Store) setColumn(ctx context.Context, id int64, column string, value any, change func(domain.Ticket) domain.Ticket) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.tickets.Update(id, func(t domain.Ticket) (domain.Ticket, error) {
		if err := s.enqueue("update "+column, func(conn *sqlite.Conn) error {
			return writeColumn(conn, id, column, value)
		}); err != nil {
			return domain.Ticket{}, err
		}
		return change(t), nil
	})
	return err
}

func (s *Store) SetStatus(ctx context.Context, id int64, status domain.TicketStatus) error {
	return s.setColumn(ctx, id, "status", string(status), func(t domain.Ticket) domain.Ticket {
		return t.WithStatus(status)
	})
}

func (s *Store) SetPriority(ctx context.Context, id int64, priority domain.TicketPriority) error {
	return s.setColumn(ctx, id, "priority", int64(priority), func(t domain.Ticket) domain.Ticket {
		return t.WithPriority(priority)
	})
}

func (s *Store) SetAssignment(ctx context.Context, id int64, assignment domain.Assignment) error {
	return s.setColumn(ctx, id, "assigned_to", assignment.Column(), func(t domain.Ticket) domain.Ticket {
		return t.WithAssignment(assignment)
	})
}

func (s *Store) SetCreatorStatusUpdate(ctx context.Context, id int64, update bool) error {
	return s.setColumn(ctx, id, "status_update_for_creator", update, func(t domain.Ticket) domain.Ticket {
		return t.WithCreatorStatusUpdate(update)
	})
}

func (s *Store) AppendAction(ctx context.Context, id int64, action domain.Action) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	rec := domain.EncodeAction(action)
	_, err := s.tickets.Update(id, func(t domain.Ticket) (domain.Ticket, error) {
		if err := t.CanAppend(action); err != nil {
			return domain.Ticket{}, err
		}
		if err := s.enqueue("append action", func(conn *sqlite.Conn) error {
			return writeAction(conn, id, rec)
		}); err != nil {
			return domain.Ticket{}, err
		}
		return t.WithAction(action), nil
	})
	return err
}

func (s *Store) MassClose(ctx context.Context, lo, hi int64, actor domain.Creator, location *domain.Location) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	action := domain.Action{Kind: domain.MassClose{}, Actor: actor, Location: location, Timestamp: time.Now().Unix()}
	rec := domain.EncodeAction(action)
	closed, err := s.tickets.MassClose(lo, hi, action, func(t domain.Ticket) error {
		return s.enqueue("mass close", func(conn *sqlite.Conn) error {
			if err := writeColumn(conn, t.ID, "status", string(domain.TicketStatusClosed)); err != nil {
				return err
			}
			return writeAction(conn, t.ID, rec)
		})
	})
	s.logger.Debug("mass close", zap.Int64("from", lo), zap.Int64("to", hi), zap.Int("closed", len(closed)))
	return err
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
	for _, t := range s.tickets.All() {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

// Close drains pending writes and closes the database.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.queue.Close()
		err = s.pool.Close()
		s.logger.Info("cached sqlite store closed",
			zap.Int64("writes", s.queue.Processed()),
			zap.Int64("failed_writes", s.queue.Failures()),
		)
	})
	return err
}
