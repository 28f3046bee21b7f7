// Package sqlite stores tickets in a SQLite file through database/sql.
// Every read goes to the database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/persistence"
	"github.com/spec-kit/ticket-manager/internal/query"
	"github.com/spec-kit/ticket-manager/internal/repository"
	"github.com/spec-kit/ticket-manager/internal/store"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite backend.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	closed atomic.Bool
	once   sync.Once
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := persistence.OpenSQLite(ctx, path, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrBackendUnavailable, err)
	}
	return &Store{db: db, logger: logger.With(zap.String("store", string(store.TypeSQLite)))}, nil
}

func (s *Store) Type() store.Type { return store.TypeSQLite }

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return ctx.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertActions(ctx context.Context, q querier, ticketID int64, actions []domain.Action) error {
	const insert = `INSERT INTO actions (` + repository.ActionColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?)`
	for _, a := range actions {
		if _, err := q.ExecContext(ctx, insert, repository.ActionArgs(ticketID, domain.EncodeAction(a))...); err != nil {
			return err
		}
	}
	return nil
}

func exists(ctx context.Context, q querier, id int64) (bool, error) {
	var found int64
	err := q.QueryRowContext(ctx, `SELECT id FROM tickets WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Insert(ctx context.Context, ticket domain.Ticket) (int64, error) {
	if err := ticket.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tickets (creator, priority, status, assigned_to, status_update_for_creator) VALUES (?,?,?,?,?)`,
			repository.TicketArgs(domain.ToRecord(ticket))...)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return insertActions(ctx, tx, id, ticket.Actions)
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
	return s.withTx(ctx, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, ticket.ID)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %d", store.ErrDuplicateID, ticket.ID)
		}
		args := append([]any{ticket.ID}, repository.TicketArgs(domain.ToRecord(ticket))...)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tickets (`+repository.TicketColumns+`) VALUES (?,?,?,?,?,?)`, args...); err != nil {
			return err
		}
		return insertActions(ctx, tx, ticket.ID, ticket.Actions)
	})
}

// load reads the matching ticket rows and their actions in two queries.
func load(ctx context.Context, q querier, f repository.TicketFilter) ([]domain.Ticket, error) {
	where, args := f.Where(repository.Question)

	rows, err := q.QueryContext(ctx,
		`SELECT `+repository.TicketColumns+` FROM tickets WHERE `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	var records []domain.TicketRecord
	for rows.Next() {
		rec, err := repository.ScanTicket(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []domain.Ticket{}, nil
	}

	rows, err = q.QueryContext(ctx,
		`SELECT `+repository.ActionColumns+` FROM actions JOIN tickets ON tickets.id = actions.ticket_id
         WHERE `+where+` ORDER BY ticket_id, epoch_time, action_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	actions := make(map[int64][]domain.ActionRecord, len(records))
	for rows.Next() {
		ticketID, rec, err := repository.ScanAction(rows)
		if err != nil {
			return nil, err
		}
		actions[ticketID] = append(actions[ticketID], rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return repository.Assemble(records, actions)
}

func (s *Store) load(ctx context.Context, f repository.TicketFilter) ([]domain.Ticket, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return load(ctx, s.db, f)
}

func (s *Store) count(ctx context.Context, f repository.TicketFilter) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	where, args := f.Where(repository.Question)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&n)
	return n, err
}

func (s *Store) ids(ctx context.Context, f repository.TicketFilter) ([]int64, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	where, args := f.Where(repository.Question)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tickets WHERE `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
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
		return []domain.Ticket{}, s.check(ctx)
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

func (s *Store) updateColumn(ctx context.Context, id int64, column string, value any) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tickets SET `+column+` = ? WHERE id = ?`, value, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", store.ErrNotFound, id)
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id int64, status domain.TicketStatus) error {
	return s.updateColumn(ctx, id, "status", string(status))
}

func (s *Store) SetPriority(ctx context.Context, id int64, priority domain.TicketPriority) error {
	return s.updateColumn(ctx, id, "priority", int64(priority))
}

func (s *Store) SetAssignment(ctx context.Context, id int64, assignment domain.Assignment) error {
	return s.updateColumn(ctx, id, "assigned_to", assignment.Column())
}

func (s *Store) SetCreatorStatusUpdate(ctx context.Context, id int64, update bool) error {
	return s.updateColumn(ctx, id, "status_update_for_creator", update)
}

func (s *Store) AppendAction(ctx context.Context, id int64, action domain.Action) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %d", store.ErrNotFound, id)
		}
		var openedAt int64
		err = tx.QueryRowContext(ctx,
			`SELECT epoch_time FROM actions WHERE ticket_id = ? ORDER BY epoch_time, action_id LIMIT 1`, id).Scan(&openedAt)
		if err != nil {
			return err
		}
		if err := domain.CheckAppend(openedAt, action); err != nil {
			return err
		}
		return insertActions(ctx, tx, id, []domain.Action{action})
	})
}

func (s *Store) MassClose(ctx context.Context, lo, hi int64, actor domain.Creator, location *domain.Location) error {
	action := domain.Action{Kind: domain.MassClose{}, Actor: actor, Location: location, Timestamp: time.Now().Unix()}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		f := repository.OpenFilter()
		f.IDFrom, f.IDTo = &lo, &hi
		where, args := f.Where(repository.Question)

		rows, err := tx.QueryContext(ctx, `SELECT id FROM tickets WHERE `+where, args...)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE tickets SET status = ? WHERE id = ?`, string(domain.TicketStatusClosed), id); err != nil {
				return err
			}
			if err := insertActions(ctx, tx, id, []domain.Action{action}); err != nil {
				return err
			}
		}
		s.logger.Debug("mass close", zap.Int64("from", lo), zap.Int64("to", hi), zap.Int("closed", len(ids)))
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

func unread() *bool {
	v := true
	return &v
}

func (s *Store) IDsWithUnreadUpdates(ctx context.Context) ([]int64, error) {
	return s.ids(ctx, repository.TicketFilter{CreatorStatusUpdate: unread()})
}

func (s *Store) IDsWithUnreadUpdatesFor(ctx context.Context, creator domain.Creator) ([]int64, error) {
	return s.ids(ctx, repository.TicketFilter{CreatorStatusUpdate: unread(), Creator: &creator})
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

func (s *Store) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.db.Close()
		s.logger.Info("sqlite store closed")
	})
	return err
}
