package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/ticket-manager/internal/domain"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TicketRepository encapsulates persistence of ticket rows in Postgres.
// Methods that touch a single row return pgx.ErrNoRows when it is absent.
type TicketRepository interface {
	Create(ctx context.Context, db DBTX, rec domain.TicketRecord) (int64, error)
	Import(ctx context.Context, db DBTX, rec domain.TicketRecord) error
	ResetSequence(ctx context.Context, db DBTX) error
	LockByID(ctx context.Context, db DBTX, id int64) error
	SetStatus(ctx context.Context, db DBTX, id int64, status domain.TicketStatus) error
	SetPriority(ctx context.Context, db DBTX, id int64, priority domain.TicketPriority) error
	SetAssignment(ctx context.Context, db DBTX, id int64, assignment domain.Assignment) error
	SetCreatorStatusUpdate(ctx context.Context, db DBTX, id int64, update bool) error
	CloseOpenInRange(ctx context.Context, db DBTX, lo, hi int64) ([]int64, error)
	ListWithFilter(ctx context.Context, db DBTX, filter TicketFilter) ([]domain.TicketRecord, error)
	ListIDs(ctx context.Context, db DBTX, filter TicketFilter) ([]int64, error)
	Count(ctx context.Context, db DBTX, filter TicketFilter) (int, error)
}

type ticketRepository struct{}

// NewTicketRepository instantiates repository.
func NewTicketRepository() TicketRepository {
	return &ticketRepository{}
}

func (r *ticketRepository) Create(ctx context.Context, db DBTX, rec domain.TicketRecord) (int64, error) {
	const query = `
        INSERT INTO tickets (creator, priority, status, assigned_to, status_update_for_creator)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id`
	var id int64
	err := db.QueryRow(ctx, query, TicketArgs(rec)...).Scan(&id)
	return id, err
}

func (r *ticketRepository) Import(ctx context.Context, db DBTX, rec domain.TicketRecord) error {
	const query = `
        INSERT INTO tickets (id, creator, priority, status, assigned_to, status_update_for_creator)
        VALUES ($1,$2,$3,$4,$5,$6)`
	args := append([]any{rec.ID}, TicketArgs(rec)...)
	_, err := db.Exec(ctx, query, args...)
	return err
}

// ResetSequence moves the identity sequence past the highest stored id.
func (r *ticketRepository) ResetSequence(ctx context.Context, db DBTX) error {
	const query = `SELECT setval(pg_get_serial_sequence('tickets', 'id'), COALESCE(MAX(id), 0) + 1, false) FROM tickets`
	_, err := db.Exec(ctx, query)
	return err
}

func (r *ticketRepository) LockByID(ctx context.Context, db DBTX, id int64) error {
	var found int64
	return db.QueryRow(ctx, `SELECT id FROM tickets WHERE id=$1 FOR UPDATE`, id).Scan(&found)
}

func (r *ticketRepository) updateColumn(ctx context.Context, db DBTX, column string, value any, id int64) error {
	cmd, err := db.Exec(ctx, fmt.Sprintf(`UPDATE tickets SET %s=$1 WHERE id=$2`, column), value, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) SetStatus(ctx context.Context, db DBTX, id int64, status domain.TicketStatus) error {
	return r.updateColumn(ctx, db, "status", string(status), id)
}

func (r *ticketRepository) SetPriority(ctx context.Context, db DBTX, id int64, priority domain.TicketPriority) error {
	return r.updateColumn(ctx, db, "priority", int64(priority), id)
}

func (r *ticketRepository) SetAssignment(ctx context.Context, db DBTX, id int64, assignment domain.Assignment) error {
	return r.updateColumn(ctx, db, "assigned_to", assignment.Column(), id)
}

func (r *ticketRepository) SetCreatorStatusUpdate(ctx context.Context, db DBTX, id int64, update bool) error {
	return r.updateColumn(ctx, db, "status_update_for_creator", update, id)
}

// CloseOpenInRange closes every open ticket with lo <= id <= hi and
// returns the ids it changed.
func (r *ticketRepository) CloseOpenInRange(ctx context.Context, db DBTX, lo, hi int64) ([]int64, error) {
	const query = `
        UPDATE tickets SET status=$1
        WHERE status=$2 AND id BETWEEN $3 AND $4
        RETURNING id`
	rows, err := db.Query(ctx, query, string(domain.TicketStatusClosed), string(domain.TicketStatusOpen), lo, hi)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, db DBTX, filter TicketFilter) ([]domain.TicketRecord, error) {
	where, args := filter.Where(Dollar)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY id ASC`, TicketColumns, where)

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListIDs(ctx context.Context, db DBTX, filter TicketFilter) ([]int64, error) {
	where, args := filter.Where(Dollar)
	rows, err := db.Query(ctx, `SELECT id FROM tickets WHERE `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *ticketRepository) Count(ctx context.Context, db DBTX, filter TicketFilter) (int, error) {
	where, args := filter.Where(Dollar)
	var count int64
	err := db.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&count)
	return int(count), err
}

func scanTickets(rows pgx.Rows) ([]domain.TicketRecord, error) {
	var result []domain.TicketRecord
	for rows.Next() {
		rec, err := ScanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
