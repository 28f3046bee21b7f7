package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-manager/internal/domain"
)

// ActionRepository stores the append-only action log in Postgres.
type ActionRepository interface {
	Create(ctx context.Context, db DBTX, ticketID int64, rec domain.ActionRecord) error
	CreateBatch(ctx context.Context, tx pgx.Tx, ticketID int64, recs []domain.ActionRecord) error
	OpenedAt(ctx context.Context, db DBTX, ticketID int64) (int64, error)
	ListByTickets(ctx context.Context, db DBTX, ticketIDs []int64) (map[int64][]domain.ActionRecord, error)
}

type actionRepository struct{}

// NewActionRepository builds repository.
func NewActionRepository() ActionRepository {
	return &actionRepository{}
}

const insertAction = `
        INSERT INTO actions (` + ActionColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

func (r *actionRepository) Create(ctx context.Context, db DBTX, ticketID int64, rec domain.ActionRecord) error {
	_, err := db.Exec(ctx, insertAction, ActionArgs(ticketID, rec)...)
	return err
}

// CreateBatch inserts a ticket's actions in order with one round trip.
func (r *actionRepository) CreateBatch(ctx context.Context, tx pgx.Tx, ticketID int64, recs []domain.ActionRecord) error {
	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(insertAction, ActionArgs(ticketID, rec)...)
	}
	return tx.SendBatch(ctx, batch).Close()
}

// OpenedAt returns the timestamp of the ticket's first action.
func (r *actionRepository) OpenedAt(ctx context.Context, db DBTX, ticketID int64) (int64, error) {
	const query = `
        SELECT epoch_time FROM actions WHERE ticket_id = $1
        ORDER BY epoch_time, action_id LIMIT 1`
	var at int64
	err := db.QueryRow(ctx, query, ticketID).Scan(&at)
	return at, err
}

func (r *actionRepository) ListByTickets(ctx context.Context, db DBTX, ticketIDs []int64) (map[int64][]domain.ActionRecord, error) {
	const query = `
        SELECT ` + ActionColumns + `
        FROM actions WHERE ticket_id = ANY($1) ORDER BY ticket_id, epoch_time, action_id`
	result := make(map[int64][]domain.ActionRecord, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return result, nil
	}
	rows, err := db.Query(ctx, query, ticketIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		ticketID, rec, err := ScanAction(rows)
		if err != nil {
			return nil, err
		}
		result[ticketID] = append(result[ticketID], rec)
	}
	return result, rows.Err()
}
