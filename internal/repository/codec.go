package repository

import (
	"fmt"

	"github.com/spec-kit/ticket-manager/internal/domain"
)

const (
	// TicketColumns is the column list every ticket query selects.
	TicketColumns = "id, creator, priority, status, assigned_to, status_update_for_creator"
	// ActionColumns is the column list every action query selects.
	ActionColumns = "ticket_id, action_type, actor, message, epoch_time, server, world, x, y, z"
)

// Scanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanTicket reads one row selected with TicketColumns. Actions are left empty.
func ScanTicket(row Scanner) (domain.TicketRecord, error) {
	var rec domain.TicketRecord
	var priority int64
	if err := row.Scan(
		&rec.ID,
		&rec.Creator,
		&priority,
		&rec.Status,
		&rec.AssignedTo,
		&rec.CreatorStatusUpdate,
	); err != nil {
		return domain.TicketRecord{}, err
	}
	rec.Priority = uint8(priority)
	return rec, nil
}

// ScanAction reads one row selected with ActionColumns.
func ScanAction(row Scanner) (int64, domain.ActionRecord, error) {
	var ticketID int64
	var rec domain.ActionRecord
	var actionType string
	if err := row.Scan(
		&ticketID,
		&actionType,
		&rec.Actor,
		&rec.Message,
		&rec.Timestamp,
		&rec.Server,
		&rec.World,
		&rec.X,
		&rec.Y,
		&rec.Z,
	); err != nil {
		return 0, domain.ActionRecord{}, err
	}
	rec.Type = domain.ActionType(actionType)
	return ticketID, rec, nil
}

// ActionArgs returns the insert arguments matching ActionColumns.
func ActionArgs(ticketID int64, rec domain.ActionRecord) []any {
	return []any{
		ticketID,
		string(rec.Type),
		rec.Actor,
		rec.Message,
		rec.Timestamp,
		rec.Server,
		rec.World,
		rec.X,
		rec.Y,
		rec.Z,
	}
}

// TicketArgs returns the insert arguments for the non-id ticket columns.
func TicketArgs(rec domain.TicketRecord) []any {
	return []any{
		rec.Creator,
		int64(rec.Priority),
		rec.Status,
		rec.AssignedTo,
		rec.CreatorStatusUpdate,
	}
}

// Assemble joins ticket rows with their action rows, preserving the
// order of tickets.
func Assemble(tickets []domain.TicketRecord, actions map[int64][]domain.ActionRecord) ([]domain.Ticket, error) {
	out := make([]domain.Ticket, 0, len(tickets))
	for _, rec := range tickets {
		rec.Actions = actions[rec.ID]
		t, err := domain.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		if len(t.Actions) == 0 {
			return nil, fmt.Errorf("ticket %d: %w: no actions stored", rec.ID, domain.ErrInvalidTicket)
		}
		out = append(out, t)
	}
	return out, nil
}
