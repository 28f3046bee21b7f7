package dto

import (
	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/migration"
	"github.com/spec-kit/ticket-manager/internal/query"
)

// CreateTicketRequest payload. Priority 0 keeps the default.
type CreateTicketRequest struct {
	Creator  domain.Creator        `json:"creator"`
	Location *domain.Location      `json:"location"`
	Message  string                `json:"message"`
	Priority domain.TicketPriority `json:"priority"`
}

// StatusRequest payload.
type StatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// PriorityRequest payload.
type PriorityRequest struct {
	Priority domain.TicketPriority `json:"priority"`
}

// AssignmentRequest payload. An empty assignment means nobody.
type AssignmentRequest struct {
	Assignment domain.Assignment `json:"assignment"`
}

// CreatorStatusUpdateRequest payload.
type CreatorStatusUpdateRequest struct {
	Update bool `json:"update"`
}

// AppendActionRequest uses the flat action form; a zero timestamp means now.
type AppendActionRequest = domain.ActionRecord

// MassCloseRequest payload.
type MassCloseRequest struct {
	From     int64            `json:"from"`
	To       int64            `json:"to"`
	Actor    domain.Creator   `json:"actor"`
	Location *domain.Location `json:"location"`
}

// SearchRequest is the constraint set; absent fields are not constrained.
type SearchRequest = query.Constraints

// MigrateRequest payload.
type MigrateRequest struct {
	Target string `json:"target"`
}

// TicketResponse is a ticket with its full action history.
type TicketResponse struct {
	ID                  int64                 `json:"id"`
	Creator             domain.Creator        `json:"creator"`
	Priority            domain.TicketPriority `json:"priority"`
	Status              domain.TicketStatus   `json:"status"`
	AssignedTo          domain.Assignment     `json:"assigned_to"`
	CreatorStatusUpdate bool                  `json:"creator_status_update"`
	CreatedAt           int64                 `json:"created_at"`
	Actions             []domain.ActionRecord `json:"actions"`
}

// PageResponse is one page of a listing or search.
type PageResponse struct {
	Results      []TicketResponse `json:"results"`
	TotalPages   int              `json:"total_pages"`
	TotalResults int              `json:"total_results"`
	ReturnedPage int              `json:"returned_page"`
}

// MigrationResponse summarises a finished migration.
type MigrationResponse struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Migrated   int    `json:"migrated"`
	DurationMS int64  `json:"duration_ms"`
}

// Ticket converts a domain ticket.
func Ticket(t domain.Ticket) TicketResponse {
	actions := make([]domain.ActionRecord, len(t.Actions))
	for i, a := range t.Actions {
		actions[i] = domain.EncodeAction(a)
	}
	return TicketResponse{
		ID:                  t.ID,
		Creator:             t.Creator,
		Priority:            t.Priority,
		Status:              t.Status,
		AssignedTo:          t.AssignedTo,
		CreatorStatusUpdate: t.CreatorStatusUpdate,
		CreatedAt:           t.CreatedAt(),
		Actions:             actions,
	}
}

// Tickets converts a slice of tickets.
func Tickets(ts []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, Ticket(t))
	}
	return out
}

// Page converts a result page.
func Page(p query.Page) PageResponse {
	return PageResponse{
		Results:      Tickets(p.Results),
		TotalPages:   p.TotalPages,
		TotalResults: p.TotalResults,
		ReturnedPage: p.ReturnedPage,
	}
}

// Migration converts a migration report.
func Migration(r migration.Report) MigrationResponse {
	return MigrationResponse{
		From:       string(r.From),
		To:         string(r.To),
		Migrated:   r.Migrated,
		DurationMS: r.Duration.Milliseconds(),
	}
}
