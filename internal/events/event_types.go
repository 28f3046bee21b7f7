package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-manager/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketActionAppended  EventType = "ticket_action_appended"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventTicketAssigned        EventType = "ticket_assigned"
	EventTicketsMassClosed     EventType = "tickets_mass_closed"
	EventStoreMigrated         EventType = "store_migrated"
)

// AllTypes lists every event type.
func AllTypes() []EventType {
	return []EventType{
		EventTicketCreated,
		EventTicketActionAppended,
		EventTicketStatusChanged,
		EventTicketPriorityChanged,
		EventTicketAssigned,
		EventTicketsMassClosed,
		EventStoreMigrated,
	}
}

// Event represents a change published by the ticket service.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  int64     `json:"ticket_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType EventType, ticketID int64, actor string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Creator  domain.Creator        `json:"creator"`
	Priority domain.TicketPriority `json:"priority"`
}

// TicketActionAppendedPayload payload.
type TicketActionAppendedPayload struct {
	ActionType domain.ActionType `json:"action_type"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssignedTo domain.Assignment `json:"assigned_to"`
}

// TicketsMassClosedPayload payload.
type TicketsMassClosedPayload struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// StoreMigratedPayload payload.
type StoreMigratedPayload struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Migrated int           `json:"migrated"`
	Duration time.Duration `json:"duration"`
}
