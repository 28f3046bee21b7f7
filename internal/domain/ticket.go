package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTicket is returned when a ticket violates the model invariants.
var ErrInvalidTicket = errors.New("invalid ticket")

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "OPEN"
	TicketStatusClosed TicketStatus = "CLOSED"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	return s == TicketStatusOpen || s == TicketStatusClosed
}

// ParseStatus decodes a status name.
func ParseStatus(s string) (TicketStatus, error) {
	status := TicketStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown ticket status %q", s)
	}
	return status, nil
}

// TicketPriority is the urgency level; higher values are more urgent.
type TicketPriority uint8

const (
	PriorityLowest  TicketPriority = 1
	PriorityLow     TicketPriority = 2
	PriorityNormal  TicketPriority = 3
	PriorityHigh    TicketPriority = 4
	PriorityHighest TicketPriority = 5
)

var priorityNames = map[TicketPriority]string{
	PriorityLowest:  "LOWEST",
	PriorityLow:     "LOW",
	PriorityNormal:  "NORMAL",
	PriorityHigh:    "HIGH",
	PriorityHighest: "HIGHEST",
}

// Valid reports whether p is within LOWEST..HIGHEST.
func (p TicketPriority) Valid() bool {
	return p >= PriorityLowest && p <= PriorityHighest
}

func (p TicketPriority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "PRIORITY(" + strconv.Itoa(int(p)) + ")"
}

// ParsePriority accepts either a level name or its numeric value.
func ParsePriority(s string) (TicketPriority, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for level, name := range priorityNames {
		if name == s {
			return level, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || !TicketPriority(n).Valid() {
		return 0, fmt.Errorf("unknown ticket priority %q", s)
	}
	return TicketPriority(n), nil
}

// Location is where an action was performed. Console locations carry only a server.
type Location struct {
	Server string `json:"server,omitempty"`
	World  string `json:"world,omitempty"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Z      int    `json:"z"`
}

// HasPosition reports whether the location points into a world.
func (l Location) HasPosition() bool {
	return l.World != ""
}

// Ticket is the aggregate for support requests. Values are snapshots: the
// store owns the canonical copy and every update produces a new value.
type Ticket struct {
	ID                  int64
	Creator             Creator
	Priority            TicketPriority
	Status              TicketStatus
	AssignedTo          Assignment
	CreatorStatusUpdate bool
	Actions             []Action
}

// NewTicket builds an unsaved ticket whose only action is the OPEN message.
func NewTicket(creator Creator, location *Location, message string, now time.Time) Ticket {
	return Ticket{
		Creator:    creator,
		Priority:   PriorityNormal,
		Status:     TicketStatusOpen,
		AssignedTo: Nobody(),
		Actions: []Action{{
			Kind:      Open{Message: message},
			Actor:     creator,
			Location:  cloneLocation(location),
			Timestamp: now.Unix(),
		}},
	}
}

// Clone returns a deep copy.
func (t Ticket) Clone() Ticket {
	actions := make([]Action, len(t.Actions))
	for i, a := range t.Actions {
		a.Location = cloneLocation(a.Location)
		actions[i] = a
	}
	t.Actions = actions
	return t
}

func (t Ticket) WithID(id int64) Ticket {
	c := t.Clone()
	c.ID = id
	return c
}

func (t Ticket) WithStatus(status TicketStatus) Ticket {
	c := t.Clone()
	c.Status = status
	return c
}

func (t Ticket) WithPriority(priority TicketPriority) Ticket {
	c := t.Clone()
	c.Priority = priority
	return c
}

func (t Ticket) WithAssignment(assignment Assignment) Ticket {
	c := t.Clone()
	c.AssignedTo = assignment
	return c
}

func (t Ticket) WithCreatorStatusUpdate(update bool) Ticket {
	c := t.Clone()
	c.CreatorStatusUpdate = update
	return c
}

// WithAction appends an action, keeping the log sorted by timestamp.
// Actions sharing a timestamp keep their insertion order.
func (t Ticket) WithAction(action Action) Ticket {
	c := t.Clone()
	action.Location = cloneLocation(action.Location)
	i := len(c.Actions)
	for i > 0 && c.Actions[i-1].Timestamp > action.Timestamp {
		i--
	}
	c.Actions = append(c.Actions, Action{})
	copy(c.Actions[i+1:], c.Actions[i:])
	c.Actions[i] = action
	return c
}

// CheckAppend reports whether action may be appended to a ticket opened at
// createdAt. OPEN only ever starts a log and nothing may precede it.
func CheckAppend(createdAt int64, action Action) error {
	if action.Kind == nil {
		return fmt.Errorf("%w: action has no kind", ErrInvalidTicket)
	}
	if action.Type() == ActionOpen {
		return fmt.Errorf("%w: OPEN cannot be appended", ErrInvalidTicket)
	}
	if action.Timestamp < createdAt {
		return fmt.Errorf("%w: action at %d precedes OPEN at %d", ErrInvalidTicket, action.Timestamp, createdAt)
	}
	return nil
}

// CanAppend is CheckAppend against the ticket's own OPEN action.
func (t Ticket) CanAppend(action Action) error {
	return CheckAppend(t.CreatedAt(), action)
}

// CreatedAt is the epoch second of the OPEN action.
func (t Ticket) CreatedAt() int64 {
	if len(t.Actions) == 0 {
		return 0
	}
	return t.Actions[0].Timestamp
}

// World returns the world the ticket was opened in, if any.
func (t Ticket) World() (string, bool) {
	if len(t.Actions) == 0 || t.Actions[0].Location == nil || !t.Actions[0].Location.HasPosition() {
		return "", false
	}
	return t.Actions[0].Location.World, true
}

// Validate checks the model invariants.
func (t Ticket) Validate() error {
	if len(t.Actions) == 0 {
		return fmt.Errorf("%w: no actions", ErrInvalidTicket)
	}
	if t.Actions[0].Type() != ActionOpen {
		return fmt.Errorf("%w: first action is %s", ErrInvalidTicket, t.Actions[0].Type())
	}
	for i, a := range t.Actions {
		if a.Kind == nil {
			return fmt.Errorf("%w: action %d has no kind", ErrInvalidTicket, i)
		}
		if i > 0 && t.Actions[i-1].Timestamp > a.Timestamp {
			return fmt.Errorf("%w: actions out of order at %d", ErrInvalidTicket, i)
		}
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: priority %d", ErrInvalidTicket, t.Priority)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidTicket, t.Status)
	}
	return nil
}

func cloneLocation(l *Location) *Location {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
