package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedAction signals a persisted action that cannot be rebuilt.
var ErrMalformedAction = errors.New("malformed action")

// ActionRecord is the flat storage form of an Action. Message holds the
// variant payload: free text, an assignment encoding or a priority level.
type ActionRecord struct {
	Type      ActionType `json:"type" cbor:"1,keyasint"`
	Actor     string     `json:"actor" cbor:"2,keyasint"`
	Message   *string    `json:"message,omitempty" cbor:"3,keyasint,omitempty"`
	Timestamp int64      `json:"timestamp" cbor:"4,keyasint"`
	Server    *string    `json:"server,omitempty" cbor:"5,keyasint,omitempty"`
	World     *string    `json:"world,omitempty" cbor:"6,keyasint,omitempty"`
	X         *int64     `json:"x,omitempty" cbor:"7,keyasint,omitempty"`
	Y         *int64     `json:"y,omitempty" cbor:"8,keyasint,omitempty"`
	Z         *int64     `json:"z,omitempty" cbor:"9,keyasint,omitempty"`
}

// TicketRecord is the flat storage form of a Ticket.
type TicketRecord struct {
	ID                  int64          `cbor:"1,keyasint"`
	Creator             string         `cbor:"2,keyasint"`
	Priority            uint8          `cbor:"3,keyasint"`
	Status              string         `cbor:"4,keyasint"`
	AssignedTo          *string        `cbor:"5,keyasint,omitempty"`
	CreatorStatusUpdate bool           `cbor:"6,keyasint"`
	Actions             []ActionRecord `cbor:"7,keyasint"`
}

// EncodeAction flattens an action.
func EncodeAction(a Action) ActionRecord {
	rec := ActionRecord{
		Type:      a.Type(),
		Actor:     a.Actor.String(),
		Timestamp: a.Timestamp,
	}
	switch k := a.Kind.(type) {
	case Open:
		rec.Message = &k.Message
	case Comment:
		rec.Message = &k.Text
	case CloseWithComment:
		rec.Message = &k.Text
	case Assign:
		rec.Message = k.Target.Column()
	case SetPriority:
		level := strconv.Itoa(int(k.Level))
		rec.Message = &level
	}
	if loc := a.Location; loc != nil {
		if loc.Server != "" {
			server := loc.Server
			rec.Server = &server
		}
		if loc.HasPosition() {
			world := loc.World
			x, y, z := int64(loc.X), int64(loc.Y), int64(loc.Z)
			rec.World, rec.X, rec.Y, rec.Z = &world, &x, &y, &z
		}
	}
	return rec
}

// DecodeAction rebuilds an action from its flat form.
func DecodeAction(rec ActionRecord) (Action, error) {
	actor, err := ParseCreator(rec.Actor)
	if err != nil {
		return Action{}, err
	}
	kind, err := decodeKind(rec.Type, rec.Message)
	if err != nil {
		return Action{}, err
	}
	return Action{
		Kind:      kind,
		Actor:     actor,
		Location:  decodeLocation(rec),
		Timestamp: rec.Timestamp,
	}, nil
}

func decodeKind(t ActionType, message *string) (ActionKind, error) {
	text := func() (string, error) {
		if message == nil {
			return "", fmt.Errorf("%w: %s without message", ErrMalformedAction, t)
		}
		return *message, nil
	}
	switch t {
	case ActionOpen:
		m, err := text()
		return Open{Message: m}, err
	case ActionComment:
		m, err := text()
		return Comment{Text: m}, err
	case ActionCloseWithComment:
		m, err := text()
		return CloseWithComment{Text: m}, err
	case ActionAssign:
		target, err := AssignmentFromColumn(message)
		if err != nil {
			return nil, err
		}
		return Assign{Target: target}, nil
	case ActionSetPriority:
		m, err := text()
		if err != nil {
			return nil, err
		}
		level, err := ParsePriority(m)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedAction, err)
		}
		return SetPriority{Level: level}, nil
	case ActionClose:
		return Close{}, nil
	case ActionReopen:
		return Reopen{}, nil
	case ActionMassClose:
		return MassClose{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedAction, t)
	}
}

func decodeLocation(rec ActionRecord) *Location {
	if rec.Server == nil && rec.World == nil {
		return nil
	}
	loc := &Location{}
	if rec.Server != nil {
		loc.Server = *rec.Server
	}
	if rec.World != nil {
		loc.World = *rec.World
		loc.X = int(deref(rec.X))
		loc.Y = int(deref(rec.Y))
		loc.Z = int(deref(rec.Z))
	}
	return loc
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// ToRecord flattens a ticket.
func ToRecord(t Ticket) TicketRecord {
	actions := make([]ActionRecord, len(t.Actions))
	for i, a := range t.Actions {
		actions[i] = EncodeAction(a)
	}
	return TicketRecord{
		ID:                  t.ID,
		Creator:             t.Creator.String(),
		Priority:            uint8(t.Priority),
		Status:              string(t.Status),
		AssignedTo:          t.AssignedTo.Column(),
		CreatorStatusUpdate: t.CreatorStatusUpdate,
		Actions:             actions,
	}
}

// FromRecord rebuilds a ticket from its flat form.
func FromRecord(rec TicketRecord) (Ticket, error) {
	creator, err := ParseCreator(rec.Creator)
	if err != nil {
		return Ticket{}, fmt.Errorf("ticket %d: %w", rec.ID, err)
	}
	assigned, err := AssignmentFromColumn(rec.AssignedTo)
	if err != nil {
		return Ticket{}, fmt.Errorf("ticket %d: %w", rec.ID, err)
	}
	status, err := ParseStatus(rec.Status)
	if err != nil {
		return Ticket{}, fmt.Errorf("ticket %d: %w", rec.ID, err)
	}
	actions := make([]Action, len(rec.Actions))
	for i, ar := range rec.Actions {
		a, err := DecodeAction(ar)
		if err != nil {
			return Ticket{}, fmt.Errorf("ticket %d action %d: %w", rec.ID, i, err)
		}
		actions[i] = a
	}
	return Ticket{
		ID:                  rec.ID,
		Creator:             creator,
		Priority:            TicketPriority(rec.Priority),
		Status:              status,
		AssignedTo:          assigned,
		CreatorStatusUpdate: rec.CreatorStatusUpdate,
		Actions:             actions,
	}, nil
}
