package domain

// ActionType names an action variant in storage.
type ActionType string

const (
	ActionOpen             ActionType = "OPEN"
	ActionComment          ActionType = "COMMENT"
	ActionAssign           ActionType = "ASSIGN"
	ActionClose            ActionType = "CLOSE"
	ActionCloseWithComment ActionType = "CLOSE_WITH_COMMENT"
	ActionReopen           ActionType = "REOPEN"
	ActionSetPriority      ActionType = "SET_PRIORITY"
	ActionMassClose        ActionType = "MASS_CLOSE"
)

// ActionKind is the variant of an action and the data that variant carries.
// The set of implementations is closed.
type ActionKind interface {
	Type() ActionType
	isActionKind()
}

// Open is the creation action; Message is the initial request.
type Open struct{ Message string }

// Comment is a comment left on a ticket.
type Comment struct{ Text string }

// Assign changes the assignment.
type Assign struct{ Target Assignment }

// Close closes a ticket without a comment.
type Close struct{}

// CloseWithComment closes a ticket and leaves a comment.
type CloseWithComment struct{ Text string }

// Reopen reopens a closed ticket.
type Reopen struct{}

// SetPriority changes the priority.
type SetPriority struct{ Level TicketPriority }

// MassClose is appended by a bulk range close.
type MassClose struct{}

func (Open) Type() ActionType             { return ActionOpen }
func (Comment) Type() ActionType          { return ActionComment }
func (Assign) Type() ActionType           { return ActionAssign }
func (Close) Type() ActionType            { return ActionClose }
func (CloseWithComment) Type() ActionType { return ActionCloseWithComment }
func (Reopen) Type() ActionType           { return ActionReopen }
func (SetPriority) Type() ActionType      { return ActionSetPriority }
func (MassClose) Type() ActionType        { return ActionMassClose }

func (Open) isActionKind()             {}
func (Comment) isActionKind()          {}
func (Assign) isActionKind()           {}
func (Close) isActionKind()            {}
func (CloseWithComment) isActionKind() {}
func (Reopen) isActionKind()           {}
func (SetPriority) isActionKind()      {}
func (MassClose) isActionKind()        {}

// Action is one immutable event in a ticket's history.
type Action struct {
	Kind      ActionKind
	Actor     Creator
	Location  *Location
	Timestamp int64
}

// Type returns the variant name, or "" for a zero Action.
func (a Action) Type() ActionType {
	if a.Kind == nil {
		return ""
	}
	return a.Kind.Type()
}

// Text returns the free text carried by OPEN, COMMENT and CLOSE_WITH_COMMENT actions.
func (a Action) Text() (string, bool) {
	switch k := a.Kind.(type) {
	case Open:
		return k.Message, true
	case Comment:
		return k.Text, true
	case CloseWithComment:
		return k.Text, true
	default:
		return "", false
	}
}

// IsClose reports whether the action counts towards closedBy and
// lastClosedBy. CLOSE_WITH_COMMENT does not.
func (a Action) IsClose() bool {
	switch a.Kind.(type) {
	case Close, MassClose:
		return true
	default:
		return false
	}
}
