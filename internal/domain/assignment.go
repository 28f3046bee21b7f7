package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedAssignment signals a persisted assignment string that cannot be decoded.
var ErrMalformedAssignment = errors.New("malformed assignment")

// AssignmentKind tags the target of an assignment.
type AssignmentKind uint8

const (
	AssignNobody AssignmentKind = iota
	AssignConsole
	AssignPlayer
	AssignGroup
	AssignPhrase
)

const (
	assignmentNobody  = "NOBODY"
	assignmentConsole = "CONSOLE"
	assignmentPlayer  = "PLAYER"
	assignmentGroup   = "GROUP"
	assignmentPhrase  = "PHRASE"
	// written by older releases for free-form assignments
	assignmentLegacy = "OTHER"
)

// Assignment is who a ticket is assigned to.
type Assignment struct {
	Kind AssignmentKind
	Name string
}

// Nobody is the empty assignment.
func Nobody() Assignment { return Assignment{Kind: AssignNobody} }

// AssignedConsole assigns a ticket to the operator console.
func AssignedConsole() Assignment { return Assignment{Kind: AssignConsole} }

// Player assigns a ticket to a player by name.
func Player(name string) Assignment { return Assignment{Kind: AssignPlayer, Name: name} }

// Group assigns a ticket to a permission group.
func Group(name string) Assignment { return Assignment{Kind: AssignGroup, Name: name} }

// Phrase assigns a ticket to a free-form label.
func Phrase(text string) Assignment { return Assignment{Kind: AssignPhrase, Name: text} }

// IsNobody reports whether the ticket is unassigned.
func (a Assignment) IsNobody() bool { return a.Kind == AssignNobody }

// String returns the storage encoding of the assignment.
func (a Assignment) String() string {
	switch a.Kind {
	case AssignConsole:
		return assignmentConsole
	case AssignPlayer:
		return assignmentPlayer + "." + a.Name
	case AssignGroup:
		return assignmentGroup + "." + a.Name
	case AssignPhrase:
		return assignmentPhrase + "." + a.Name
	default:
		return assignmentNobody
	}
}

// ParseAssignment decodes the storage encoding produced by String.
func ParseAssignment(s string) (Assignment, error) {
	kind, rest, hasRest := strings.Cut(s, ".")
	switch kind {
	case assignmentNobody:
		return Nobody(), nil
	case assignmentConsole:
		return AssignedConsole(), nil
	case assignmentPlayer, assignmentGroup, assignmentPhrase, assignmentLegacy:
		if !hasRest {
			return Assignment{}, fmt.Errorf("%w: %q", ErrMalformedAssignment, s)
		}
		switch kind {
		case assignmentPlayer:
			return Player(rest), nil
		case assignmentGroup:
			return Group(rest), nil
		default:
			return Phrase(rest), nil
		}
	default:
		return Assignment{}, fmt.Errorf("%w: %q", ErrMalformedAssignment, s)
	}
}

// Column returns the nullable SQL encoding; Nobody is stored as NULL.
func (a Assignment) Column() *string {
	if a.IsNobody() {
		return nil
	}
	s := a.String()
	return &s
}

// AssignmentFromColumn decodes the nullable SQL encoding.
func AssignmentFromColumn(value *string) (Assignment, error) {
	if value == nil {
		return Nobody(), nil
	}
	return ParseAssignment(*value)
}

// MarshalText implements encoding.TextMarshaler.
func (a Assignment) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Assignment) UnmarshalText(text []byte) error {
	parsed, err := ParseAssignment(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
