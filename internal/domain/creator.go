package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformedCreator signals a persisted creator string that cannot be decoded.
var ErrMalformedCreator = errors.New("malformed creator")

// CreatorKind tags the identity behind a Creator.
type CreatorKind uint8

const (
	CreatorInvalid CreatorKind = iota
	CreatorUser
	CreatorConsole
	CreatorDummy
)

const (
	creatorUser    = "USER"
	creatorConsole = "CONSOLE"
	creatorInvalid = "INVALID_UUID"
	creatorDummy   = "DUMMY"
)

// Creator identifies who owns a ticket or performed an action.
type Creator struct {
	Kind CreatorKind
	UUID uuid.UUID
}

// User returns a creator for a registered player.
func User(id uuid.UUID) Creator {
	return Creator{Kind: CreatorUser, UUID: id}
}

// Console returns the operator identity.
func Console() Creator {
	return Creator{Kind: CreatorConsole}
}

// InvalidCreator marks an identity that could not be resolved.
func InvalidCreator() Creator {
	return Creator{Kind: CreatorInvalid}
}

// DummyCreator is used where an actor is required but not meaningful.
func DummyCreator() Creator {
	return Creator{Kind: CreatorDummy}
}

// IsUser reports whether the creator is a player.
func (c Creator) IsUser() bool {
	return c.Kind == CreatorUser
}

// String returns the storage encoding of the creator.
func (c Creator) String() string {
	switch c.Kind {
	case CreatorUser:
		return creatorUser + "." + c.UUID.String()
	case CreatorConsole:
		return creatorConsole
	case CreatorDummy:
		return creatorDummy
	default:
		return creatorInvalid
	}
}

// ParseCreator decodes the storage encoding produced by String.
func ParseCreator(s string) (Creator, error) {
	kind, rest, _ := strings.Cut(s, ".")
	switch kind {
	case creatorConsole:
		return Console(), nil
	case creatorDummy:
		return DummyCreator(), nil
	case creatorInvalid:
		return InvalidCreator(), nil
	case creatorUser:
		id, err := uuid.Parse(rest)
		if err != nil {
			return Creator{}, fmt.Errorf("%w: %q: %v", ErrMalformedCreator, s, err)
		}
		return User(id), nil
	default:
		return Creator{}, fmt.Errorf("%w: %q", ErrMalformedCreator, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Creator) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Creator) UnmarshalText(text []byte) error {
	parsed, err := ParseCreator(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
