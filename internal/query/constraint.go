package query

import (
	"errors"
	"fmt"

	"github.com/spec-kit/ticket-manager/internal/domain"
)

// ErrInvalidSymbol is returned when a constraint uses a comparison its field does not support.
var ErrInvalidSymbol = errors.New("invalid constraint symbol")

// Symbol is the comparison applied by a constraint.
type Symbol string

const (
	Equals      Symbol = "EQUALS"
	NotEquals   Symbol = "NOT_EQUALS"
	GreaterThan Symbol = "GREATER_THAN"
	LessThan    Symbol = "LESS_THAN"
)

// Option pairs a comparison with the value it compares against.
type Option[T any] struct {
	Symbol Symbol `json:"symbol"`
	Value  T      `json:"value"`
}

// Eq builds an EQUALS option.
func Eq[T any](v T) *Option[T] { return &Option[T]{Symbol: Equals, Value: v} }

// Neq builds a NOT_EQUALS option.
func Neq[T any](v T) *Option[T] { return &Option[T]{Symbol: NotEquals, Value: v} }

// Gt builds a GREATER_THAN option.
func Gt[T any](v T) *Option[T] { return &Option[T]{Symbol: GreaterThan, Value: v} }

// Lt builds a LESS_THAN option.
func Lt[T any](v T) *Option[T] { return &Option[T]{Symbol: LessThan, Value: v} }

// Constraints is a search request. A nil field does not constrain.
type Constraints struct {
	Status       *Option[domain.TicketStatus]   `json:"status,omitempty"`
	Priority     *Option[domain.TicketPriority] `json:"priority,omitempty"`
	Creator      *Option[domain.Creator]        `json:"creator,omitempty"`
	AssignedTo   *Option[domain.Assignment]     `json:"assigned_to,omitempty"`
	CreationTime *Option[int64]                 `json:"creation_time,omitempty"`
	World        *Option[string]                `json:"world,omitempty"`
	ClosedBy     *Option[domain.Creator]        `json:"closed_by,omitempty"`
	LastClosedBy *Option[domain.Creator]        `json:"last_closed_by,omitempty"`
	Keywords     *Option[[]string]              `json:"keywords,omitempty"`
}

func invalid(field string, s Symbol) error {
	return fmt.Errorf("%w: %s does not support %q", ErrInvalidSymbol, field, s)
}

func equality(field string, s Symbol) error {
	if s != Equals && s != NotEquals {
		return invalid(field, s)
	}
	return nil
}
