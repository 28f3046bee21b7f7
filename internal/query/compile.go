package query

import (
	"strings"

	"github.com/spec-kit/ticket-manager/internal/domain"
)

// Predicate reports whether a ticket matches.
type Predicate func(domain.Ticket) bool

// Compile turns constraints into a single predicate. Supplied constraints
// are ANDed; an empty set matches every ticket.
func Compile(c Constraints) (Predicate, error) {
	var preds []Predicate
	add := func(p Predicate, err error) error {
		if err != nil {
			return err
		}
		preds = append(preds, p)
		return nil
	}

	if c.Status != nil {
		if err := add(compareEquality("status", c.Status, func(t domain.Ticket) domain.TicketStatus { return t.Status })); err != nil {
			return nil, err
		}
	}
	if c.Priority != nil {
		if err := add(comparePriority(c.Priority)); err != nil {
			return nil, err
		}
	}
	if c.Creator != nil {
		if err := add(compareEquality("creator", c.Creator, func(t domain.Ticket) domain.Creator { return t.Creator })); err != nil {
			return nil, err
		}
	}
	if c.AssignedTo != nil {
		if err := add(compareEquality("assignedTo", c.AssignedTo, func(t domain.Ticket) domain.Assignment { return t.AssignedTo })); err != nil {
			return nil, err
		}
	}
	if c.CreationTime != nil {
		if err := add(compareCreationTime(c.CreationTime)); err != nil {
			return nil, err
		}
	}
	if c.World != nil {
		if err := add(compareWorld(c.World)); err != nil {
			return nil, err
		}
	}
	if c.ClosedBy != nil {
		if err := add(compareClosedBy(c.ClosedBy)); err != nil {
			return nil, err
		}
	}
	if c.LastClosedBy != nil {
		if err := add(compareLastClosedBy(c.LastClosedBy)); err != nil {
			return nil, err
		}
	}
	if c.Keywords != nil {
		if err := add(compareKeywords(c.Keywords)); err != nil {
			return nil, err
		}
	}

	return func(t domain.Ticket) bool {
		for _, p := range preds {
			if !p(t) {
				return false
			}
		}
		return true
	}, nil
}

func compareEquality[T comparable](field string, opt *Option[T], get func(domain.Ticket) T) (Predicate, error) {
	if err := equality(field, opt.Symbol); err != nil {
		return nil, err
	}
	want := opt.Value
	if opt.Symbol == Equals {
		return func(t domain.Ticket) bool { return get(t) == want }, nil
	}
	return func(t domain.Ticket) bool { return get(t) != want }, nil
}

func comparePriority(opt *Option[domain.TicketPriority]) (Predicate, error) {
	level := opt.Value
	switch opt.Symbol {
	case Equals:
		return func(t domain.Ticket) bool { return t.Priority == level }, nil
	case NotEquals:
		return func(t domain.Ticket) bool { return t.Priority != level }, nil
	case GreaterThan:
		return func(t domain.Ticket) bool { return t.Priority > level }, nil
	case LessThan:
		return func(t domain.Ticket) bool { return t.Priority < level }, nil
	default:
		return nil, invalid("priority", opt.Symbol)
	}
}

// creationTime compares ticket age against the cutoff epoch in the value:
// LESS_THAN keeps tickets younger than the cutoff (created at or after it),
// GREATER_THAN keeps older ones (created at or before it).
func compareCreationTime(opt *Option[int64]) (Predicate, error) {
	cutoff := opt.Value
	switch opt.Symbol {
	case LessThan:
		return func(t domain.Ticket) bool { return t.CreatedAt() >= cutoff }, nil
	case GreaterThan:
		return func(t domain.Ticket) bool { return t.CreatedAt() <= cutoff }, nil
	default:
		return nil, invalid("creationTime", opt.Symbol)
	}
}

func compareWorld(opt *Option[string]) (Predicate, error) {
	if err := equality("world", opt.Symbol); err != nil {
		return nil, err
	}
	want := opt.Value
	matches := func(t domain.Ticket) bool {
		world, ok := t.World()
		return ok && world == want
	}
	if opt.Symbol == Equals {
		return matches, nil
	}
	return func(t domain.Ticket) bool { return !matches(t) }, nil
}

func compareClosedBy(opt *Option[domain.Creator]) (Predicate, error) {
	if err := equality("closedBy", opt.Symbol); err != nil {
		return nil, err
	}
	who := opt.Value
	closedBy := func(t domain.Ticket) bool {
		for _, a := range t.Actions {
			if a.IsClose() && a.Actor == who {
				return true
			}
		}
		return false
	}
	if opt.Symbol == Equals {
		return closedBy, nil
	}
	return func(t domain.Ticket) bool { return !closedBy(t) }, nil
}

func compareLastClosedBy(opt *Option[domain.Creator]) (Predicate, error) {
	if err := equality("lastClosedBy", opt.Symbol); err != nil {
		return nil, err
	}
	who := opt.Value
	lastClosedBy := func(t domain.Ticket) bool {
		for i := len(t.Actions) - 1; i >= 0; i-- {
			if t.Actions[i].IsClose() {
				return t.Actions[i].Actor == who
			}
		}
		return false
	}
	if opt.Symbol == Equals {
		return lastClosedBy, nil
	}
	return func(t domain.Ticket) bool { return !lastClosedBy(t) }, nil
}

func compareKeywords(opt *Option[[]string]) (Predicate, error) {
	if err := equality("keywords", opt.Symbol); err != nil {
		return nil, err
	}
	keywords := make([]string, 0, len(opt.Value))
	for _, k := range opt.Value {
		keywords = append(keywords, strings.ToLower(k))
	}
	contains := func(texts []string, keyword string) bool {
		for _, text := range texts {
			if strings.Contains(text, keyword) {
				return true
			}
		}
		return false
	}
	texts := func(t domain.Ticket) []string {
		out := make([]string, 0, len(t.Actions))
		for _, a := range t.Actions {
			if text, ok := a.Text(); ok {
				out = append(out, strings.ToLower(text))
			}
		}
		return out
	}

	if opt.Symbol == Equals {
		return func(t domain.Ticket) bool {
			all := texts(t)
			for _, k := range keywords {
				if !contains(all, k) {
					return false
				}
			}
			return true
		}, nil
	}
	return func(t domain.Ticket) bool {
		all := texts(t)
		for _, k := range keywords {
			if contains(all, k) {
				return false
			}
		}
		return true
	}, nil
}
