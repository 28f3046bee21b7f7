package repository

import (
	"fmt"
	"strings"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/query"
)

// Placeholder renders the n-th (1-based) bind parameter of a SQL dialect.
type Placeholder func(n int) string

// Question is the SQLite placeholder style.
func Question(int) string { return "?" }

// Dollar is the Postgres placeholder style.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// TicketFilter captures the ticket-row conditions a SQL backend can
// evaluate without loading actions.
type TicketFilter struct {
	IDs                 []int64
	IDFrom              *int64
	IDTo                *int64
	Statuses            []domain.TicketStatus
	Priority            *query.Option[domain.TicketPriority]
	Creator             *domain.Creator
	AssignedTo          []string
	Unassigned          bool
	CreatorStatusUpdate *bool
}

var prioritySQL = map[query.Symbol]string{
	query.Equals:      "=",
	query.NotEquals:   "<>",
	query.GreaterThan: ">",
	query.LessThan:    "<",
}

// FilterFromConstraints extracts the part of a search that maps onto the
// tickets table. The remaining constraints are applied in memory.
func FilterFromConstraints(c query.Constraints) TicketFilter {
	var f TicketFilter
	if c.Status != nil {
		switch c.Status.Symbol {
		case query.Equals:
			f.Statuses = []domain.TicketStatus{c.Status.Value}
		case query.NotEquals:
			for _, s := range []domain.TicketStatus{domain.TicketStatusOpen, domain.TicketStatusClosed} {
				if s != c.Status.Value {
					f.Statuses = append(f.Statuses, s)
				}
			}
		}
	}
	if c.Priority != nil {
		if _, ok := prioritySQL[c.Priority.Symbol]; ok {
			p := *c.Priority
			f.Priority = &p
		}
	}
	if c.Creator != nil && c.Creator.Symbol == query.Equals {
		creator := c.Creator.Value
		f.Creator = &creator
	}
	if c.AssignedTo != nil && c.AssignedTo.Symbol == query.Equals {
		if c.AssignedTo.Value.IsNobody() {
			f.Unassigned = true
		} else {
			f.AssignedTo = []string{c.AssignedTo.Value.String()}
		}
	}
	return f
}

// Where renders the filter as a WHERE clause body and its arguments.
func (f TicketFilter) Where(ph Placeholder) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}
	bind := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}
	in := func(column string, values []any) {
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = bind(v)
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ",")))
	}

	if len(f.IDs) > 0 {
		values := make([]any, len(f.IDs))
		for i, id := range f.IDs {
			values[i] = id
		}
		in("id", values)
	}
	if f.IDFrom != nil {
		clauses = append(clauses, "id >= "+bind(*f.IDFrom))
	}
	if f.IDTo != nil {
		clauses = append(clauses, "id <= "+bind(*f.IDTo))
	}
	if len(f.Statuses) > 0 {
		values := make([]any, len(f.Statuses))
		for i, s := range f.Statuses {
			values[i] = string(s)
		}
		in("status", values)
	}
	if f.Priority != nil {
		clauses = append(clauses, fmt.Sprintf("priority %s %s", prioritySQL[f.Priority.Symbol], bind(int64(f.Priority.Value))))
	}
	if f.Creator != nil {
		clauses = append(clauses, "creator = "+bind(f.Creator.String()))
	}
	if f.Unassigned {
		clauses = append(clauses, "assigned_to IS NULL")
	} else if len(f.AssignedTo) > 0 {
		values := make([]any, len(f.AssignedTo))
		for i, a := range f.AssignedTo {
			values[i] = a
		}
		in("assigned_to", values)
	}
	if f.CreatorStatusUpdate != nil {
		clauses = append(clauses, "status_update_for_creator = "+bind(*f.CreatorStatusUpdate))
	}
	return strings.Join(clauses, " AND "), args
}

// OpenFilter matches open tickets.
func OpenFilter() TicketFilter {
	return TicketFilter{Statuses: []domain.TicketStatus{domain.TicketStatusOpen}}
}
