package repository

import (
	"context"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/query"
	"github.com/spec-kit/ticket-manager/internal/store"
)

// LoadFunc returns the fully assembled tickets matching a filter.
type LoadFunc func(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)

// CountFunc counts the tickets matching a filter.
type CountFunc func(ctx context.Context, filter TicketFilter) (int, error)

// EachBatch is how many tickets Each loads per round trip.
const EachBatch = 500

// OpenAssignedFilters returns disjoint filters whose union is the open
// tickets assigned to target or one of the groups.
func OpenAssignedFilters(target domain.Assignment, groups []string) []TicketFilter {
	open := OpenFilter()
	if !target.IsNobody() {
		open.AssignedTo = store.AssignmentCandidates(target, groups)
		return []TicketFilter{open}
	}
	unassigned := OpenFilter()
	unassigned.Unassigned = true
	filters := []TicketFilter{unassigned}
	if len(groups) > 0 {
		grouped := OpenFilter()
		for _, g := range groups {
			grouped.AssignedTo = append(grouped.AssignedTo, domain.Group(g).String())
		}
		filters = append(filters, grouped)
	}
	return filters
}

// CountOpenAssignedTo sums the counts of OpenAssignedFilters.
func CountOpenAssignedTo(ctx context.Context, count CountFunc, target domain.Assignment, groups []string) (int, error) {
	total := 0
	for _, f := range OpenAssignedFilters(target, groups) {
		n, err := count(ctx, f)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// OpenTicketsAssignedTo pages through open tickets assigned to target or
// one of the groups, most urgent first.
func OpenTicketsAssignedTo(ctx context.Context, load LoadFunc, target domain.Assignment, groups []string, page, pageSize int) (query.Page, error) {
	var tickets []domain.Ticket
	for _, f := range OpenAssignedFilters(target, groups) {
		loaded, err := load(ctx, f)
		if err != nil {
			return query.Page{}, err
		}
		tickets = append(tickets, loaded...)
	}
	return query.Paginate(tickets, query.ByPriorityThenID, page, pageSize), nil
}

// ListPage loads the tickets matching filter and pages them, most urgent first.
func ListPage(ctx context.Context, load LoadFunc, filter TicketFilter, page, pageSize int) (query.Page, error) {
	tickets, err := load(ctx, filter)
	if err != nil {
		return query.Page{}, err
	}
	return query.Paginate(tickets, query.ByPriorityThenID, page, pageSize), nil
}

// Search compiles the constraints, loads the candidates selected by the
// pushed-down filter and applies the full predicate in memory.
func Search(ctx context.Context, load LoadFunc, c query.Constraints, page, pageSize int) (query.Page, error) {
	pred, err := query.Compile(c)
	if err != nil {
		return query.Page{}, err
	}
	tickets, err := load(ctx, FilterFromConstraints(c))
	if err != nil {
		return query.Page{}, err
	}
	return query.Paginate(query.Filter(tickets, pred), query.ByIDDesc, page, pageSize), nil
}

// Each feeds every stored ticket to fn in ascending id order, loading
// EachBatch tickets at a time.
func Each(ctx context.Context, ids []int64, load LoadFunc, fn func(domain.Ticket) error) error {
	for start := 0; start < len(ids); start += EachBatch {
		end := min(start+EachBatch, len(ids))
		batch, err := load(ctx, TicketFilter{IDs: ids[start:end]})
		if err != nil {
			return err
		}
		for _, t := range batch {
			if err := fn(t); err != nil {
				return err
			}
		}
	}
	return nil
}
