package query

import (
	"sort"

	"github.com/spec-kit/ticket-manager/internal/domain"
)

// Order selects how results are sorted before paging.
type Order int

const (
	// ByPriorityThenID sorts by priority descending, then id descending.
	ByPriorityThenID Order = iota
	// ByIDDesc sorts by id descending.
	ByIDDesc
)

// Page is one slice of a sorted result set.
type Page struct {
	Results      []domain.Ticket `json:"results"`
	TotalPages   int             `json:"total_pages"`
	TotalResults int             `json:"total_results"`
	ReturnedPage int             `json:"returned_page"`
}

// Sort orders tickets in place.
func Sort(tickets []domain.Ticket, order Order) {
	switch order {
	case ByPriorityThenID:
		sort.SliceStable(tickets, func(i, j int) bool {
			if tickets[i].Priority != tickets[j].Priority {
				return tickets[i].Priority > tickets[j].Priority
			}
			return tickets[i].ID > tickets[j].ID
		})
	default:
		sort.SliceStable(tickets, func(i, j int) bool { return tickets[i].ID > tickets[j].ID })
	}
}

// Paginate sorts tickets and returns the requested page. A pageSize of
// zero or less yields a single page holding everything; the page number
// is clamped into [1, TotalPages].
func Paginate(tickets []domain.Ticket, order Order, page, pageSize int) Page {
	Sort(tickets, order)

	total := len(tickets)
	if pageSize <= 0 || total == 0 {
		results := tickets
		if results == nil {
			results = []domain.Ticket{}
		}
		return Page{Results: results, TotalPages: 1, TotalResults: total, ReturnedPage: 1}
	}

	totalPages := (total + pageSize - 1) / pageSize
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}
	return Page{
		Results:      tickets[start:end],
		TotalPages:   totalPages,
		TotalResults: total,
		ReturnedPage: page,
	}
}

// Filter keeps the tickets matching pred.
func Filter(tickets []domain.Ticket, pred Predicate) []domain.Ticket {
	out := make([]domain.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if pred(t) {
			out = append(out, t)
		}
	}
	return out
}
