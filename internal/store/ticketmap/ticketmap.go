// Package ticketmap holds tickets in memory with one lock per ticket and
// answers every read-side store query from that state.
package ticketmap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/query"
	"github.com/spec-kit/ticket-manager/internal/store"
)

type entry struct {
	mu     sync.Mutex
	ticket domain.Ticket
	dead   bool
}

// Map is a concurrent id -> ticket map. Writers to one ticket are
// serialized by that ticket's lock; writers to different tickets run in
// parallel.
type Map struct {
	mu      sync.RWMutex
	entries map[int64]*entry
	next    int64
}

// New returns an empty map whose first id is 1.
func New() *Map {
	return &Map{entries: make(map[int64]*entry), next: 1}
}

// Load replaces the contents and moves the id counter past the highest id.
func (m *Map) Load(tickets []domain.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[int64]*entry, len(tickets))
	m.next = 1
	for _, t := range tickets {
		m.entries[t.ID] = &entry{ticket: t.Clone()}
		if t.ID >= m.next {
			m.next = t.ID + 1
		}
	}
}

// AdvanceTo moves the id counter to next unless it is already past it.
func (m *Map) AdvanceTo(next int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if next > m.next {
		m.next = next
	}
}

// NextID returns the id the next Insert will use.
func (m *Map) NextID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.next
}

// Len returns the number of tickets.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// reserve adds a locked entry for id. The caller must unlock it.
func (m *Map) reserve(id int64, t domain.Ticket) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == 0 {
		id = m.next
	}
	if _, ok := m.entries[id]; ok {
		return nil, fmt.Errorf("%w: %d", store.ErrDuplicateID, id)
	}
	if id >= m.next {
		m.next = id + 1
	}
	e := &entry{ticket: t.WithID(id)}
	e.mu.Lock()
	m.entries[id] = e
	return e, nil
}

func (m *Map) drop(id int64, e *entry) {
	e.dead = true
	m.mu.Lock()
	if m.entries[id] == e {
		delete(m.entries, id)
	}
	m.mu.Unlock()
}

// Insert stores t under the next free id. persist runs while the new
// ticket is locked; if it fails the ticket is discarded.
func (m *Map) Insert(t domain.Ticket, persist func(domain.Ticket) error) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	e, err := m.reserve(0, t)
	if err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	id := e.ticket.ID
	if persist != nil {
		if err := persist(e.ticket.Clone()); err != nil {
			m.drop(id, e)
			return 0, err
		}
	}
	return id, nil
}

// Import stores t under its own id.
func (m *Map) Import(t domain.Ticket, persist func(domain.Ticket) error) error {
	if t.ID <= 0 {
		return fmt.Errorf("%w: import needs a positive id", store.ErrInvalidTicket)
	}
	if err := t.Validate(); err != nil {
		return err
	}
	e, err := m.reserve(t.ID, t)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	if persist != nil {
		if err := persist(e.ticket.Clone()); err != nil {
			m.drop(t.ID, e)
			return err
		}
	}
	return nil
}

func (m *Map) lookup(id int64) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok
}

// Get returns a snapshot of one ticket.
func (m *Map) Get(id int64) (domain.Ticket, error) {
	e, ok := m.lookup(id)
	if !ok {
		return domain.Ticket{}, fmt.Errorf("%w: %d", store.ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return domain.Ticket{}, fmt.Errorf("%w: %d", store.ErrNotFound, id)
	}
	return e.ticket.Clone(), nil
}

// GetMany returns the tickets that exist, in request order.
func (m *Map) GetMany(ids []int64) []domain.Ticket {
	out := make([]domain.Ticket, 0, len(ids))
	for _, id := range ids {
		if t, err := m.Get(id); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// Update replaces a ticket with fn's result while holding its lock. fn
// may also persist the change; an error leaves the ticket untouched.
func (m *Map) Update(id int64, fn func(domain.Ticket) (domain.Ticket, error)) (domain.Ticket, error) {
	e, ok := m.lookup(id)
	if !ok {
		return domain.Ticket{}, fmt.Errorf("%w: %d", store.ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return domain.Ticket{}, fmt.Errorf("%w: %d", store.ErrNotFound, id)
	}
	updated, err := fn(e.ticket.Clone())
	if err != nil {
		return domain.Ticket{}, err
	}
	updated.ID = id
	e.ticket = updated
	return updated.Clone(), nil
}

// IDs returns every id in ascending order.
func (m *Map) IDs() []int64 {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// All returns snapshots of every ticket in ascending id order.
func (m *Map) All() []domain.Ticket {
	return m.GetMany(m.IDs())
}

// MassClose closes every open ticket in [lo, hi], appending a MASS_CLOSE
// action. persist runs per ticket under its lock.
func (m *Map) MassClose(lo, hi int64, action domain.Action, persist func(domain.Ticket) error) ([]int64, error) {
	var closed []int64
	for _, id := range m.IDs() {
		if id < lo || id > hi {
			continue
		}
		changed := false
		_, err := m.Update(id, func(t domain.Ticket) (domain.Ticket, error) {
			if t.Status != domain.TicketStatusOpen {
				return t, nil
			}
			next := t.WithAction(action).WithStatus(domain.TicketStatusClosed)
			if persist != nil {
				if err := persist(next); err != nil {
					return domain.Ticket{}, err
				}
			}
			changed = true
			return next, nil
		})
		if err != nil {
			return closed, err
		}
		if changed {
			closed = append(closed, id)
		}
	}
	return closed, nil
}

func (m *Map) filter(pred func(domain.Ticket) bool) []domain.Ticket {
	return query.Filter(m.All(), pred)
}

func isOpen(t domain.Ticket) bool { return t.Status == domain.TicketStatusOpen }

// CountOpen counts open tickets.
func (m *Map) CountOpen() int {
	return len(m.filter(isOpen))
}

// CountOpenAssignedTo counts open tickets assigned to the target or one of the groups.
func (m *Map) CountOpenAssignedTo(assignment domain.Assignment, groups []string) int {
	return len(m.openAssignedTo(assignment, groups))
}

func (m *Map) openAssignedTo(assignment domain.Assignment, groups []string) []domain.Ticket {
	return m.filter(func(t domain.Ticket) bool {
		return isOpen(t) && store.AssignedToAny(t.AssignedTo, assignment, groups)
	})
}

// OpenTickets pages through open tickets, most urgent first.
func (m *Map) OpenTickets(page, pageSize int) query.Page {
	return query.Paginate(m.filter(isOpen), query.ByPriorityThenID, page, pageSize)
}

// OpenTicketsAssignedTo pages through open tickets assigned to the target or one of the groups.
func (m *Map) OpenTicketsAssignedTo(assignment domain.Assignment, groups []string, page, pageSize int) query.Page {
	return query.Paginate(m.openAssignedTo(assignment, groups), query.ByPriorityThenID, page, pageSize)
}

// OpenTicketsNotAssigned pages through open unassigned tickets.
func (m *Map) OpenTicketsNotAssigned(page, pageSize int) query.Page {
	return query.Paginate(m.filter(func(t domain.Ticket) bool {
		return isOpen(t) && t.AssignedTo.IsNobody()
	}), query.ByPriorityThenID, page, pageSize)
}

// Search pages through tickets matching the constraints, newest first.
func (m *Map) Search(c query.Constraints, page, pageSize int) (query.Page, error) {
	pred, err := query.Compile(c)
	if err != nil {
		return query.Page{}, err
	}
	return query.Paginate(m.filter(pred), query.ByIDDesc, page, pageSize), nil
}

func (m *Map) ids(pred func(domain.Ticket) bool) []int64 {
	matched := m.filter(pred)
	out := make([]int64, 0, len(matched))
	for _, t := range matched {
		out = append(out, t.ID)
	}
	return out
}

// IDsWithUnreadUpdates lists tickets flagged for their creator.
func (m *Map) IDsWithUnreadUpdates() []int64 {
	return m.ids(func(t domain.Ticket) bool { return t.CreatorStatusUpdate })
}

// IDsWithUnreadUpdatesFor lists one creator's flagged tickets.
func (m *Map) IDsWithUnreadUpdatesFor(creator domain.Creator) []int64 {
	return m.ids(func(t domain.Ticket) bool { return t.CreatorStatusUpdate && t.Creator == creator })
}

// OwnedTicketIDs lists every ticket a creator opened.
func (m *Map) OwnedTicketIDs(creator domain.Creator) []int64 {
	return m.ids(func(t domain.Ticket) bool { return t.Creator == creator })
}

// OpenTicketIDs lists every open ticket.
func (m *Map) OpenTicketIDs() []int64 {
	return m.ids(isOpen)
}

// OpenTicketIDsFor lists a creator's open tickets.
func (m *Map) OpenTicketIDsFor(creator domain.Creator) []int64 {
	return m.ids(func(t domain.Ticket) bool { return isOpen(t) && t.Creator == creator })
}
