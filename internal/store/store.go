// Package store defines the contract shared by every ticket storage backend.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/query"
)

var (
	ErrNotFound           = errors.New("ticket not found")
	ErrDuplicateID        = errors.New("ticket id already exists")
	ErrClosed             = errors.New("store closed")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	ErrSameBackend        = errors.New("source and destination use the same backend")
	ErrInvalidTicket      = domain.ErrInvalidTicket
)

// Type names a storage backend.
type Type string

const (
	TypeMemory       Type = "memory"
	TypeSQLite       Type = "sqlite"
	TypeCachedSQLite Type = "cached_sqlite"
	TypePostgres     Type = "postgres"
	TypeRedis        Type = "redis"
)

// Types lists every backend in a stable order.
func Types() []Type {
	return []Type{TypeMemory, TypeSQLite, TypeCachedSQLite, TypePostgres, TypeRedis}
}

// ParseType validates a backend name.
func ParseType(s string) (Type, error) {
	for _, t := range Types() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown store type %q", s)
}

// Store persists tickets and answers queries over them. Implementations
// are safe for concurrent use and never lose a concurrent update to the
// same ticket. Returned tickets are snapshots owned by the caller.
type Store interface {
	Type() Type

	Insert(ctx context.Context, ticket domain.Ticket) (int64, error)
	Import(ctx context.Context, ticket domain.Ticket) error
	Get(ctx context.Context, id int64) (domain.Ticket, error)
	GetMany(ctx context.Context, ids []int64) ([]domain.Ticket, error)

	SetStatus(ctx context.Context, id int64, status domain.TicketStatus) error
	SetPriority(ctx context.Context, id int64, priority domain.TicketPriority) error
	SetAssignment(ctx context.Context, id int64, assignment domain.Assignment) error
	SetCreatorStatusUpdate(ctx context.Context, id int64, update bool) error
	AppendAction(ctx context.Context, id int64, action domain.Action) error
	MassClose(ctx context.Context, lo, hi int64, actor domain.Creator, location *domain.Location) error

	CountOpen(ctx context.Context) (int, error)
	CountOpenAssignedTo(ctx context.Context, assignment domain.Assignment, groups []string) (int, error)
	OpenTickets(ctx context.Context, page, pageSize int) (query.Page, error)
	OpenTicketsAssignedTo(ctx context.Context, assignment domain.Assignment, groups []string, page, pageSize int) (query.Page, error)
	OpenTicketsNotAssigned(ctx context.Context, page, pageSize int) (query.Page, error)
	Search(ctx context.Context, constraints query.Constraints, page, pageSize int) (query.Page, error)

	IDsWithUnreadUpdates(ctx context.Context) ([]int64, error)
	IDsWithUnreadUpdatesFor(ctx context.Context, creator domain.Creator) ([]int64, error)
	OwnedTicketIDs(ctx context.Context, creator domain.Creator) ([]int64, error)
	OpenTicketIDs(ctx context.Context) ([]int64, error)
	OpenTicketIDsFor(ctx context.Context, creator domain.Creator) ([]int64, error)

	Each(ctx context.Context, fn func(domain.Ticket) error) error
	Close(ctx context.Context) error
}

// Flusher is implemented by backends that defer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// AssignedToAny reports whether a ticket assignment matches the target
// or one of the named groups.
func AssignedToAny(a domain.Assignment, target domain.Assignment, groups []string) bool {
	if a == target {
		return true
	}
	if a.Kind != domain.AssignGroup {
		return false
	}
	for _, g := range groups {
		if a.Name == g {
			return true
		}
	}
	return false
}

// AssignmentCandidates returns the encoded assignments matched by
// AssignedToAny, for backends that filter on the stored column.
func AssignmentCandidates(target domain.Assignment, groups []string) []string {
	out := []string{target.String()}
	for _, g := range groups {
		out = append(out, domain.Group(g).String())
	}
	return out
}
