package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/events"
	"github.com/spec-kit/ticket-manager/internal/migration"
	"github.com/spec-kit/ticket-manager/internal/observability"
	"github.com/spec-kit/ticket-manager/internal/query"
	"github.com/spec-kit/ticket-manager/internal/store"
)

// ErrLocked is returned for mutations while the store is migrating or reloading.
var ErrLocked = errors.New("ticket store is locked")

// State is the lifecycle state of the service.
type State int32

const (
	StateRunning State = iota
	StateMigrating
	StateReloading
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateMigrating:
		return "migrating"
	case StateReloading:
		return "reloading"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Opener builds store backends. factory.Factory satisfies it.
type Opener interface {
	Open(ctx context.Context, t store.Type) (store.Store, error)
}

// TicketService fronts the active Store. Reads always reach the active
// store; mutations are admitted only while Running.
type TicketService struct {
	opener     Opener
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	logEvery   int

	state atomic.Int32
	// gate is held shared by every mutation and exclusively by a
	// transition, so in-flight mutations finish before it proceeds.
	gate sync.RWMutex

	storeMu    sync.RWMutex
	active     store.Store
	configured store.Type
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store      store.Store
	Opener     Opener
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	// MigrationLogEvery is the progress log interval of MigrateTo.
	MigrationLogEvery int
}

// NewTicketService constructs the service around an already opened store.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TicketService{
		opener:     deps.Opener,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		logEvery:   deps.MigrationLogEvery,
		active:     deps.Store,
		configured: deps.Store.Type(),
	}
	return s
}

// State reports the current lifecycle state.
func (s *TicketService) State() State {
	return State(s.state.Load())
}

// ActiveType names the backend currently serving requests.
func (s *TicketService) ActiveType() store.Type {
	return s.current().Type()
}

func (s *TicketService) current() store.Store {
	s.storeMu.RLock()
	defer s.storeMu.RUnlock()
	return s.active
}

func (s *TicketService) observe(st store.Store, op string, err error) {
	s.metrics.RecordStoreOp(string(st.Type()), op, err)
}

// mutate runs fn against the active store unless a transition is underway.
func (s *TicketService) mutate(op string, fn func(store.Store) error) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.State() != StateRunning {
		return ErrLocked
	}
	st := s.current()
	err := fn(st)
	s.observe(st, op, err)
	return err
}

func read[T any](s *TicketService, op string, fn func(store.Store) (T, error)) (T, error) {
	st := s.current()
	v, err := fn(st)
	s.observe(st, op, err)
	return v, err
}

// CreateTicket builds a ticket whose only action opens it and stores it.
// A zero priority keeps the default.
func (s *TicketService) CreateTicket(ctx context.Context, creator domain.Creator, location *domain.Location, message string, priority domain.TicketPriority) (domain.Ticket, error) {
	ticket := domain.NewTicket(creator, location, message, time.Now())
	if priority != 0 {
		ticket = ticket.WithPriority(priority)
	}
	if err := ticket.Validate(); err != nil {
		return domain.Ticket{}, err
	}

	var id int64
	err := s.mutate("insert", func(st store.Store) error {
		var err error
		id, err = st.Insert(ctx, ticket)
		return err
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	ticket = ticket.WithID(id)
	s.publishEvent(ctx, events.New(events.EventTicketCreated, id, creator.String(), events.TicketCreatedPayload{
		Creator:  creator,
		Priority: ticket.Priority,
	}))
	return ticket, nil
}

// GetTicket returns one ticket.
func (s *TicketService) GetTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	return read(s, "get", func(st store.Store) (domain.Ticket, error) { return st.Get(ctx, id) })
}

// GetTickets returns the tickets that exist among ids, in request order.
func (s *TicketService) GetTickets(ctx context.Context, ids []int64) ([]domain.Ticket, error) {
	return read(s, "get_many", func(st store.Store) ([]domain.Ticket, error) { return st.GetMany(ctx, ids) })
}

// SetStatus changes a ticket's status.
func (s *TicketService) SetStatus(ctx context.Context, id int64, status domain.TicketStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", domain.ErrInvalidTicket, status)
	}
	if err := s.mutate("set_status", func(st store.Store) error { return st.SetStatus(ctx, id, status) }); err != nil {
		return err
	}
	s.publishEvent(ctx, events.New(events.EventTicketStatusChanged, id, "", events.TicketStatusChangedPayload{NewStatus: status}))
	return nil
}

// SetPriority changes a ticket's priority.
func (s *TicketService) SetPriority(ctx context.Context, id int64, priority domain.TicketPriority) error {
	if !priority.Valid() {
		return fmt.Errorf("%w: priority %d", domain.ErrInvalidTicket, priority)
	}
	if err := s.mutate("set_priority", func(st store.Store) error { return st.SetPriority(ctx, id, priority) }); err != nil {
		return err
	}
	s.publishEvent(ctx, events.New(events.EventTicketPriorityChanged, id, "", events.TicketPriorityChangedPayload{NewPriority: priority}))
	return nil
}

// SetAssignment changes who a ticket is assigned to.
func (s *TicketService) SetAssignment(ctx context.Context, id int64, assignment domain.Assignment) error {
	if err := s.mutate("set_assignment", func(st store.Store) error { return st.SetAssignment(ctx, id, assignment) }); err != nil {
		return err
	}
	s.publishEvent(ctx, events.New(events.EventTicketAssigned, id, "", events.TicketAssignedPayload{AssignedTo: assignment}))
	return nil
}

// SetCreatorStatusUpdate flags or clears the unread marker for the creator.
func (s *TicketService) SetCreatorStatusUpdate(ctx context.Context, id int64, update bool) error {
	return s.mutate("set_creator_status_update", func(st store.Store) error {
		return st.SetCreatorStatusUpdate(ctx, id, update)
	})
}

// AppendAction records an action in a ticket's history.
func (s *TicketService) AppendAction(ctx context.Context, id int64, action domain.Action) error {
	if action.Kind == nil {
		return fmt.Errorf("%w: action without kind", domain.ErrInvalidTicket)
	}
	if err := s.mutate("append_action", func(st store.Store) error { return st.AppendAction(ctx, id, action) }); err != nil {
		return err
	}
	s.publishEvent(ctx, events.New(events.EventTicketActionAppended, id, action.Actor.String(), events.TicketActionAppendedPayload{
		ActionType: action.Kind.Type(),
	}))
	return nil
}

// MassClose closes every open ticket with an id in [lo, hi].
func (s *TicketService) MassClose(ctx context.Context, lo, hi int64, actor domain.Creator, location *domain.Location) error {
	if lo > hi {
		return fmt.Errorf("%w: range %d..%d is empty", domain.ErrInvalidTicket, lo, hi)
	}
	if err := s.mutate("mass_close", func(st store.Store) error { return st.MassClose(ctx, lo, hi, actor, location) }); err != nil {
		return err
	}
	s.publishEvent(ctx, events.New(events.EventTicketsMassClosed, 0, actor.String(), events.TicketsMassClosedPayload{From: lo, To: hi}))
	return nil
}

// CountOpen counts open tickets.
func (s *TicketService) CountOpen(ctx context.Context) (int, error) {
	return read(s, "count_open", func(st store.Store) (int, error) { return st.CountOpen(ctx) })
}

// CountOpenAssignedTo counts open tickets assigned to the target or one of groups.
func (s *TicketService) CountOpenAssignedTo(ctx context.Context, target domain.Assignment, groups []string) (int, error) {
	return read(s, "count_open_assigned", func(st store.Store) (int, error) {
		return st.CountOpenAssignedTo(ctx, target, groups)
	})
}

// OpenTickets pages through open tickets.
func (s *TicketService) OpenTickets(ctx context.Context, page, pageSize int) (query.Page, error) {
	return read(s, "open_tickets", func(st store.Store) (query.Page, error) { return st.OpenTickets(ctx, page, pageSize) })
}

// OpenTicketsAssignedTo pages through open tickets assigned to the target or one of groups.
func (s *TicketService) OpenTicketsAssignedTo(ctx context.Context, target domain.Assignment, groups []string, page, pageSize int) (query.Page, error) {
	return read(s, "open_tickets_assigned", func(st store.Store) (query.Page, error) {
		return st.OpenTicketsAssignedTo(ctx, target, groups, page, pageSize)
	})
}

// OpenTicketsNotAssigned pages through open tickets nobody is assigned to.
func (s *TicketService) OpenTicketsNotAssigned(ctx context.Context, page, pageSize int) (query.Page, error) {
	return read(s, "open_tickets_unassigned", func(st store.Store) (query.Page, error) {
		return st.OpenTicketsNotAssigned(ctx, page, pageSize)
	})
}

// Search pages through tickets matching every constraint.
func (s *TicketService) Search(ctx context.Context, constraints query.Constraints, page, pageSize int) (query.Page, error) {
	return read(s, "search", func(st store.Store) (query.Page, error) { return st.Search(ctx, constraints, page, pageSize) })
}

// IDsWithUnreadUpdates lists tickets whose creator has an unread update.
func (s *TicketService) IDsWithUnreadUpdates(ctx context.Context) ([]int64, error) {
	return read(s, "unread_ids", func(st store.Store) ([]int64, error) { return st.IDsWithUnreadUpdates(ctx) })
}

// IDsWithUnreadUpdatesFor lists creator's tickets with an unread update.
func (s *TicketService) IDsWithUnreadUpdatesFor(ctx context.Context, creator domain.Creator) ([]int64, error) {
	return read(s, "unread_ids_for", func(st store.Store) ([]int64, error) { return st.IDsWithUnreadUpdatesFor(ctx, creator) })
}

// OwnedTicketIDs lists every ticket creator opened.
func (s *TicketService) OwnedTicketIDs(ctx context.Context, creator domain.Creator) ([]int64, error) {
	return read(s, "owned_ids", func(st store.Store) ([]int64, error) { return st.OwnedTicketIDs(ctx, creator) })
}

// OpenTicketIDs lists every open ticket.
func (s *TicketService) OpenTicketIDs(ctx context.Context) ([]int64, error) {
	return read(s, "open_ids", func(st store.Store) ([]int64, error) { return st.OpenTicketIDs(ctx) })
}

// OpenTicketIDsFor lists creator's open tickets.
func (s *TicketService) OpenTicketIDsFor(ctx context.Context, creator domain.Creator) ([]int64, error) {
	return read(s, "open_ids_for", func(st store.Store) ([]int64, error) { return st.OpenTicketIDsFor(ctx, creator) })
}

// Ready checks that the active store answers queries.
func (s *TicketService) Ready(ctx context.Context) error {
	_, err := s.current().CountOpen(ctx)
	return err
}

// begin moves Running to next and waits for in-flight mutations.
func (s *TicketService) begin(next State) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(next)) {
		return ErrLocked
	}
	s.gate.Lock()
	s.gate.Unlock()
	s.logger.Info("ticket store locked", zap.Stringer("state", next))
	return nil
}

func (s *TicketService) end() {
	s.state.Store(int32(StateRunning))
	s.logger.Info("ticket store unlocked")
}

// MigrateTo copies every ticket into a fresh target backend and makes it
// the active store. On failure the destination is closed and the current
// store stays active.
func (s *TicketService) MigrateTo(ctx context.Context, target store.Type) (migration.Report, error) {
	if s.opener == nil {
		return migration.Report{}, errors.New("no store opener configured")
	}
	if s.ActiveType() == target {
		return migration.Report{}, store.ErrSameBackend
	}
	if err := s.begin(StateMigrating); err != nil {
		return migration.Report{}, err
	}
	defer s.end()

	src := s.current()
	dst, err := s.opener.Open(ctx, target)
	if err != nil {
		return migration.Report{}, fmt.Errorf("open %s store: %w", target, err)
	}

	report, err := migration.Migrate(ctx, src, dst, migration.Options{
		KeepSource: true,
		LogEvery:   s.logEvery,
		Logger:     s.logger,
	})
	if err != nil {
		if cerr := dst.Close(ctx); cerr != nil {
			s.logger.Warn("close discarded migration target", zap.Error(cerr))
		}
		return report, err
	}

	s.storeMu.Lock()
	s.active = dst
	s.configured = target
	s.storeMu.Unlock()

	// reads that picked up src before the swap may still be running;
	// they see ErrClosed at worst
	if err := src.Close(ctx); err != nil {
		s.logger.Warn("close migration source", zap.Error(err))
	}

	s.publishEvent(ctx, events.New(events.EventStoreMigrated, 0, "", events.StoreMigratedPayload{
		From:     string(report.From),
		To:       string(report.To),
		Migrated: report.Migrated,
		Duration: report.Duration,
	}))
	return report, nil
}

// Reload closes the active store and reopens the configured backend.
// Reads wait while the store is swapped.
func (s *TicketService) Reload(ctx context.Context) error {
	if s.opener == nil {
		return errors.New("no store opener configured")
	}
	if err := s.begin(StateReloading); err != nil {
		return err
	}
	defer s.end()

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	if err := s.active.Close(ctx); err != nil {
		s.logger.Warn("close store for reload", zap.Error(err))
	}
	next, err := s.opener.Open(ctx, s.configured)
	if err != nil {
		s.logger.Error("reopen store", zap.String("store", string(s.configured)), zap.Error(err))
		return fmt.Errorf("reopen %s store: %w", s.configured, err)
	}
	s.active = next
	s.logger.Info("ticket store reloaded", zap.String("store", string(s.configured)))
	return nil
}

// Close releases the active store.
func (s *TicketService) Close(ctx context.Context) error {
	return s.current().Close(ctx)
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event", string(event.Type)), zap.Error(err))
	}
}
