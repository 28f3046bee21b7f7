// Package redis stores each ticket as a Redis hash keyed by its id.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/query"
	"github.com/spec-kit/ticket-manager/internal/store"
	"github.com/spec-kit/ticket-manager/internal/store/ticketmap"
)

const (
	fieldCreator      = "CREATOR"
	fieldPriority     = "PRIORITY"
	fieldStatus       = "STATUS"
	fieldAssignedTo   = "ASSIGNED_TO"
	fieldStatusUpdate = "STATUS_UPDATE_FOR_CREATOR"
	fieldActions      = "ACTIONS"

	maxTxRetries = 16
	scanBatch    = 1000
)

// ErrContention is returned when an optimistic transaction keeps losing
// to concurrent writers.
var ErrContention = errors.New("redis: too many concurrent updates")

// Options configures the Redis store.
type Options struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

// Store is the Redis backend.
type Store struct {
	client  *goredis.Client
	last    atomic.Int64
	timeout time.Duration
	logger  *zap.Logger
	closed  atomic.Bool
	once    sync.Once
}

var _ store.Store = (*Store)(nil)

// New seeds the id sequence from the highest numeric key and returns the
// store. The store closes the client on Close.
func New(ctx context.Context, client *goredis.Client, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		client:  client,
		timeout: opts.Timeout,
		logger:  logger.With(zap.String("store", string(store.TypeRedis))),
	}
	ids, err := s.scanIDs(ctx)
	if err != nil {
		return nil, mapErr(err, 0)
	}
	if len(ids) > 0 {
		s.last.Store(ids[len(ids)-1])
	}
	s.logger.Info("redis id sequence seeded", zap.Int64("last_id", s.last.Load()), zap.Int("tickets", len(ids)))
	return s, nil
}

func key(id int64) string { return strconv.FormatInt(id, 10) }

func (s *Store) Type() store.Type { return store.TypeRedis }

func (s *Store) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if s.closed.Load() {
		return ctx, func() {}, store.ErrClosed
	}
	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

// mapErr keeps store and server errors and reports everything else as a
// connectivity failure.
func mapErr(err error, id int64) error {
	if err == nil {
		return nil
	}
	var serverErr goredis.Error
	switch {
	case errors.Is(err, goredis.Nil):
		return fmt.Errorf("%w: %d", store.ErrNotFound, id)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrDuplicateID),
		errors.Is(err, domain.ErrInvalidTicket), errors.Is(err, ErrContention):
		return err
	case errors.As(err, &serverErr):
		return err
	default:
		return fmt.Errorf("%w: %v", store.ErrBackendUnavailable, err)
	}
}

func encodeHash(t domain.Ticket) (map[string]any, error) {
	rec := domain.ToRecord(t)
	actions, err := json.Marshal(rec.Actions)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		fieldCreator:      rec.Creator,
		fieldPriority:     strconv.Itoa(int(rec.Priority)),
		fieldStatus:       rec.Status,
		fieldAssignedTo:   t.AssignedTo.String(),
		fieldStatusUpdate: boolField(rec.CreatorStatusUpdate),
		fieldActions:      string(actions),
	}, nil
}

func boolField(v bool) string {
	if v {
		return "T"
	}
	return "F"
}

func decodeHash(id int64, h map[string]string) (domain.Ticket, error) {
	priority, err := strconv.Atoi(h[fieldPriority])
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket %d: %w: priority %q", id, domain.ErrInvalidTicket, h[fieldPriority])
	}
	rec := domain.TicketRecord{
		ID:                  id,
		Creator:             h[fieldCreator],
		Priority:            uint8(priority),
		Status:              h[fieldStatus],
		CreatorStatusUpdate: h[fieldStatusUpdate] == "T",
	}
	if err := json.Unmarshal([]byte(h[fieldActions]), &rec.Actions); err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket %d: decode actions: %w", id, err)
	}
	t, err := domain.FromRecord(rec)
	if err != nil {
		return domain.Ticket{}, err
	}
	assigned, err := domain.ParseAssignment(h[fieldAssignedTo])
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket %d: %w", id, err)
	}
	return t.WithAssignment(assigned), nil
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
}

func readTicket(ctx context.Context, c hashReader, id int64) (domain.Ticket, error) {
	h, err := c.HGetAll(ctx, key(id)).Result()
	if err != nil {
		return domain.Ticket{}, err
	}
	if len(h) == 0 {
		return domain.Ticket{}, fmt.Errorf("%w: %d", store.ErrNotFound, id)
	}
	return decodeHash(id, h)
}

// watch runs fn in an optimistic transaction on the ticket key, retrying
// when another client changed the key first.
func (s *Store) watch(ctx context.Context, id int64, fn func(tx *goredis.Tx) error) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, key(id))
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("%w: ticket %d", ErrContention, id)
}

// bumpLast moves the sequence to at least id.
func (s *Store) bumpLast(id int64) {
	for {
		cur := s.last.Load()
		if id <= cur || s.last.CompareAndSwap(cur, id) {
			return
		}
	}
}

// create writes t under id unless the key already exists.
func (s *Store) create(ctx context.Context, id int64, t domain.Ticket) (bool, error) {
	fields, err := encodeHash(t.WithID(id))
	if err != nil {
		return false, err
	}
	taken := false
	err = s.watch(ctx, id, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key(id)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			taken = true
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key(id), fields)
			return nil
		})
		return err
	})
	return !taken, err
}

func (s *Store) Insert(ctx context.Context, ticket domain.Ticket) (int64, error) {
	if err := ticket.Validate(); err != nil {
		return 0, err
	}
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	for {
		id := s.last.Add(1)
		ok, err := s.create(ctx, id, ticket)
		if err != nil {
			return 0, mapErr(err, id)
		}
		if ok {
			return id, nil
		}
		// an import outside this process took the id; try the next one
	}
}

func (s *Store) Import(ctx context.Context, ticket domain.Ticket) error {
	if ticket.ID <= 0 {
		return fmt.Errorf("%w: import needs a positive id", store.ErrInvalidTicket)
	}
	if err := ticket.Validate(); err != nil {
		return err
	}
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	ok, err := s.create(ctx, ticket.ID, ticket)
	if err != nil {
		return mapErr(err, ticket.ID)
	}
	if !ok {
		return fmt.Errorf("%w: %d", store.ErrDuplicateID, ticket.ID)
	}
	s.bumpLast(ticket.ID)
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (domain.Ticket, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return domain.Ticket{}, err
	}
	defer cancel()
	t, err := readTicket(ctx, s.client, id)
	return t, mapErr(err, id)
}

// fetch loads the given ids with one pipelined round trip, skipping
// missing keys.
func (s *Store) fetch(ctx context.Context, ids []int64) ([]domain.Ticket, error) {
	if len(ids) == 0 {
		return []domain.Ticket{}, nil
	}
	cmds, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, id := range ids {
			pipe.HGetAll(ctx, key(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Ticket, 0, len(ids))
	for i, cmd := range cmds {
		h, err := cmd.(*goredis.MapStringStringCmd).Result()
		if err != nil {
			return nil, err
		}
		if len(h) == 0 {
			continue
		}
		t, err := decodeHash(ids[i], h)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) GetMany(ctx context.Context, ids []int64) ([]domain.Ticket, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	tickets, err := s.fetch(ctx, ids)
	return tickets, mapErr(err, 0)
}

// scanIDs lists every numeric key in ascending order.
func (s *Store) scanIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	iter := s.client.Scan(ctx, 0, "*", scanBatch).Iterator()
	for iter.Next(ctx) {
		id, err := strconv.ParseInt(iter.Val(), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// snapshot loads every ticket into a throwaway map so reads can share
// the in-memory query code.
func (s *Store) snapshot(ctx context.Context) (*ticketmap.Map, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	ids, err := s.scanIDs(ctx)
	if err != nil {
		return nil, mapErr(err, 0)
	}
	m := ticketmap.New()
	var all []domain.Ticket
	for start := 0; start < len(ids); start += scanBatch {
		batch, err := s.fetch(ctx, ids[start:min(start+scanBatch, len(ids))])
		if err != nil {
			return nil, mapErr(err, 0)
		}
		all = append(all, batch...)
	}
	m.Load(all)
	return m, nil
}

func (s *Store) update(ctx context.Context, id int64, fn func(domain.Ticket) (domain.Ticket, bool)) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	err = s.watch(ctx, id, func(tx *goredis.Tx) error {
		current, err := readTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		next, changed := fn(current)
		if !changed {
			return nil
		}
		fields, err := encodeHash(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key(id), fields)
			return nil
		})
		return err
	})
	return mapErr(err, id)
}

func (s *Store) SetStatus(ctx context.Context, id int64, status domain.TicketStatus) error {
	return s.update(ctx, id, func(t domain.Ticket) (domain.Ticket, bool) { return t.WithStatus(status), true })
}

func (s *Store) SetPriority(ctx context.Context, id int64, priority domain.TicketPriority) error {
	return s.update(ctx, id, func(t domain.Ticket) (domain.Ticket, bool) { return t.WithPriority(priority), true })
}

func (s *Store) SetAssignment(ctx context.Context, id int64, assignment domain.Assignment) error {
	return s.update(ctx, id, func(t domain.Ticket) (domain.Ticket, bool) { return t.WithAssignment(assignment), true })
}

func (s *Store) SetCreatorStatusUpdate(ctx context.Context, id int64, update bool) error {
	return s.update(ctx, id, func(t domain.Ticket) (domain.Ticket, bool) { return t.WithCreatorStatusUpdate(update), true })
}

func (s *Store) AppendAction(ctx context.Context, id int64, action domain.Action) error {
	var invalid error
	err := s.update(ctx, id, func(t domain.Ticket) (domain.Ticket, bool) {
		if invalid = t.CanAppend(action); invalid != nil {
			return t, false
		}
		return t.WithAction(action), true
	})
	if err != nil {
		return err
	}
	return invalid
}

func (s *Store) MassClose(ctx context.Context, lo, hi int64, actor domain.Creator, location *domain.Location) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	ids, err := s.scanIDs(ctx)
	if err != nil {
		return mapErr(err, 0)
	}
	action := domain.Action{Kind: domain.MassClose{}, Actor: actor, Location: location, Timestamp: time.Now().Unix()}
	closed := 0
	for _, id := range ids {
		if id < lo || id > hi {
			continue
		}
		changed := false
		err := s.update(ctx, id, func(t domain.Ticket) (domain.Ticket, bool) {
			changed = t.Status == domain.TicketStatusOpen
			if !changed {
				return t, false
			}
			return t.WithAction(action).WithStatus(domain.TicketStatusClosed), true
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if changed && err == nil {
			closed++
		}
	}
	s.logger.Debug("mass close", zap.Int64("from", lo), zap.Int64("to", hi), zap.Int("closed", closed))
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return nil
}

func (s *Store) CountOpen(ctx context.Context) (int, error) {
	m, err := s.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return m.CountOpen(), nil
}

func (s *Store) CountOpenAssignedTo(ctx context.Context, assignment domain.Assignment, groups []string) (int, error) {
	m, err := s.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return m.CountOpenAssignedTo(assignment, groups), nil
}

func (s *Store) OpenTickets(ctx context.Context, page, pageSize int) (query.Page, error) {
	m, err := s.snapshot(ctx)
	if err != nil {
		return query.Page{}, err
	}
	return m.OpenTickets(page, pageSize), nil
}

func (s *Store) OpenTicketsAssignedTo(ctx context.Context, assignment domain.Assignment, groups []string, page, pageSize int) (query.Page, error) {
	m, err := s.snapshot(ctx)
	if err != nil {
		return query.Page{}, err
	}
	return m.OpenTicketsAssignedTo(assignment, groups, page, pageSize), nil
}

func (s *Store) OpenTicketsNotAssigned(ctx context.Context, page, pageSize int) (query.Page, error) {
	m, err := s.snapshot(ctx)
	if err != nil {
		return query.Page{}, err
	}
	return m.OpenTicketsNotAssigned(page, pageSize), nil
}

func (s *Store) Search(ctx context.Context, constraints query.Constraints, page, pageSize int) (query.Page, error) {
	if _, err := query.Compile(constraints); err != nil {
		return query.Page{}, err
	}
	m, err := s.snapshot(ctx)
	if err != nil {
		return query.Page{}, err
	}
	return m.Search(constraints, page, pageSize)
}

func (s *Store) IDsWithUnreadUpdates(ctx context.Context) ([]int64, error) {
	m, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return m.IDsWithUnreadUpdates(), nil
}

func (s *Store) IDsWithUnreadUpdatesFor(ctx context.Context, creator domain.Creator) ([]int64, error) {
	m, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return m.IDsWithUnreadUpdatesFor(creator), nil
}

func (s *Store) OwnedTicketIDs(ctx context.Context, creator domain.Creator) ([]int64, error) {
	m, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return m.OwnedTicketIDs(creator), nil
}

func (s *Store) OpenTicketIDs(ctx context.Context) ([]int64, error) {
	m, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return m.OpenTicketIDs(), nil
}

func (s *Store) OpenTicketIDsFor(ctx context.Context, creator domain.Creator) ([]int64, error) {
	m, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return m.OpenTicketIDsFor(creator), nil
}

func (s *Store) Each(ctx context.Context, fn func(domain.Ticket) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	ids, err := s.scanIDs(ctx)
	if err != nil {
		return mapErr(err, 0)
	}
	for start := 0; start < len(ids); start += scanBatch {
		batch, err := s.fetch(ctx, ids[start:min(start+scanBatch, len(ids))])
		if err != nil {
			return mapErr(err, 0)
		}
		for _, t := range batch {
			if err := fn(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes the client.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.client.Close()
		s.logger.Info("redis store closed")
	})
	return err
}
