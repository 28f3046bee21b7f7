// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/query"
	"github.com/spec-kit/ticket-manager/internal/store"
)

// Factory opens an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var (
	playerA = domain.User(uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000001"))
	playerB = domain.User(uuid.MustParse("bbbbbbbb-0000-4000-8000-000000000002"))
)

// Run executes the suite.
func Run(t *testing.T, open Factory) {
	cases := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"GetMany", testGetMany},
		{"Import", testImport},
		{"Setters", testSetters},
		{"NotFound", testNotFound},
		{"AppendActionOrdering", testAppendActionOrdering},
		{"AppendActionKeepsOpenFirst", testAppendActionKeepsOpenFirst},
		{"MassClose", testMassClose},
		{"Listings", testListings},
		{"Search", testSearch},
		{"SearchClampsPage", testSearchClampsPage},
		{"IDQueries", testIDQueries},
		{"ConcurrentAppends", testConcurrentAppends},
		{"Each", testEach},
		{"PriorityScenario", testPriorityScenario},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close(context.Background()) })
			tc.fn(t, s)
		})
	}

	t.Run("Close", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		_, err := s.Insert(ctx, newTicket(playerA, "before close", 1))
		require.NoError(t, err)
		require.NoError(t, s.Close(ctx))
		require.NoError(t, s.Close(ctx))
		_, err = s.Get(ctx, 1)
		assert.ErrorIs(t, err, store.ErrClosed)
		_, err = s.Insert(ctx, newTicket(playerA, "after close", 2))
		assert.ErrorIs(t, err, store.ErrClosed)
	})
}

func newTicket(creator domain.Creator, message string, at int64) domain.Ticket {
	loc := &domain.Location{Server: "survival", World: "world", X: 10, Y: 64, Z: -3}
	return domain.NewTicket(creator, loc, message, time.Unix(at, 0))
}

func insert(t *testing.T, s store.Store, ticket domain.Ticket) int64 {
	t.Helper()
	id, err := s.Insert(context.Background(), ticket)
	require.NoError(t, err)
	return id
}

func ids(tickets []domain.Ticket) []int64 {
	out := make([]int64, 0, len(tickets))
	for _, tk := range tickets {
		out = append(out, tk.ID)
	}
	return out
}

func testInsertAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := insert(t, s, newTicket(playerA, "door stuck", 100))
	second := insert(t, s, newTicket(domain.Console(), "restart please", 101))
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)

	got, err := s.Get(ctx, first)
	require.NoError(t, err)
	want := newTicket(playerA, "door stuck", 100).WithID(1)
	assert.Equal(t, want, got)

	got, err = s.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, domain.Console(), got.Creator)
	assert.Equal(t, domain.PriorityNormal, got.Priority)
	assert.True(t, got.AssignedTo.IsNobody())
}

func testGetMany(t *testing.T, s store.Store) {
	for i := 0; i < 3; i++ {
		insert(t, s, newTicket(playerA, fmt.Sprintf("t%d", i), int64(i+1)))
	}
	got, err := s.GetMany(context.Background(), []int64{3, 42, 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, ids(got))
}

func testImport(t *testing.T, s store.Store) {
	ctx := context.Background()
	imported := newTicket(playerB, "old", 50).
		WithID(40).
		WithAction(domain.Action{Kind: domain.Comment{Text: "still broken"}, Actor: playerB, Timestamp: 60}).
		WithAction(domain.Action{Kind: domain.Assign{Target: domain.Phrase("builders")}, Actor: domain.Console(), Timestamp: 61}).
		WithAssignment(domain.Phrase("builders")).
		WithPriority(domain.PriorityHighest).
		WithCreatorStatusUpdate(true)
	require.NoError(t, s.Import(ctx, imported))

	got, err := s.Get(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, imported, got)

	err = s.Import(ctx, newTicket(playerA, "clash", 70).WithID(40))
	assert.ErrorIs(t, err, store.ErrDuplicateID)

	next := insert(t, s, newTicket(playerA, "after import", 80))
	assert.Greater(t, next, int64(40))
}

func testSetters(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := insert(t, s, newTicket(playerA, "x", 1))

	require.NoError(t, s.SetStatus(ctx, id, domain.TicketStatusClosed))
	require.NoError(t, s.SetPriority(ctx, id, domain.PriorityLowest))
	require.NoError(t, s.SetAssignment(ctx, id, domain.Player("Notch")))
	require.NoError(t, s.SetCreatorStatusUpdate(ctx, id, true))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, got.Status)
	assert.Equal(t, domain.PriorityLowest, got.Priority)
	assert.Equal(t, domain.Player("Notch"), got.AssignedTo)
	assert.True(t, got.CreatorStatusUpdate)

	require.NoError(t, s.SetAssignment(ctx, id, domain.Nobody()))
	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.AssignedTo.IsNobody())
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Get(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.SetStatus(ctx, 999, domain.TicketStatusClosed), store.ErrNotFound)
	assert.ErrorIs(t, s.SetPriority(ctx, 999, domain.PriorityHigh), store.ErrNotFound)
	assert.ErrorIs(t, s.SetAssignment(ctx, 999, domain.Group("mods")), store.ErrNotFound)
	assert.ErrorIs(t, s.SetCreatorStatusUpdate(ctx, 999, true), store.ErrNotFound)
	assert.ErrorIs(t, s.AppendAction(ctx, 999, domain.Action{Kind: domain.Reopen{}, Actor: playerA, Timestamp: 1}), store.ErrNotFound)
}

func testAppendActionOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := insert(t, s, newTicket(playerA, "open", 100))
	require.NoError(t, s.AppendAction(ctx, id, domain.Action{Kind: domain.Comment{Text: "third"}, Actor: playerA, Timestamp: 300}))
	require.NoError(t, s.AppendAction(ctx, id, domain.Action{Kind: domain.SetPriority{Level: domain.PriorityHigh}, Actor: domain.Console(), Timestamp: 200}))
	require.NoError(t, s.AppendAction(ctx, id, domain.Action{Kind: domain.CloseWithComment{Text: "bye"}, Actor: domain.Console(), Location: &domain.Location{Server: "hub"}, Timestamp: 400}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Actions, 4)
	assert.Equal(t, domain.ActionOpen, got.Actions[0].Type())
	assert.Equal(t, domain.SetPriority{Level: domain.PriorityHigh}, got.Actions[1].Kind)
	assert.Equal(t, domain.Comment{Text: "third"}, got.Actions[2].Kind)
	assert.Equal(t, domain.CloseWithComment{Text: "bye"}, got.Actions[3].Kind)
	assert.Equal(t, &domain.Location{Server: "hub"}, got.Actions[3].Location)
}

func testAppendActionKeepsOpenFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := insert(t, s, newTicket(playerA, "open", 1000))

	err := s.AppendAction(ctx, id, domain.Action{Kind: domain.Comment{Text: "early"}, Actor: playerA, Timestamp: 999})
	assert.ErrorIs(t, err, store.ErrInvalidTicket)
	err = s.AppendAction(ctx, id, domain.Action{Kind: domain.Open{Message: "again"}, Actor: playerA, Timestamp: 1001})
	assert.ErrorIs(t, err, store.ErrInvalidTicket)
	require.NoError(t, s.AppendAction(ctx, id, domain.Action{Kind: domain.Comment{Text: "same second"}, Actor: playerA, Timestamp: 1000}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Actions, 2)
	assert.Equal(t, domain.ActionOpen, got.Actions[0].Type())
	assert.NoError(t, got.Validate())
}

func testMassClose(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := int64(1); i <= 11; i++ {
		insert(t, s, newTicket(playerA, fmt.Sprintf("t%d", i), i))
	}
	for _, id := range []int64{5, 7, 8, 10} {
		require.NoError(t, s.SetStatus(ctx, id, domain.TicketStatusClosed))
	}
	before := map[int64]domain.Ticket{}
	for _, id := range []int64{5, 7, 8, 10} {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		before[id] = got
	}

	require.NoError(t, s.MassClose(ctx, 5, 10, domain.Console(), nil))

	for _, id := range []int64{6, 9} {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TicketStatusClosed, got.Status)
		last := got.Actions[len(got.Actions)-1]
		assert.Equal(t, domain.ActionMassClose, last.Type())
		assert.Equal(t, domain.Console(), last.Actor)
		assert.Nil(t, last.Location)
	}
	for id, want := range before {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	for _, id := range []int64{4, 11} {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TicketStatusOpen, got.Status)
	}

	require.NoError(t, s.MassClose(ctx, 5, 10, domain.Console(), nil))
	got, err := s.Get(ctx, 6)
	require.NoError(t, err)
	assert.Len(t, got.Actions, 2)
}

func testListings(t *testing.T, s store.Store) {
	ctx := context.Background()
	low := insert(t, s, newTicket(playerA, "low", 1))
	high := insert(t, s, newTicket(playerA, "high", 2))
	grouped := insert(t, s, newTicket(playerB, "grouped", 3))
	mine := insert(t, s, newTicket(playerB, "mine", 4))
	closed := insert(t, s, newTicket(playerB, "closed", 5))

	require.NoError(t, s.SetPriority(ctx, low, domain.PriorityLow))
	require.NoError(t, s.SetPriority(ctx, high, domain.PriorityHigh))
	require.NoError(t, s.SetAssignment(ctx, grouped, domain.Group("mods")))
	require.NoError(t, s.SetAssignment(ctx, mine, domain.Player("Alex")))
	require.NoError(t, s.SetAssignment(ctx, closed, domain.Player("Alex")))
	require.NoError(t, s.SetStatus(ctx, closed, domain.TicketStatusClosed))

	count, err := s.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	count, err = s.CountOpenAssignedTo(ctx, domain.Player("Alex"), []string{"mods"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	page, err := s.OpenTickets(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{high, mine, grouped, low}, ids(page.Results))

	page, err = s.OpenTicketsAssignedTo(ctx, domain.Player("Alex"), []string{"mods"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{mine, grouped}, ids(page.Results))

	page, err = s.OpenTicketsNotAssigned(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{high}, ids(page.Results))
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 2, page.TotalResults)
}

func testSearch(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := insert(t, s, newTicket(playerA, "Griefing near spawn", 100))
	b := insert(t, s, newTicket(playerB, "lost my pickaxe", 200))
	c := insert(t, s, newTicket(playerA, "spawn lag", 300))

	require.NoError(t, s.AppendAction(ctx, a, domain.Action{Kind: domain.Close{}, Actor: playerB, Timestamp: 150}))
	require.NoError(t, s.SetStatus(ctx, a, domain.TicketStatusClosed))
	require.NoError(t, s.SetPriority(ctx, c, domain.PriorityHighest))
	require.NoError(t, s.SetAssignment(ctx, b, domain.Group("mods")))

	search := func(cons query.Constraints) []int64 {
		page, err := s.Search(ctx, cons, 1, 0)
		require.NoError(t, err)
		return ids(page.Results)
	}

	assert.Equal(t, []int64{c, b, a}, search(query.Constraints{}))
	assert.Equal(t, []int64{c, a}, search(query.Constraints{Creator: query.Eq(playerA)}))
	assert.Equal(t, []int64{c, b}, search(query.Constraints{Status: query.Eq(domain.TicketStatusOpen)}))
	assert.Equal(t, []int64{a}, search(query.Constraints{Status: query.Neq(domain.TicketStatusOpen)}))
	assert.Equal(t, []int64{c}, search(query.Constraints{Priority: query.Gt(domain.PriorityNormal)}))
	assert.Equal(t, []int64{c, a}, search(query.Constraints{Priority: query.Neq(domain.PriorityLowest), AssignedTo: query.Eq(domain.Nobody())}))
	assert.Equal(t, []int64{b}, search(query.Constraints{AssignedTo: query.Eq(domain.Group("mods"))}))
	assert.Equal(t, []int64{c, a}, search(query.Constraints{Keywords: query.Eq([]string{"SPAWN"})}))
	assert.Equal(t, []int64{a}, search(query.Constraints{ClosedBy: query.Eq(playerB)}))
	assert.Equal(t, []int64{a}, search(query.Constraints{LastClosedBy: query.Eq(playerB)}))
	assert.Equal(t, []int64{b, a}, search(query.Constraints{CreationTime: query.Gt(int64(200))}))
	assert.Equal(t, []int64{c, b}, search(query.Constraints{CreationTime: query.Lt(int64(200))}))
	assert.Equal(t, []int64{c, b, a}, search(query.Constraints{World: query.Eq("world")}))

	_, err := s.Search(ctx, query.Constraints{Status: query.Gt(domain.TicketStatusOpen)}, 1, 10)
	assert.ErrorIs(t, err, query.ErrInvalidSymbol)
}

func testSearchClampsPage(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		insert(t, s, newTicket(playerA, "x", i))
	}
	page, err := s.Search(ctx, query.Constraints{}, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 3, page.ReturnedPage)
	assert.Equal(t, 5, page.TotalResults)
	assert.Equal(t, []int64{1}, ids(page.Results))

	page, err = s.Search(ctx, query.Constraints{Creator: query.Eq(playerB)}, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, 1, page.ReturnedPage)
	assert.Empty(t, page.Results)
}

func testIDQueries(t *testing.T, s store.Store) {
	ctx := context.Background()
	a1 := insert(t, s, newTicket(playerA, "a1", 1))
	b1 := insert(t, s, newTicket(playerB, "b1", 2))
	a2 := insert(t, s, newTicket(playerA, "a2", 3))

	require.NoError(t, s.SetCreatorStatusUpdate(ctx, a1, true))
	require.NoError(t, s.SetCreatorStatusUpdate(ctx, b1, true))
	require.NoError(t, s.SetStatus(ctx, a2, domain.TicketStatusClosed))

	got, err := s.IDsWithUnreadUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{a1, b1}, got)

	got, err = s.IDsWithUnreadUpdatesFor(ctx, playerA)
	require.NoError(t, err)
	assert.Equal(t, []int64{a1}, got)

	got, err = s.OwnedTicketIDs(ctx, playerA)
	require.NoError(t, err)
	assert.Equal(t, []int64{a1, a2}, got)

	got, err = s.OpenTicketIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{a1, b1}, got)

	got, err = s.OpenTicketIDsFor(ctx, playerA)
	require.NoError(t, err)
	assert.Equal(t, []int64{a1}, got)
}

func testConcurrentAppends(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := insert(t, s, newTicket(playerA, "busy", 1))

	const workers, perWorker = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				errs <- s.AppendAction(ctx, id, domain.Action{
					Kind:      domain.Comment{Text: fmt.Sprintf("w%d-%d", w, i)},
					Actor:     playerB,
					Timestamp: int64(2 + i),
				})
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Actions, 1+workers*perWorker)
	require.NoError(t, got.Validate())
}

func testEach(t *testing.T, s store.Store) {
	for i := int64(1); i <= 4; i++ {
		insert(t, s, newTicket(playerA, "x", i))
	}
	var seen []int64
	require.NoError(t, s.Each(context.Background(), func(tk domain.Ticket) error {
		seen = append(seen, tk.ID)
		return nil
	}))
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, seen)
}

func testPriorityScenario(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := insert(t, s, newTicket(playerA, "door stuck", 10))
	require.Equal(t, int64(1), id)
	require.NoError(t, s.SetPriority(ctx, id, domain.PriorityHigh))

	page, err := s.Search(ctx, query.Constraints{
		Status:   query.Eq(domain.TicketStatusOpen),
		Priority: query.Eq(domain.PriorityHigh),
	}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, 1, page.TotalResults)
	assert.Equal(t, 1, page.ReturnedPage)
	require.Len(t, page.Results, 1)
	assert.Equal(t, id, page.Results[0].ID)
}
