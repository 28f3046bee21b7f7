package query

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-manager/internal/domain"
)

var (
	alice = domain.User(uuid.MustParse("11111111-1111-1111-1111-111111111111"))
	bob   = domain.User(uuid.MustParse("22222222-2222-2222-2222-222222222222"))
)

func ticket(id int64, creator domain.Creator, priority domain.TicketPriority, created int64, msg string) domain.Ticket {
	return domain.NewTicket(creator, &domain.Location{Server: "s", World: "world"}, msg, time.Unix(created, 0)).
		WithID(id).
		WithPriority(priority)
}

func ids(tickets []domain.Ticket) []int64 {
	out := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, t.ID)
	}
	return out
}

func TestCompileEmptyMatchesEverything(t *testing.T) {
	pred, err := Compile(Constraints{})
	require.NoError(t, err)
	assert.True(t, pred(ticket(1, alice, domain.PriorityLow, 1, "x")))
}

func TestCompileCombinesConstraints(t *testing.T) {
	tickets := []domain.Ticket{
		ticket(1, alice, domain.PriorityHigh, 100, "grief at spawn"),
		ticket(2, alice, domain.PriorityLow, 200, "Lost items"),
		ticket(3, bob, domain.PriorityHighest, 300, "spawn broken"),
		ticket(4, alice, domain.PriorityHighest, 400, "spawn GRIEF again").WithStatus(domain.TicketStatusClosed),
	}

	pred, err := Compile(Constraints{
		Status:   Eq(domain.TicketStatusOpen),
		Creator:  Eq(alice),
		Priority: Gt(domain.PriorityNormal),
		Keywords: Eq([]string{"GRIEF", "spawn"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(Filter(tickets, pred)))

	pred, err = Compile(Constraints{CreationTime: Gt(int64(200)), Priority: Neq(domain.PriorityHighest)})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(Filter(tickets, pred)))

	pred, err = Compile(Constraints{CreationTime: Lt(int64(200))})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4}, ids(Filter(tickets, pred)))

	pred, err = Compile(Constraints{Keywords: Neq([]string{"spawn"})})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(Filter(tickets, pred)))
}

func TestCompileWorld(t *testing.T) {
	withWorld := ticket(1, alice, domain.PriorityNormal, 1, "a")
	noWorld := domain.NewTicket(domain.Console(), nil, "b", time.Unix(2, 0)).WithID(2)

	pred, err := Compile(Constraints{World: Eq("world")})
	require.NoError(t, err)
	assert.True(t, pred(withWorld))
	assert.False(t, pred(noWorld))

	pred, err = Compile(Constraints{World: Neq("world")})
	require.NoError(t, err)
	assert.False(t, pred(withWorld))
	assert.True(t, pred(noWorld))
}

func TestCompileClosedBy(t *testing.T) {
	base := ticket(1, alice, domain.PriorityNormal, 1, "a")
	closedByBobThenAlice := base.
		WithAction(domain.Action{Kind: domain.Close{}, Actor: bob, Timestamp: 2}).
		WithAction(domain.Action{Kind: domain.Reopen{}, Actor: alice, Timestamp: 3}).
		WithAction(domain.Action{Kind: domain.MassClose{}, Actor: alice, Timestamp: 4})

	pred, err := Compile(Constraints{ClosedBy: Eq(bob)})
	require.NoError(t, err)
	assert.True(t, pred(closedByBobThenAlice))
	assert.False(t, pred(base))

	pred, err = Compile(Constraints{LastClosedBy: Eq(bob)})
	require.NoError(t, err)
	assert.False(t, pred(closedByBobThenAlice))

	pred, err = Compile(Constraints{LastClosedBy: Eq(alice)})
	require.NoError(t, err)
	assert.True(t, pred(closedByBobThenAlice))

	pred, err = Compile(Constraints{LastClosedBy: Neq(alice)})
	require.NoError(t, err)
	assert.True(t, pred(base))

	commented := base.WithAction(domain.Action{Kind: domain.CloseWithComment{Text: "done"}, Actor: bob, Timestamp: 2})
	pred, err = Compile(Constraints{ClosedBy: Eq(bob)})
	require.NoError(t, err)
	assert.False(t, pred(commented))

	pred, err = Compile(Constraints{LastClosedBy: Eq(bob)})
	require.NoError(t, err)
	assert.False(t, pred(commented))
}

func TestCompileRejectsInvalidSymbols(t *testing.T) {
	cases := []Constraints{
		{Status: Gt(domain.TicketStatusOpen)},
		{Creator: Lt(alice)},
		{AssignedTo: Gt(domain.Nobody())},
		{CreationTime: Eq(int64(1))},
		{World: Gt("w")},
		{ClosedBy: Lt(alice)},
		{LastClosedBy: Gt(alice)},
		{Keywords: Lt([]string{"x"})},
		{Priority: &Option[domain.TicketPriority]{Symbol: "LIKE", Value: 1}},
	}
	for _, c := range cases {
		_, err := Compile(c)
		assert.ErrorIs(t, err, ErrInvalidSymbol)
	}
}

func TestPaginateClampsPage(t *testing.T) {
	var tickets []domain.Ticket
	for i := int64(1); i <= 7; i++ {
		tickets = append(tickets, ticket(i, alice, domain.PriorityNormal, i, "x"))
	}

	page := Paginate(tickets, ByIDDesc, 99, 3)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 7, page.TotalResults)
	assert.Equal(t, 3, page.ReturnedPage)
	assert.Equal(t, []int64{1}, ids(page.Results))

	page = Paginate(tickets, ByIDDesc, 0, 3)
	assert.Equal(t, 1, page.ReturnedPage)
	assert.Equal(t, []int64{7, 6, 5}, ids(page.Results))

	page = Paginate(tickets, ByIDDesc, 4, 0)
	assert.Equal(t, 1, page.TotalPages)
	assert.Len(t, page.Results, 7)
}

func TestPaginateEmpty(t *testing.T) {
	page := Paginate(nil, ByIDDesc, 5, 10)
	assert.Equal(t, Page{Results: []domain.Ticket{}, TotalPages: 1, TotalResults: 0, ReturnedPage: 1}, page)
}

func TestSortByPriorityThenID(t *testing.T) {
	tickets := []domain.Ticket{
		ticket(1, alice, domain.PriorityLow, 1, "x"),
		ticket(2, alice, domain.PriorityHigh, 1, "x"),
		ticket(3, alice, domain.PriorityLow, 1, "x"),
		ticket(4, alice, domain.PriorityHigh, 1, "x"),
	}
	page := Paginate(tickets, ByPriorityThenID, 1, 10)
	assert.Equal(t, []int64{4, 2, 3, 1}, ids(page.Results))
}
