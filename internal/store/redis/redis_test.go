package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/store"
	"github.com/spec-kit/ticket-manager/internal/store/storetest"
)

func testClient(t *testing.T) *goredis.Client {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	require.NoError(t, client.FlushDB(context.Background()).Err())
	return client
}

func TestConformance(t *testing.T) {
	if os.Getenv("TEST_REDIS_ADDR") == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(context.Background(), testClient(t), Options{Logger: zaptest.NewLogger(t)})
		require.NoError(t, err)
		return s
	})
}

func TestSequenceSeededFromExistingKeys(t *testing.T) {
	ctx := context.Background()
	client := testClient(t)
	require.NoError(t, client.Set(ctx, "not-a-ticket", "x", 0).Err())

	s, err := New(ctx, client, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Import(ctx, domain.NewTicket(domain.Console(), nil, "old", time.Unix(1, 0)).WithID(12)))
	require.NoError(t, s.Close(ctx))

	s, err = New(ctx, goredis.NewClient(&goredis.Options{Addr: os.Getenv("TEST_REDIS_ADDR"), DB: 15}), Options{})
	require.NoError(t, err)
	defer s.Close(ctx)
	id, err := s.Insert(ctx, domain.NewTicket(domain.Console(), nil, "new", time.Unix(2, 0)))
	require.NoError(t, err)
	assert.Equal(t, int64(13), id)
}

func TestHashRoundTrip(t *testing.T) {
	ticket := domain.NewTicket(domain.Console(), &domain.Location{Server: "hub"}, "hello", time.Unix(5, 0)).
		WithID(3).
		WithAssignment(domain.Phrase("night shift")).
		WithPriority(domain.PriorityLow).
		WithCreatorStatusUpdate(true)

	fields, err := encodeHash(ticket)
	require.NoError(t, err)
	assert.Equal(t, "T", fields[fieldStatusUpdate])
	assert.Equal(t, "2", fields[fieldPriority])
	assert.Equal(t, "PHRASE.night shift", fields[fieldAssignedTo])

	h := make(map[string]string, len(fields))
	for k, v := range fields {
		h[k] = v.(string)
	}
	got, err := decodeHash(3, h)
	require.NoError(t, err)
	assert.Equal(t, ticket, got)

	h[fieldActions] = "{"
	_, err = decodeHash(3, h)
	assert.Error(t, err)
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil, 1))
	assert.ErrorIs(t, mapErr(goredis.Nil, 1), store.ErrNotFound)
	assert.ErrorIs(t, mapErr(ErrContention, 1), ErrContention)
	assert.ErrorIs(t, mapErr(errors.New("dial tcp: refused"), 1), store.ErrBackendUnavailable)
}
