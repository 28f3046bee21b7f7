package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/ticket-manager/internal/events"
)

func TestEventLoggerLogsEveryType(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	d := events.NewInMemoryDispatcher()
	StartEventLogger(d, zap.New(core))

	require.NoError(t, d.Publish(context.Background(), events.New(events.EventTicketCreated, 4, "CONSOLE", nil)))
	require.NoError(t, d.Publish(context.Background(), events.New(events.EventStoreMigrated, 0, "", events.StoreMigratedPayload{From: "memory", To: "redis"})))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "ticket_created", entries[0].Message)
	assert.Equal(t, int64(4), entries[0].ContextMap()["ticket_id"])
	assert.Equal(t, "store_migrated", entries[1].Message)
	assert.NotContains(t, entries[1].ContextMap(), "ticket_id")
}

func TestEventLoggerIgnoresNilDispatcher(t *testing.T) {
	assert.NotPanics(t, func() { StartEventLogger(nil, zap.NewNop()) })
}
