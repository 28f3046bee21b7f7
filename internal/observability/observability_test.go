package observability

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/ticket-manager/internal/config"
)

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "nonsense"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger(config.LoggerConfig{Level: "DEBUG", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/v1/tickets/:id", "GET", 200, 0)
	m.RecordRequest("/v1/tickets/:id", "GET", 200, 0)
	m.RecordError("/v1/tickets/:id", "GET", "NOT_FOUND")
	m.RecordStoreOp("sqlite", "get", nil)
	m.RecordStoreOp("sqlite", "get", errors.New("boom"))
	m.RecordBackgroundFailure("memory_snapshot")

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Requests["/v1/tickets/:id|GET|200"])
	assert.Equal(t, int64(1), snap.Errors["/v1/tickets/:id|GET|NOT_FOUND"])
	assert.Equal(t, int64(2), snap.StoreOps["sqlite|get"])
	assert.Equal(t, int64(1), snap.StoreErrors["sqlite|get"])
	assert.Equal(t, []string{"memory_snapshot"}, snap.BackgroundFailureSources())

	// the snapshot is a copy
	snap.Requests["/v1/tickets/:id|GET|200"] = 99
	assert.Equal(t, int64(2), m.Snapshot().Requests["/v1/tickets/:id|GET|200"])
}

func TestNilMetricsIgnoresRecords(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/", "GET", 200, 0)
		m.RecordError("/", "GET", "X")
		m.RecordStoreOp("memory", "get", nil)
		m.RecordBackgroundFailure("x")
	})
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	metrics := NewMetrics()

	app := fiber.New()
	app.Use(RequestLogger(zap.New(core), metrics))
	app.Get("/items/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/items/7", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/items/7", fields["path"])
	assert.Equal(t, int64(fiber.StatusNoContent), fields["status"])

	assert.Equal(t, int64(1), metrics.Snapshot().Requests["/items/:id|GET|204"])
}
