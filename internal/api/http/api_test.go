package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/ticket-manager/internal/api/http/handlers"
	"github.com/spec-kit/ticket-manager/internal/auth"
	"github.com/spec-kit/ticket-manager/internal/config"
	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/events"
	"github.com/spec-kit/ticket-manager/internal/migration"
	"github.com/spec-kit/ticket-manager/internal/observability"
	"github.com/spec-kit/ticket-manager/internal/query"
	"github.com/spec-kit/ticket-manager/internal/service"
	"github.com/spec-kit/ticket-manager/internal/store"
	"github.com/spec-kit/ticket-manager/internal/store/factory"
)

func newTestApp(t *testing.T, secret string) *fiber.App {
	dir := t.TempDir()
	cfg := &config.Config{
		Store: config.StoreConfig{Type: "memory", DataDir: dir},
		SQLite: config.SQLiteConfig{
			Path:       filepath.Join(dir, "sqlite.db"),
			CachedPath: filepath.Join(dir, "cached.db"),
		},
	}
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics()
	f := factory.New(cfg, logger, metrics)
	active, err := f.Open(context.Background(), store.TypeMemory)
	require.NoError(t, err)

	svc := service.NewTicketService(service.TicketDependencies{
		Store:      active,
		Opener:     f,
		Dispatcher: events.NewInMemoryDispatcher(),
		Metrics:    metrics,
		Logger:     logger,
	})
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("ticket-manager", "test", svc),
		Tickets:        handlers.NewTicketsHandler(svc),
		Queue:          handlers.NewQueueHandler(svc),
		Admin:          handlers.NewAdminHandler(svc, metrics),
		AuthMiddleware: auth.NewAuthMiddleware(auth.NewTokenManager(secret, 5)),
	})
	return app
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, envelope) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

type ticketJSON struct {
	ID         int64  `json:"id"`
	Creator    string `json:"creator"`
	Priority   int    `json:"priority"`
	Status     string `json:"status"`
	AssignedTo string `json:"assigned_to"`
	Actions    []struct {
		Type    string  `json:"type"`
		Message *string `json:"message"`
	} `json:"actions"`
}

type pageJSON struct {
	Results      []ticketJSON `json:"results"`
	TotalPages   int          `json:"total_pages"`
	TotalResults int          `json:"total_results"`
	ReturnedPage int          `json:"returned_page"`
}

func TestTicketLifecycle(t *testing.T) {
	app := newTestApp(t, "")
	player := domain.User(uuid.New()).String()

	status, env := do(t, app, "POST", "/v1/tickets", map[string]any{
		"creator":  player,
		"message":  "stuck in a wall",
		"location": map[string]any{"world": "nether", "x": 1, "y": 2, "z": 3},
	})
	require.Equal(t, fiber.StatusCreated, status)
	var created ticketJSON
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, player, created.Creator)
	assert.Equal(t, "OPEN", created.Status)
	assert.Equal(t, "NOBODY", created.AssignedTo)

	status, _ = do(t, app, "PUT", "/v1/tickets/1/priority", map[string]any{"priority": 5})
	assert.Equal(t, fiber.StatusNoContent, status)
	status, _ = do(t, app, "PUT", "/v1/tickets/1/assignment", map[string]any{"assignment": "GROUP.mods"})
	assert.Equal(t, fiber.StatusNoContent, status)
	status, _ = do(t, app, "POST", "/v1/tickets/1/actions", map[string]any{
		"type": "COMMENT", "actor": "CONSOLE", "message": "looking",
	})
	assert.Equal(t, fiber.StatusNoContent, status)
	status, env = do(t, app, "POST", "/v1/tickets/1/actions", map[string]any{
		"type": "COMMENT", "actor": "CONSOLE", "message": "too early", "timestamp": 1,
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	status, _ = do(t, app, "PUT", "/v1/tickets/1/creator-status-update", map[string]any{"update": true})
	assert.Equal(t, fiber.StatusNoContent, status)

	status, env = do(t, app, "GET", "/v1/tickets/1", nil)
	require.Equal(t, fiber.StatusOK, status)
	var got ticketJSON
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, "GROUP.mods", got.AssignedTo)
	require.Len(t, got.Actions, 2)
	assert.Equal(t, "COMMENT", got.Actions[1].Type)

	status, env = do(t, app, "GET", "/v1/tickets/open/assigned?assignment=PLAYER.Steve&groups=mods", nil)
	require.Equal(t, fiber.StatusOK, status)
	var page pageJSON
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 1, page.TotalResults)

	status, env = do(t, app, "GET", "/v1/tickets/updates", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `[1]`, string(env.Data))

	status, _ = do(t, app, "POST", "/v1/tickets/mass-close", map[string]any{"from": 1, "to": 10, "actor": "CONSOLE"})
	assert.Equal(t, fiber.StatusNoContent, status)

	status, env = do(t, app, "GET", "/v1/tickets/open/count", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"count":0}`, string(env.Data))

	status, env = do(t, app, "GET", fmt.Sprintf("/v1/tickets/owned/%s", player), nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `[1]`, string(env.Data))
}

func TestListingsAndSearch(t *testing.T) {
	app := newTestApp(t, "")
	for i, prio := range []int{3, 5, 1} {
		status, _ := do(t, app, "POST", "/v1/tickets", map[string]any{
			"creator": "CONSOLE", "message": fmt.Sprintf("ticket %d", i), "priority": prio,
		})
		require.Equal(t, fiber.StatusCreated, status)
	}

	status, env := do(t, app, "GET", "/v1/tickets/open?page=1&page_size=2", nil)
	require.Equal(t, fiber.StatusOK, status)
	var page pageJSON
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Results, 2)
	assert.Equal(t, int64(2), page.Results[0].ID)
	assert.Equal(t, int64(1), page.Results[1].ID)

	status, env = do(t, app, "POST", "/v1/tickets/search?page=9&page_size=2", query.Constraints{
		Priority: &query.Option[domain.TicketPriority]{Symbol: query.GreaterThan, Value: domain.PriorityLowest},
	})
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 2, page.TotalResults)
	assert.Equal(t, 1, page.ReturnedPage)
	assert.Equal(t, int64(2), page.Results[0].ID)

	status, env = do(t, app, "POST", "/v1/tickets/search", map[string]any{
		"world": map[string]any{"symbol": "GREATER_THAN", "value": "nether"},
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	status, env = do(t, app, "GET", "/v1/tickets?ids=3,99,1", nil)
	require.Equal(t, fiber.StatusOK, status)
	var many []ticketJSON
	require.NoError(t, json.Unmarshal(env.Data, &many))
	require.Len(t, many, 2)
	assert.Equal(t, int64(3), many[0].ID)
}

func TestErrorEnvelope(t *testing.T) {
	app := newTestApp(t, "")

	status, env := do(t, app, "GET", "/v1/tickets/42", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	status, env = do(t, app, "GET", "/v1/tickets/abc", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	status, env = do(t, app, "POST", "/v1/tickets", map[string]any{"message": "no creator"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	status, env = do(t, app, "PUT", "/v1/tickets/42/status", map[string]any{"status": "CLOSED"})
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	status, env = do(t, app, "POST", "/v1/tickets/1/actions", map[string]any{"type": "COMMENT", "actor": "CONSOLE"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
}

func TestAdminMigrateAndReload(t *testing.T) {
	app := newTestApp(t, "")
	status, _ := do(t, app, "POST", "/v1/tickets", map[string]any{"creator": "CONSOLE", "message": "carry me"})
	require.Equal(t, fiber.StatusCreated, status)

	status, env := do(t, app, "POST", "/v1/admin/migrate", map[string]any{"target": "cached_sqlite"})
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `"cached_sqlite"`, string(mustField(t, env.Data, "to")))

	status, env = do(t, app, "GET", "/v1/admin/state", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"state":"running","store":"cached_sqlite"}`, string(env.Data))

	status, env = do(t, app, "POST", "/v1/admin/migrate", map[string]any{"target": "cached_sqlite"})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	status, env = do(t, app, "POST", "/v1/admin/migrate", map[string]any{"target": "flatfile"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = do(t, app, "POST", "/v1/admin/reload", nil)
	require.Equal(t, fiber.StatusOK, status)

	status, env = do(t, app, "GET", "/v1/tickets/1", nil)
	require.Equal(t, fiber.StatusOK, status)

	status, _ = do(t, app, "GET", "/health/ready", nil)
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = do(t, app, "GET", "/metrics", nil)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	app := newTestApp(t, "secret")

	status, env := do(t, app, "GET", "/v1/tickets/open", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	tm := auth.NewTokenManager("secret", 5)
	token, _, err := tm.GenerateToken("plugin", nil)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/v1/tickets/open", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("GET", "/v1/admin/state", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	// health endpoints stay open
	status, _ = do(t, app, "GET", "/health/live", nil)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestTranslateError(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{store.ErrNotFound, "NOT_FOUND", 404},
		{fmt.Errorf("set: %w", service.ErrLocked), "LOCKED", 423},
		{&migration.Error{TicketID: 3, Err: store.ErrDuplicateID}, "CONFLICT", 409},
		{store.ErrSameBackend, "CONFLICT", 409},
		{fmt.Errorf("search: %w", query.ErrInvalidSymbol), "VALIDATION_FAILED", 400},
		{fmt.Errorf("%w: first action is COMMENT", domain.ErrInvalidTicket), "VALIDATION_FAILED", 400},
		{fmt.Errorf("load ticket 4: %w", domain.ErrMalformedAction), "INTERNAL_ERROR", 500},
		{domain.ErrMalformedCreator, "INTERNAL_ERROR", 500},
		{fmt.Errorf("%w: dial", store.ErrBackendUnavailable), "BACKEND_UNAVAILABLE", 503},
		{store.ErrClosed, "BACKEND_UNAVAILABLE", 503},
		{fiber.ErrNotFound, "NOT_FOUND", 404},
		{errors.New("boom"), "INTERNAL_ERROR", 500},
	}
	for _, tc := range cases {
		de := translateError(tc.err)
		assert.Equal(t, tc.code, de.Code, tc.err.Error())
		assert.Equal(t, tc.status, de.HTTPStatus, tc.err.Error())
	}

	de := translateError(&migration.Error{TicketID: 3, Err: store.ErrDuplicateID})
	assert.Equal(t, int64(3), de.Details["ticket_id"])
}

func mustField(t *testing.T, raw json.RawMessage, key string) json.RawMessage {
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	return m[key]
}

func TestRequestIDEchoed(t *testing.T) {
	app := newTestApp(t, "")

	req := httptest.NewRequest("GET", "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))

	resp, err = app.Test(httptest.NewRequest("GET", "/health/live", nil), -1)
	require.NoError(t, err)
	_, err = uuid.Parse(resp.Header.Get("X-Request-ID"))
	assert.NoError(t, err)
}
