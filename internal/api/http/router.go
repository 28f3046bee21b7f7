package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-manager/internal/api/http/handlers"
	"github.com/spec-kit/ticket-manager/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Queue          *handlers.QueueHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes. Static ticket paths are registered
// before /tickets/:id.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Admin.Metrics)

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle)

	tickets := v1.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.GetTickets)
	tickets.Post("/mass-close", cfg.Tickets.MassClose)
	tickets.Post("/search", cfg.Queue.Search)

	tickets.Get("/open", cfg.Queue.OpenTickets)
	tickets.Get("/open/count", cfg.Queue.CountOpen)
	tickets.Get("/open/ids", cfg.Queue.OpenIDs)
	tickets.Get("/open/assigned", cfg.Queue.OpenAssigned)
	tickets.Get("/open/assigned/count", cfg.Queue.CountOpenAssigned)
	tickets.Get("/open/unassigned", cfg.Queue.OpenUnassigned)

	tickets.Get("/updates", cfg.Queue.Updates)
	tickets.Get("/updates/:creator", cfg.Queue.UpdatesFor)
	tickets.Get("/owned/:creator", cfg.Queue.Owned)

	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Put("/:id/status", cfg.Tickets.SetStatus)
	tickets.Put("/:id/priority", cfg.Tickets.SetPriority)
	tickets.Put("/:id/assignment", cfg.Tickets.SetAssignment)
	tickets.Put("/:id/creator-status-update", cfg.Tickets.SetCreatorStatusUpdate)
	tickets.Post("/:id/actions", cfg.Tickets.AppendAction)

	admin := v1.Group("/admin", cfg.AuthMiddleware.RequireScope(auth.ScopeAdmin))
	admin.Post("/migrate", cfg.Admin.Migrate)
	admin.Post("/reload", cfg.Admin.Reload)
	admin.Get("/state", cfg.Admin.State)
}
