package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-manager/internal/api/dto"
	"github.com/spec-kit/ticket-manager/internal/observability"
	"github.com/spec-kit/ticket-manager/internal/service"
	"github.com/spec-kit/ticket-manager/internal/store"
	apperrors "github.com/spec-kit/ticket-manager/pkg/util/errorutil"
)

// AdminHandler exposes store lifecycle operations.
type AdminHandler struct {
	service *service.TicketService
	metrics *observability.Metrics
}

// NewAdminHandler constructs handler.
func NewAdminHandler(ticketService *service.TicketService, metrics *observability.Metrics) *AdminHandler {
	return &AdminHandler{service: ticketService, metrics: metrics}
}

// Migrate POST /admin/migrate. Blocks until the migration finishes.
func (h *AdminHandler) Migrate(c *fiber.Ctx) error {
	var req dto.MigrateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	target, err := store.ParseType(req.Target)
	if err != nil {
		return apperrors.NewValidationError(err.Error(), map[string]any{"target": req.Target})
	}
	report, err := h.service.MigrateTo(c.UserContext(), target)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Migration(report)})
}

// Reload POST /admin/reload.
func (h *AdminHandler) Reload(c *fiber.Ctx) error {
	if err := h.service.Reload(c.UserContext()); err != nil {
		return err
	}
	return h.State(c)
}

// State GET /admin/state.
func (h *AdminHandler) State(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": fiber.Map{
		"state": h.service.State().String(),
		"store": h.service.ActiveType(),
	}})
}

// Metrics GET /metrics.
func (h *AdminHandler) Metrics(c *fiber.Ctx) error {
	return c.JSON(h.metrics.Snapshot())
}
