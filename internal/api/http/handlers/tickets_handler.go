package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-manager/internal/api/dto"
	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/service"
	apperrors "github.com/spec-kit/ticket-manager/pkg/util/errorutil"
)

// TicketsHandler manages single-ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Creator.Kind == domain.CreatorInvalid {
		return apperrors.NewValidationError("creator required", nil)
	}
	if strings.TrimSpace(req.Message) == "" {
		return apperrors.NewValidationError("message required", nil)
	}
	if req.Priority != 0 && !req.Priority.Valid() {
		return apperrors.NewValidationError("invalid priority", map[string]any{"priority": req.Priority})
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), req.Creator, req.Location, req.Message, req.Priority)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.Ticket(ticket)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Ticket(ticket)})
}

// GetTickets GET /tickets?ids=1,2. Missing ids are left out.
func (h *TicketsHandler) GetTickets(c *fiber.Ctx) error {
	ids, err := parseIDs(c.Query("ids"))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return apperrors.NewValidationError("ids required", nil)
	}
	tickets, err := h.service.GetTickets(c.UserContext(), ids)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Tickets(tickets)})
}

// SetStatus PUT /tickets/:id/status.
func (h *TicketsHandler) SetStatus(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.StatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	status, err := domain.ParseStatus(string(req.Status))
	if err != nil {
		return apperrors.NewValidationError("invalid status", map[string]any{"status": req.Status})
	}
	if err := h.service.SetStatus(c.UserContext(), id, status); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// SetPriority PUT /tickets/:id/priority.
func (h *TicketsHandler) SetPriority(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.PriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.service.SetPriority(c.UserContext(), id, req.Priority); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// SetAssignment PUT /tickets/:id/assignment.
func (h *TicketsHandler) SetAssignment(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.AssignmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.service.SetAssignment(c.UserContext(), id, req.Assignment); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// SetCreatorStatusUpdate PUT /tickets/:id/creator-status-update.
func (h *TicketsHandler) SetCreatorStatusUpdate(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.CreatorStatusUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.service.SetCreatorStatusUpdate(c.UserContext(), id, req.Update); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// AppendAction POST /tickets/:id/actions.
func (h *TicketsHandler) AppendAction(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.AppendActionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().Unix()
	}
	action, err := domain.DecodeAction(req)
	if err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	if action.Type() == domain.ActionOpen {
		return apperrors.NewValidationError("a ticket is opened only once", nil)
	}
	if err := h.service.AppendAction(c.UserContext(), id, action); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// MassClose POST /tickets/mass-close.
func (h *TicketsHandler) MassClose(c *fiber.Ctx) error {
	var req dto.MassCloseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Actor.Kind == domain.CreatorInvalid {
		return apperrors.NewValidationError("actor required", nil)
	}
	if err := h.service.MassClose(c.UserContext(), req.From, req.To, req.Actor, req.Location); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
