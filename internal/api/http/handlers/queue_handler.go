package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-manager/internal/api/dto"
	"github.com/spec-kit/ticket-manager/internal/service"
	apperrors "github.com/spec-kit/ticket-manager/pkg/util/errorutil"
)

// QueueHandler serves listings, counts, search and id queries.
type QueueHandler struct {
	service *service.TicketService
}

// NewQueueHandler constructs handler.
func NewQueueHandler(ticketService *service.TicketService) *QueueHandler {
	return &QueueHandler{service: ticketService}
}

// OpenTickets GET /tickets/open.
func (h *QueueHandler) OpenTickets(c *fiber.Ctx) error {
	page, size := pageParams(c)
	result, err := h.service.OpenTickets(c.UserContext(), page, size)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Page(result)})
}

// OpenAssigned GET /tickets/open/assigned?assignment=&groups=.
func (h *QueueHandler) OpenAssigned(c *fiber.Ctx) error {
	target, groups, err := assignmentQuery(c)
	if err != nil {
		return err
	}
	page, size := pageParams(c)
	result, err := h.service.OpenTicketsAssignedTo(c.UserContext(), target, groups, page, size)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Page(result)})
}

// OpenUnassigned GET /tickets/open/unassigned.
func (h *QueueHandler) OpenUnassigned(c *fiber.Ctx) error {
	page, size := pageParams(c)
	result, err := h.service.OpenTicketsNotAssigned(c.UserContext(), page, size)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Page(result)})
}

// CountOpen GET /tickets/open/count.
func (h *QueueHandler) CountOpen(c *fiber.Ctx) error {
	n, err := h.service.CountOpen(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"count": n}})
}

// CountOpenAssigned GET /tickets/open/assigned/count.
func (h *QueueHandler) CountOpenAssigned(c *fiber.Ctx) error {
	target, groups, err := assignmentQuery(c)
	if err != nil {
		return err
	}
	n, err := h.service.CountOpenAssignedTo(c.UserContext(), target, groups)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"count": n}})
}

// Search POST /tickets/search?page=&page_size=.
func (h *QueueHandler) Search(c *fiber.Ctx) error {
	var req dto.SearchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	page, size := pageParams(c)
	result, err := h.service.Search(c.UserContext(), req, page, size)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Page(result)})
}

// Updates GET /tickets/updates.
func (h *QueueHandler) Updates(c *fiber.Ctx) error {
	ids, err := h.service.IDsWithUnreadUpdates(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ids})
}

// UpdatesFor GET /tickets/updates/:creator.
func (h *QueueHandler) UpdatesFor(c *fiber.Ctx) error {
	creator, err := creatorParam(c)
	if err != nil {
		return err
	}
	ids, err := h.service.IDsWithUnreadUpdatesFor(c.UserContext(), creator)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ids})
}

// Owned GET /tickets/owned/:creator. With ?open=true only open tickets are listed.
func (h *QueueHandler) Owned(c *fiber.Ctx) error {
	creator, err := creatorParam(c)
	if err != nil {
		return err
	}
	var ids []int64
	if c.QueryBool("open") {
		ids, err = h.service.OpenTicketIDsFor(c.UserContext(), creator)
	} else {
		ids, err = h.service.OwnedTicketIDs(c.UserContext(), creator)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ids})
}

// OpenIDs GET /tickets/open/ids.
func (h *QueueHandler) OpenIDs(c *fiber.Ctx) error {
	ids, err := h.service.OpenTicketIDs(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ids})
}
