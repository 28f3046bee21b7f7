package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/migration"
	"github.com/spec-kit/ticket-manager/internal/query"
	"github.com/spec-kit/ticket-manager/internal/service"
	"github.com/spec-kit/ticket-manager/internal/store"
	apperrors "github.com/spec-kit/ticket-manager/pkg/util/errorutil"
)

// translateError maps package sentinels onto the API error codes. Request
// input is decoded in the handlers, so a Malformed* sentinel reaching this
// point comes from stored data and stays an internal error.
func translateError(err error) *apperrors.DomainError {
	var de *apperrors.DomainError
	if errors.As(err, &de) {
		return de
	}

	var mapped error
	var fe *fiber.Error
	var me *migration.Error
	switch {
	case errors.As(err, &fe):
		mapped = fiberError(fe)
	case errors.Is(err, store.ErrNotFound):
		mapped = apperrors.NewNotFound("ticket", nil)
	case errors.Is(err, service.ErrLocked):
		mapped = apperrors.NewLocked("ticket store is locked", nil)
	case errors.Is(err, store.ErrDuplicateID), errors.Is(err, store.ErrSameBackend):
		details := map[string]any{}
		if errors.As(err, &me) && me.TicketID != 0 {
			details["ticket_id"] = me.TicketID
		}
		mapped = apperrors.NewConflict(err.Error(), details)
	case errors.Is(err, query.ErrInvalidSymbol), errors.Is(err, domain.ErrInvalidTicket):
		mapped = apperrors.NewValidationError(err.Error(), nil)
	case errors.Is(err, store.ErrBackendUnavailable), errors.Is(err, store.ErrClosed):
		mapped = apperrors.NewBackendUnavailable("storage backend unavailable")
	default:
		return apperrors.ToDomainError(err)
	}
	return apperrors.ToDomainError(apperrors.Wrap(mapped, err))
}

func fiberError(fe *fiber.Error) error {
	switch fe.Code {
	case fiber.StatusNotFound:
		return apperrors.NewNotFound("route", nil)
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return apperrors.NewValidationError(fe.Message, nil)
	default:
		return apperrors.NewDomainError("HTTP_ERROR", fe.Message, fe.Code, nil)
	}
}
