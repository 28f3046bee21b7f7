package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-manager/internal/domain"
	apperrors "github.com/spec-kit/ticket-manager/pkg/util/errorutil"
)

const defaultPageSize = 10

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}

// pageParams reads page and page_size; a page size of 0 returns everything
// on one page.
func pageParams(c *fiber.Ctx) (int, int) {
	return parseInt(c.Query("page"), 1), parseInt(c.Query("page_size"), defaultPageSize)
}

func ticketID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": part})
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func creatorParam(c *fiber.Ctx) (domain.Creator, error) {
	creator, err := domain.ParseCreator(c.Params("creator"))
	if err != nil {
		return domain.Creator{}, apperrors.NewValidationError("invalid creator", map[string]any{"creator": c.Params("creator")})
	}
	return creator, nil
}

// assignmentQuery reads the assignment target and its comma separated groups.
func assignmentQuery(c *fiber.Ctx) (domain.Assignment, []string, error) {
	raw := c.Query("assignment")
	if raw == "" {
		return domain.Assignment{}, nil, apperrors.NewValidationError("assignment required", nil)
	}
	target, err := domain.ParseAssignment(raw)
	if err != nil {
		return domain.Assignment{}, nil, apperrors.NewValidationError("invalid assignment", map[string]any{"assignment": raw})
	}
	var groups []string
	for _, g := range strings.Split(c.Query("groups"), ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return target, groups, nil
}
