package server

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"studyroom/internal/models"
	"studyroom/internal/repository"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper.  Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

const (
	maxPageLimit = 100
)

// parseHistoryPage extracts the limit and the optional before cursor from
// query parameters. The cursor is a pair: before (RFC3339Nano timestamp) and
// before_id; both must be present for the cursor to take effect so a page
// boundary between equal timestamps stays exact.
func parseHistoryPage(c *fiber.Ctx) (*repository.PageCursor, int, error) {
	limit := c.QueryInt("limit", repository.DefaultPageLimit)
	if limit <= 0 {
		limit = repository.DefaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	beforeRaw := c.Query("before")
	beforeID := c.QueryInt("before_id", 0)
	if beforeRaw == "" {
		return nil, limit, nil
	}

	ts, err := time.Parse(time.RFC3339Nano, beforeRaw)
	if err != nil {
		return nil, 0, models.NewValidationError("Invalid before cursor; expected RFC3339 timestamp")
	}
	if beforeID <= 0 {
		return nil, 0, models.NewValidationError("before_id is required alongside before")
	}

	return &repository.PageCursor{CreatedAt: ts, ID: uint(beforeID)}, limit, nil
}

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// Callers should check: if err != nil { return nil }
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "userId" -> "user ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		prefix := param[:len(param)-2]
		words := splitCamel(prefix)
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	words = append(words, s[start:])
	return words
}

// respondServiceError maps an error from the service layer to its HTTP status.
func respondServiceError(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.StatusForError(err), err)
}
