package handlers

import (
	"errors"

	"github.com/dermashare/backend/internal/imaging"
	"github.com/dermashare/backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestID").(string); ok {
		return id
	}
	return ""
}

// statusForError maps service failures onto HTTP statuses. A batch where
// every step failed reads as an upstream failure; a mixed batch is reported
// as 207 so callers can inspect the per-step report.
func statusForError(err error) int {
	var partial *imaging.PartialError
	if errors.As(err, &partial) {
		if partial.AllFailed() {
			return fiber.StatusBadGateway
		}
		return fiber.StatusMultiStatus
	}

	switch {
	case errors.Is(err, imaging.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, imaging.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrRoleMismatch):
		return fiber.StatusConflict
	case errors.Is(err, imaging.ErrNotReady):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}
