package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Uriel-Ondo/agro/internal/services"
)

func mapRelayError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrAlreadyHandled):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Request already handled"})
	case errors.Is(err, services.ErrAlreadyCompleted):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Session already completed"})
	case errors.Is(err, services.ErrInvalidContent):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message content"})
	case errors.Is(err, services.ErrSessionClosed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Session is closed"})
	case errors.Is(err, services.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Storage unavailable, retry later"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process request"})
	}
}
