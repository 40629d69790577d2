package handlers

import (
	"errors"
	"strconv"

	"marketplace-backend/internal/services"
	"marketplace-backend/internal/store"

	"github.com/gofiber/fiber/v2"
)

// errorBody maps a service error to a status code and JSON body.
func errorBody(err error) (int, fiber.Map) {
	var (
		validation *services.ValidationError
		limited    *services.RateLimitError
		conflict   *services.ConflictError
		fe         *fiber.Error
	)
	switch {
	case errors.As(err, &validation):
		return fiber.StatusBadRequest, fiber.Map{"error": validation.Error()}
	case errors.As(err, &limited):
		return fiber.StatusTooManyRequests, fiber.Map{
			"error":          "rate limit exceeded",
			"retry_after_ms": limited.RetryAfterMs(),
		}
	case errors.As(err, &conflict):
		return fiber.StatusConflict, fiber.Map{"error": conflict.Reason}
	case errors.Is(err, services.ErrUserExists):
		return fiber.StatusBadRequest, fiber.Map{"error": "username already exists"}
	case errors.Is(err, services.ErrInvalidCredentials):
		return fiber.StatusUnauthorized, fiber.Map{"error": "invalid credentials"}
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound, fiber.Map{"error": "not found"}
	case errors.Is(err, services.ErrForbidden):
		return fiber.StatusForbidden, fiber.Map{"error": "forbidden"}
	case errors.Is(err, store.ErrUnavailable):
		return fiber.StatusServiceUnavailable, fiber.Map{"error": "service unavailable"}
	case errors.As(err, &fe):
		return fe.Code, fiber.Map{"error": fe.Message}
	}
	return fiber.StatusInternalServerError, fiber.Map{"error": "internal server error"}
}

func writeError(c *fiber.Ctx, err error) error {
	status, body := errorBody(err)
	if ms, ok := body["retry_after_ms"].(int64); ok {
		secs := (ms + 999) / 1000
		c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(secs, 10))
	}
	if status >= fiber.StatusInternalServerError {
		c.Locals("error", err)
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
