package handlers

import (
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/services"

	"github.com/gofiber/fiber/v2"
)

func RegisterHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		user, err := users.Register(c.Context(), req)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(user)
	}
}

func LoginHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		res, err := users.Login(c.Context(), req)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(res)
	}
}

func RefreshHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request")
		}
		if body.RefreshToken == "" {
			return badRequest(c, "refresh_token required")
		}
		res, err := users.Refresh(c.Context(), body.RefreshToken)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(res)
	}
}
