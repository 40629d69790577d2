package handlers

import (
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/services"

	"github.com/gofiber/fiber/v2"
)

// GetProfileHandler returns the authenticated user's profile with their own
// phone number.
func GetProfileHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := users.GetProfile(c.Context(), currentUser(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{
			"id":                       u.ID,
			"username":                 u.Username,
			"phone":                    u.Phone,
			"phone_sharing_preference": u.PhonePreference,
			"created_at":               u.CreatedAt,
		})
	}
}

func SetPhoneHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.SetPhoneRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		if err := users.SetPhone(c.Context(), currentUser(c), req.Phone); err != nil {
			return writeError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func SetPhonePreferenceHandler(phones *services.PhoneService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.SetPhonePreferenceRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		if err := phones.SetPreference(c.Context(), currentUser(c), req.Preference); err != nil {
			return writeError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// PhoneVisibilityHandler answers {phone, canShare} for another user's
// number as seen by the caller.
func PhoneVisibilityHandler(phones *services.PhoneService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		vis, err := phones.GetVisibility(c.Context(), c.Params("username"), currentUser(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(vis)
	}
}

func ListPhoneGrantsHandler(phones *services.PhoneService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		grants, err := phones.ListGrants(c.Context(), currentUser(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(orEmpty(grants))
	}
}

func RevokePhoneGrantHandler(phones *services.PhoneService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := phones.Revoke(c.Context(), currentUser(c), c.Params("viewer")); err != nil {
			return writeError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func RevokeAllPhoneGrantsHandler(phones *services.PhoneService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		n, err := phones.RevokeAll(c.Context(), currentUser(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"revoked": n})
	}
}
