package handlers

import (
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/services"

	"github.com/gofiber/fiber/v2"
)

const defaultListLimit = 50

// CreatePingHandler returns 201 for a new ping and 200 when the ping was
// folded into an existing conversation.
func CreatePingHandler(pings *services.PingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.CreatePingRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		res, err := pings.Create(c.Context(), req.ListingID, currentUser(c), req.Receiver, req.Message)
		if err != nil {
			return writeError(c, err)
		}

		out := models.PingResponse{Ping: res.Ping, Folded: res.Folded}
		if res.Conversation != nil {
			out.ConversationID = res.Conversation.ID
		}
		status := fiber.StatusCreated
		if res.Folded {
			status = fiber.StatusOK
		}
		return c.Status(status).JSON(out)
	}
}

func CheckPingHandler(pings *services.PingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		listingID, receiver := c.Query("listing_id"), c.Query("receiver")
		if listingID == "" || receiver == "" {
			return badRequest(c, "listing_id and receiver are required")
		}
		exists, err := pings.CheckExisting(c.Context(), listingID, currentUser(c), receiver)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"exists": exists})
	}
}

func GetPingHandler(pings *services.PingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := pings.Get(c.Context(), c.Params("id"), currentUser(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(p)
	}
}

func ListReceivedPingsHandler(pings *services.PingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := pings.ListReceived(c.Context(), currentUser(c), c.QueryInt("limit", defaultListLimit))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(orEmpty(list))
	}
}

func ListSentPingsHandler(pings *services.PingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := pings.ListSent(c.Context(), currentUser(c), c.QueryInt("limit", defaultListLimit))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(orEmpty(list))
	}
}

// UpdatePingStatusHandler accepts or declines a ping addressed to the
// caller.
func UpdatePingStatusHandler(pings *services.PingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.UpdatePingStatusRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		p, err := pings.UpdateStatus(c.Context(), c.Params("id"), currentUser(c), req.Status, req.ResponseMessage)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(p)
	}
}

func PingConversationHandler(pings *services.PingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conv, err := pings.ConversationFor(c.Context(), c.Params("id"), currentUser(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(conv)
	}
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
