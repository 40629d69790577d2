package handlers

import (
	"time"

	"marketplace-backend/internal/models"
	"marketplace-backend/internal/services"

	"github.com/gofiber/fiber/v2"
)

func ListConversationsHandler(convs *services.ConversationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := convs.ListForUser(c.Context(), currentUser(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(orEmpty(list))
	}
}

func GetConversationHandler(convs *services.ConversationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conv, err := convs.Get(c.Context(), c.Params("id"), currentUser(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(conv)
	}
}

func UpdateConversationStatusHandler(convs *services.ConversationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.UpdateConversationStatusRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		conv, err := convs.SetStatus(c.Context(), c.Params("id"), currentUser(c), req.Status)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(conv)
	}
}

func ListMessagesHandler(messages *services.MessageService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := messages.History(c.Context(), c.Params("id"), currentUser(c), c.QueryInt("limit", defaultListLimit))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(orEmpty(list))
	}
}

func SendMessageHandler(messages *services.MessageService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.SendMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
		msg, err := messages.Send(c.Context(), c.Params("id"), currentUser(c), req.Text)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(msg)
	}
}

// MarkConversationReadHandler marks everything the caller received up to
// "before" (RFC 3339, default now) as read.
func MarkConversationReadHandler(messages *services.MessageService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body struct {
			Before *time.Time `json:"before"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return badRequest(c, "invalid request")
			}
		}
		before := time.Now()
		if body.Before != nil {
			before = *body.Before
		}
		n, err := messages.MarkReadBefore(c.Context(), c.Params("id"), currentUser(c), before)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"updated": n})
	}
}

// MessageReceiptHandler applies a delivered or read receipt to one message.
func MessageReceiptHandler(messages *services.MessageService, status models.MessageStatus) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var (
			msg *models.Message
			err error
		)
		if status == models.MessageDelivered {
			msg, err = messages.MarkDelivered(c.Context(), c.Params("id"), currentUser(c))
		} else {
			msg, err = messages.MarkRead(c.Context(), c.Params("id"), currentUser(c))
		}
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(msg)
	}
}
