package handlers

import (
	"marketplace-backend/internal/auth"
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Deps struct {
	Auth          *auth.Authenticator
	Users         *services.UserService
	Pings         *services.PingService
	Conversations *services.ConversationService
	Messages      *services.MessageService
	Phones        *services.PhoneService
	Hub           *Hub
	Logger        *zap.Logger
}

// Mount registers every route on app.
func Mount(app *fiber.App, d Deps) {
	api := app.Group("/api")

	// Public Routes
	api.Post("/register", RegisterHandler(d.Users))
	api.Post("/login", LoginHandler(d.Users))
	api.Post("/refresh", RefreshHandler(d.Users))

	// Protected Routes
	protected := api.Group("/", AuthMiddleware(d.Auth))

	protected.Post("/pings", CreatePingHandler(d.Pings))
	protected.Get("/pings/check", CheckPingHandler(d.Pings))
	protected.Get("/pings/received", ListReceivedPingsHandler(d.Pings))
	protected.Get("/pings/sent", ListSentPingsHandler(d.Pings))
	protected.Get("/pings/:id", GetPingHandler(d.Pings))
	protected.Patch("/pings/:id", UpdatePingStatusHandler(d.Pings))
	protected.Get("/pings/:id/conversation", PingConversationHandler(d.Pings))

	protected.Get("/conversations", ListConversationsHandler(d.Conversations))
	protected.Get("/conversations/:id", GetConversationHandler(d.Conversations))
	protected.Patch("/conversations/:id", UpdateConversationStatusHandler(d.Conversations))
	protected.Get("/conversations/:id/messages", ListMessagesHandler(d.Messages))
	protected.Post("/conversations/:id/messages", SendMessageHandler(d.Messages))
	protected.Post("/conversations/:id/read", MarkConversationReadHandler(d.Messages))
	protected.Post("/messages/:id/delivered", MessageReceiptHandler(d.Messages, models.MessageDelivered))
	protected.Post("/messages/:id/read", MessageReceiptHandler(d.Messages, models.MessageRead))

	protected.Get("/profile", GetProfileHandler(d.Users))
	protected.Put("/profile/phone", SetPhoneHandler(d.Users))
	protected.Put("/profile/phone-preference", SetPhonePreferenceHandler(d.Phones))
	protected.Get("/profile/phone-grants", ListPhoneGrantsHandler(d.Phones))
	protected.Delete("/profile/phone-grants", RevokeAllPhoneGrantsHandler(d.Phones))
	protected.Delete("/profile/phone-grants/:viewer", RevokePhoneGrantHandler(d.Phones))
	protected.Get("/users/:username/phone", PhoneVisibilityHandler(d.Phones))

	// Health Check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Upgrade check runs before auth so plain HTTP gets 426.
	app.Use("/ws", WSUpgradeMiddleware)
	app.Use("/ws", AuthMiddleware(d.Auth))
	app.Get("/ws", WebSocketHandler(d.Hub, d.Conversations, d.Messages, d.Logger))
}
