package handlers

import (
	"strings"
	"time"

	"marketplace-backend/internal/auth"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AuthMiddleware verifies the JWT and stores user_id and username in
// locals. The token comes from the Authorization header, or from the
// access_token query parameter for websocket clients.
func AuthMiddleware(authenticator *auth.Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("access_token")
		if token == "" {
			if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
				token = strings.TrimPrefix(h, "Bearer ")
			}
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing token"})
		}

		claims, err := authenticator.ValidateToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals("user_id", claims.UserID)
		c.Locals("username", claims.Username)
		return c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		chainErr := c.Next()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
		}
		if u, ok := c.Locals("username").(string); ok {
			fields = append(fields, zap.String("username", u))
		}
		if err, ok := c.Locals("error").(error); ok {
			log.Error("request failed", append(fields, zap.Error(err))...)
		} else if chainErr != nil {
			log.Warn("request", append(fields, zap.Error(chainErr))...)
		} else {
			log.Info("request", fields...)
		}
		return chainErr
	}
}

func currentUser(c *fiber.Ctx) string {
	u, _ := c.Locals("username").(string)
	return u
}
