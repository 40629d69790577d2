package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"marketplace-backend/internal/auth"
	"marketplace-backend/internal/config"
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/offline"

	"github.com/gofiber/fiber/v2"
)

// serve runs app on a loopback port until the test ends.
func serve(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { _ = app.Shutdown() })
	return "http://" + ln.Addr().String()
}

func TestCreatePingSendsTokenAndBody(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/api/pings", func(c *fiber.Ctx) error {
		if c.Get(fiber.HeaderAuthorization) != "Bearer tok" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		var req models.CreatePingRequest
		if err := c.BodyParser(&req); err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(models.PingResponse{
			Ping: &models.Ping{ID: "p1", ListingID: req.ListingID, ReceiverUsername: req.Receiver, Message: req.Message},
		})
	})
	c := New(config.ClientConfig{ServerURL: serve(t, app), Token: "tok", Timeout: time.Second})

	res, err := c.CreatePing(context.Background(), "L42", "bob", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if res.Ping.ID != "p1" || res.Ping.ReceiverUsername != "bob" || res.Folded {
		t.Errorf("unexpected response %+v", res.Ping)
	}
}

func TestExecuteClassifiesAnswers(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/api/pings", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "a ping is already pending"})
	})
	app.Post("/api/conversations/:id/messages", func(c *fiber.Ctx) error {
		switch c.Params("id") {
		case "limited":
			c.Set(fiber.HeaderRetryAfter, "2")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limited", "retry_after_ms": 1500})
		case "down":
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage unavailable"})
		case "closed":
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conversation is closed"})
		}
		return c.Status(fiber.StatusCreated).JSON(models.Message{ID: "m1"})
	})
	c := New(config.ClientConfig{ServerURL: serve(t, app), Timeout: time.Second})
	ctx := context.Background()

	if err := c.Execute(ctx, offline.Action{Kind: offline.KindPing, ListingID: "L42", Receiver: "bob", Text: "hi"}); err != nil {
		t.Errorf("pending ping on replay should count as delivered, got %v", err)
	}
	if err := c.Execute(ctx, offline.Action{Kind: offline.KindMessage, ChatID: "ok", Text: "hi"}); err != nil {
		t.Errorf("send: %v", err)
	}

	err := c.Execute(ctx, offline.Action{Kind: offline.KindMessage, ChatID: "limited", Text: "hi"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.RetryAfter != 1500*time.Millisecond || offline.IsPermanent(err) {
		t.Errorf("rate limit: %v", err)
	}

	if err := c.Execute(ctx, offline.Action{Kind: offline.KindMessage, ChatID: "down", Text: "hi"}); !errors.Is(err, offline.ErrUnavailable) {
		t.Errorf("503 should read as unavailable, got %v", err)
	}
	if err := c.Execute(ctx, offline.Action{Kind: offline.KindMessage, ChatID: "closed", Text: "hi"}); !offline.IsPermanent(err) {
		t.Errorf("409 on a message should be permanent, got %v", err)
	}
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := New(config.ClientConfig{ServerURL: "http://" + addr, Timeout: time.Second})
	_, err = c.SendMessage(context.Background(), "chat", "hi")
	if !errors.Is(err, offline.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClassifyHeaderFallback(t *testing.T) {
	e := apiError(fiber.StatusTooManyRequests, []byte("slow down"), "3")
	if e.RetryAfter != 3*time.Second || e.Message != "slow down" {
		t.Errorf("unexpected %+v", e)
	}
	if err := Classify(errors.New("boom")); offline.IsPermanent(err) || errors.Is(err, offline.ErrUnavailable) {
		t.Errorf("unknown errors should stay retryable, got %v", err)
	}
	if err := Classify(&APIError{Status: fiber.StatusInternalServerError}); offline.IsPermanent(err) {
		t.Errorf("500 should stay retryable, got %v", err)
	}
}

func TestSenderComesFromToken(t *testing.T) {
	token, err := auth.NewAuthenticator("secret", "test", time.Hour, time.Hour).GenerateToken(7, "alice")
	if err != nil {
		t.Fatal(err)
	}
	c := New(config.ClientConfig{ServerURL: "http://127.0.0.1:1", Token: token})
	who, err := c.Sender()
	if err != nil || who != "alice" {
		t.Fatalf("Sender() = %q, %v", who, err)
	}

	err = c.Execute(context.Background(), offline.Action{Kind: offline.KindMessage, Sender: "bob", ChatID: "c", Text: "hi"})
	if !offline.IsPermanent(err) {
		t.Errorf("action queued by another account should be refused, got %v", err)
	}

	if _, err := New(config.ClientConfig{}).Sender(); err == nil {
		t.Error("expected an error without a token")
	}
}
