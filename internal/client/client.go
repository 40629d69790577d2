// Package client talks to the marketplace HTTP API on behalf of pingctl and
// replays offline actions against it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketplace-backend/internal/auth"
	"marketplace-backend/internal/config"
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/offline"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}

type Client struct {
	base    string
	token   string
	timeout time.Duration
}

func New(cfg config.ClientConfig) *Client {
	return &Client{
		base:    strings.TrimRight(cfg.ServerURL, "/"),
		token:   cfg.Token,
		timeout: cfg.Timeout,
	}
}

// CreatePing sends a ping. The response says whether it was folded into an
// existing conversation.
func (c *Client) CreatePing(ctx context.Context, listingID, receiver, message string) (*models.PingResponse, error) {
	var out models.PingResponse
	err := c.do(ctx, fiber.MethodPost, "/api/pings", models.CreatePingRequest{
		ListingID: listingID,
		Receiver:  receiver,
		Message:   message,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID, text string) (*models.Message, error) {
	var out models.Message
	if err := c.do(ctx, fiber.MethodPost, "/api/conversations/"+url.PathEscape(chatID)+"/messages", models.SendMessageRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReceivedPings(ctx context.Context, limit int) ([]models.Ping, error) {
	var out []models.Ping
	if err := c.do(ctx, fiber.MethodGet, "/api/pings/received?limit="+strconv.Itoa(limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Sender reads the username out of the configured token without
// verifying it. The server does the verifying.
func (c *Client) Sender() (string, error) {
	if c.token == "" {
		return "", errors.New("no access token configured")
	}
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, &claims); err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if claims.Username == "" {
		return "", errors.New("token carries no username")
	}
	return claims.Username, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, fiber.MethodGet, "/health", nil, nil)
}

// WatchConnectivity polls the health endpoint while m reports offline and
// flips it back online once the server answers.
func (c *Client) WatchConnectivity(ctx context.Context, m *offline.Monitor, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !m.Online() && c.Health(ctx) == nil {
			m.SetOnline(true)
		}
	}
}

// Execute replays one queued action. The sender is whoever the token
// belongs to, so actions queued under another account are refused.
func (c *Client) Execute(ctx context.Context, a offline.Action) error {
	if who, err := c.Sender(); err == nil && a.Sender != "" && who != a.Sender {
		return offline.Permanent(fmt.Errorf("queued by %s but the token belongs to %s", a.Sender, who))
	}
	var err error
	switch a.Kind {
	case offline.KindPing:
		_, err = c.CreatePing(ctx, a.ListingID, a.Receiver, a.Text)
		// an earlier attempt already landed
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == fiber.StatusConflict {
			return nil
		}
	case offline.KindMessage:
		_, err = c.SendMessage(ctx, a.ChatID, a.Text)
	default:
		return offline.Permanent(fmt.Errorf("unknown action kind %q", a.Kind))
	}
	return Classify(err)
}

// Classify maps a client error onto the offline queue's retry rules.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Status == fiber.StatusTooManyRequests:
		return offline.Delayed(err, apiErr.RetryAfter)
	case apiErr.Status == fiber.StatusBadGateway,
		apiErr.Status == fiber.StatusServiceUnavailable,
		apiErr.Status == fiber.StatusGatewayTimeout:
		return fmt.Errorf("%w: %v", offline.ErrUnavailable, err)
	case apiErr.Status >= 400 && apiErr.Status < 500:
		return offline.Permanent(err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a := fiber.AcquireAgent()
	req := a.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(c.base + path)
	if c.token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	if body != nil {
		a.JSON(body)
	}
	if c.timeout > 0 {
		a.Timeout(c.timeout)
	}
	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return fmt.Errorf("build request: %w", err)
	}

	resp := fiber.AcquireResponse()
	defer fiber.ReleaseResponse(resp)
	a.SetResponse(resp)

	code, raw, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", offline.ErrUnavailable, errors.Join(errs...))
	}
	if code >= 300 {
		return apiError(code, raw, string(resp.Header.Peek(fiber.HeaderRetryAfter)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(code int, raw []byte, retryHeader string) *APIError {
	var body struct {
		Error        string `json:"error"`
		RetryAfterMs int64  `json:"retry_after_ms"`
	}
	_ = json.Unmarshal(raw, &body)

	e := &APIError{Status: code, Message: body.Error}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}
	switch {
	case body.RetryAfterMs > 0:
		e.RetryAfter = time.Duration(body.RetryAfterMs) * time.Millisecond
	case retryHeader != "":
		if secs, err := strconv.Atoi(retryHeader); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}
