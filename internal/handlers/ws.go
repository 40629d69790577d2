package handlers

import (
	"context"
	"encoding/json"
	"time"

	"marketplace-backend/internal/models"
	"marketplace-backend/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const wsHistoryLimit = 50

// session is one websocket connection's state.
type session struct {
	hub      *Hub
	convs    *services.ConversationService
	messages *services.MessageService
	log      *zap.Logger

	connID   string
	username string
	room     string
}

// WebSocketHandler serves /ws. Clients join a conversation to receive its
// chat frames, send messages into it and acknowledge what they have read.
func WebSocketHandler(hub *Hub, convs *services.ConversationService, messages *services.MessageService, log *zap.Logger) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		username, _ := c.Locals("username").(string)
		s := &session{
			hub:      hub,
			convs:    convs,
			messages: messages,
			log:      log.With(zap.String("username", username)),
			connID:   uuid.New().String(),
			username: username,
		}
		hub.Register(s.connID, username, c)

		defer func() {
			s.leave()
			hub.Unregister(s.connID)
			c.Close()
		}()

		s.reply(fiber.Map{
			"event":   "connected",
			"message": "Welcome to the marketplace chat",
		})

		for {
			msgType, msg, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.log.Warn("websocket read", zap.Error(err))
				}
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			s.handle(msg)
		}
	})
}

func (s *session) handle(raw []byte) {
	var msg models.WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.fail("invalid frame")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch msg.Event {
	case "join":
		s.join(ctx, msg.Room)
	case "leave":
		s.leave()
	case "chat":
		s.chat(ctx, &msg)
	case "seen":
		s.seen(ctx, &msg)
	case "read":
		s.read(ctx, &msg)
	case "list":
		s.list(ctx)
	default:
		s.fail("unknown event " + msg.Event)
	}
}

func (s *session) join(ctx context.Context, room string) {
	if room == "" {
		s.fail("room is required")
		return
	}
	if _, err := s.convs.Get(ctx, room, s.username); err != nil {
		s.failErr(err)
		return
	}

	s.leave()
	s.room = room
	s.hub.Join(room, s.connID)
	s.reply(models.WSMessage{Event: "joined", Room: room, Username: s.username, Timestamp: time.Now().UnixMilli()})
	s.hub.Broadcast(room, models.WSMessage{Event: "join", Room: room, Username: s.username, Timestamp: time.Now().UnixMilli()}, s.connID)

	history, err := s.messages.History(ctx, room, s.username, wsHistoryLimit)
	if err != nil {
		s.log.Error("load history", zap.String("room", room), zap.Error(err))
		return
	}
	s.reply(models.WSMessage{Event: "history", Room: room, History: history, Timestamp: time.Now().UnixMilli()})
}

func (s *session) leave() {
	if s.room == "" {
		return
	}
	s.hub.Leave(s.room, s.connID)
	s.hub.Broadcast(s.room, models.WSMessage{Event: "leave", Room: s.room, Username: s.username, Timestamp: time.Now().UnixMilli()}, s.connID)
	s.room = ""
}

// chat sends into the open conversation. The hub delivers the resulting
// chat frame to the room, sender included, through the notifier.
func (s *session) chat(ctx context.Context, msg *models.WSMessage) {
	room := s.room
	if room == "" {
		room = msg.Room
	}
	if room == "" {
		s.fail("join a conversation first")
		return
	}
	if _, err := s.messages.Send(ctx, room, s.username, msg.Text); err != nil {
		s.failErr(err)
	}
}

// seen marks everything received up to the given timestamp as read.
// Timestamps in seconds are accepted as well as milliseconds.
func (s *session) seen(ctx context.Context, msg *models.WSMessage) {
	room := s.room
	if room == "" {
		room = msg.Room
	}
	ts := msg.Timestamp
	if room == "" || ts == 0 {
		return
	}
	if ts < 1_000_000_000_000 {
		ts *= 1000
	}

	updated, err := s.messages.MarkReadBefore(ctx, room, s.username, time.UnixMilli(ts))
	if err != nil {
		s.failErr(err)
		return
	}
	s.reply(models.WSMessage{Event: "seen_successful", Room: room, Timestamp: msg.Timestamp, Username: s.username})
	s.hub.Broadcast(room, fiber.Map{
		"event":     "messages_seen",
		"room":      room,
		"username":  s.username,
		"timestamp": msg.Timestamp,
		"count":     updated,
	}, s.connID)
}

// read is a receipt for a single message: Status "delivered" or "read".
func (s *session) read(ctx context.Context, msg *models.WSMessage) {
	var (
		m   *models.Message
		err error
	)
	if models.MessageStatus(msg.Status) == models.MessageDelivered {
		m, err = s.messages.MarkDelivered(ctx, msg.ID, s.username)
	} else {
		m, err = s.messages.MarkRead(ctx, msg.ID, s.username)
	}
	if err != nil {
		s.failErr(err)
		return
	}
	s.hub.Broadcast(m.ChatID, models.WSMessage{
		Event:    "status",
		ID:       m.ID,
		Room:     m.ChatID,
		Status:   string(m.Status),
		Username: s.username,
	}, "")
}

func (s *session) list(ctx context.Context) {
	convs, err := s.convs.ListForUser(ctx, s.username)
	if err != nil {
		s.failErr(err)
		return
	}
	items := make([]fiber.Map, 0, len(convs))
	for _, c := range convs {
		other := c.Other(s.username)
		status := "offline"
		if s.hub.IsUserOnline(other) {
			status = "online"
		}
		items = append(items, fiber.Map{
			"conversation":      c,
			"other_username":    other,
			"other_user_status": status,
		})
	}
	s.reply(models.WSMessage{Event: "list", Payload: items})
}

func (s *session) reply(v interface{}) {
	if err := s.hub.SendToConn(s.connID, v); err != nil {
		s.log.Debug("websocket write", zap.Error(err))
	}
}

func (s *session) fail(reason string) {
	s.reply(models.WSMessage{Event: "error", Error: reason})
}

func (s *session) failErr(err error) {
	status, body := errorBody(err)
	if status >= fiber.StatusInternalServerError {
		s.log.Error("websocket request failed", zap.Error(err))
	}
	frame := models.WSMessage{Event: "error", Error: body["error"].(string)}
	if ms, ok := body["retry_after_ms"]; ok {
		frame.Payload = fiber.Map{"retry_after_ms": ms}
	}
	s.reply(frame)
}

// WSUpgradeMiddleware rejects non-websocket requests to /ws.
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
