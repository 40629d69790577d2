package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"marketplace-backend/internal/models"
	"marketplace-backend/internal/notify"

	"go.uber.org/zap"
)

// frameWriter is the part of *websocket.Conn the hub writes through.
type frameWriter interface {
	WriteJSON(v interface{}) error
}

type hubConn struct {
	username string
	// websocket connections do not allow concurrent writers
	mu sync.Mutex
	w  frameWriter
}

func (c *hubConn) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.WriteJSON(v)
}

// Hub tracks live websocket connections by user and by the conversation
// they have open, and pushes events to them.
type Hub struct {
	mu sync.RWMutex
	// conversation id -> connection id -> conn
	rooms map[string]map[string]*hubConn
	conns map[string]*hubConn
	log   *zap.Logger
}

var _ notify.Dispatcher = (*Hub)(nil)

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*hubConn),
		conns: make(map[string]*hubConn),
		log:   log,
	}
}

// Register stores a new connection. Returns true if it is the user's first.
func (h *Hub) Register(connID, username string, w frameWriter) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	wasOnline := h.onlineLocked(username)
	h.conns[connID] = &hubConn{username: username, w: w}
	return !wasOnline
}

// Unregister drops the connection from every room. Returns true if it was
// the user's last connection.
func (h *Hub) Unregister(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return false
	}
	for room, conns := range h.rooms {
		if _, ok := conns[connID]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.conns, connID)
	return !h.onlineLocked(c.username)
}

func (h *Hub) Join(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]*hubConn)
	}
	h.rooms[room][connID] = c
}

func (h *Hub) Leave(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[room]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast sends message to every connection in room except exclude.
func (h *Hub) Broadcast(room string, message interface{}, exclude string) {
	h.mu.RLock()
	targets := make(map[string]*hubConn, len(h.rooms[room]))
	for id, c := range h.rooms[room] {
		if id != exclude {
			targets[id] = c
		}
	}
	h.mu.RUnlock()

	for id, c := range targets {
		if err := c.send(message); err != nil {
			h.log.Debug("broadcast", zap.String("room", room), zap.String("conn_id", id), zap.Error(err))
		}
	}
}

// SendToConn writes to a single connection.
func (h *Hub) SendToConn(connID string, message interface{}) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return errors.New("connection not registered")
	}
	return c.send(message)
}

// SendToUser sends message to all connections of username.
func (h *Hub) SendToUser(username string, message interface{}) {
	h.mu.RLock()
	targets := make(map[string]*hubConn)
	for id, c := range h.conns {
		if c.username == username {
			targets[id] = c
		}
	}
	h.mu.RUnlock()

	for id, c := range targets {
		if err := c.send(message); err != nil {
			h.log.Debug("send to user", zap.String("username", username), zap.String("conn_id", id), zap.Error(err))
		}
	}
}

func (h *Hub) IsUserOnline(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineLocked(username)
}

func (h *Hub) onlineLocked(username string) bool {
	for _, c := range h.conns {
		if c.username == username {
			return true
		}
	}
	return false
}

// IsUserInRoom reports whether any of username's connections has room open.
func (h *Hub) IsUserInRoom(username, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[room] {
		if c.username == username {
			return true
		}
	}
	return false
}

// Dispatch pushes an event to online recipients. A new message is also
// broadcast as a chat frame to everyone who has the conversation open;
// recipients who do not get a "new_message" notice instead.
func (h *Hub) Dispatch(_ context.Context, e notify.Event) {
	if msg, ok := e.Payload.(*models.Message); ok && e.Kind == notify.MessageSent {
		h.Broadcast(msg.ChatID, chatFrame(msg), "")
		for _, r := range e.Recipients {
			if h.IsUserInRoom(r, msg.ChatID) {
				continue
			}
			h.SendToUser(r, models.WSMessage{
				Event:     "new_message",
				ID:        msg.ID,
				Room:      msg.ChatID,
				Text:      msg.Text,
				Username:  msg.SenderUsername,
				Timestamp: msg.CreatedAt.UnixMilli(),
			})
		}
		return
	}

	for _, r := range e.Recipients {
		h.SendToUser(r, models.WSMessage{
			Event:     "event",
			Status:    string(e.Kind),
			Username:  e.Actor,
			Timestamp: eventTime(e).UnixMilli(),
			Payload:   e.Payload,
		})
	}
}

func eventTime(e notify.Event) time.Time {
	if e.At.IsZero() {
		return time.Now()
	}
	return e.At
}

func chatFrame(m *models.Message) models.WSMessage {
	return models.WSMessage{
		Event:     "chat",
		ID:        m.ID,
		Room:      m.ChatID,
		Text:      m.Text,
		Username:  m.SenderUsername,
		Status:    string(m.Status),
		Timestamp: m.CreatedAt.UnixMilli(),
	}
}
