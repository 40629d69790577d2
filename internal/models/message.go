package models

import "time"

type MessageStatus string

const (
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

var messageRank = map[MessageStatus]int{
	MessageSending:   0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageRead:      3,
}

// Rank orders statuses along sending < sent < delivered < read.
func (s MessageStatus) Rank() int { return messageRank[s] }

// Advances reports whether next is strictly ahead of s.
func (s MessageStatus) Advances(next MessageStatus) bool {
	_, ok := messageRank[next]
	return ok && messageRank[next] > messageRank[s]
}

type Message struct {
	ID             string        `json:"id"`
	ChatID         string        `json:"chat_id"`
	SenderUsername string        `json:"sender_username"`
	Text           string        `json:"text"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

// WSMessage is the frame exchanged over the websocket.
type WSMessage struct {
	Event     string    `json:"event"` // "join", "leave", "chat", "seen", "event"
	ID        string    `json:"id,omitempty"`
	Room      string    `json:"room,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
	Username  string    `json:"username,omitempty"`
	Status    string    `json:"status,omitempty"`
	History   []Message `json:"history,omitempty"`
	Error     string    `json:"error,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}
