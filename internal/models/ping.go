package models

import "time"

type PingStatus string

const (
	PingPending  PingStatus = "pending"
	PingAccepted PingStatus = "accepted"
	PingDeclined PingStatus = "declined"
)

// Terminal reports whether no further transition is allowed from s.
func (s PingStatus) Terminal() bool {
	return s == PingAccepted || s == PingDeclined
}

// Ping is one contact attempt by a prospective buyer on a listing.
type Ping struct {
	ID                  string     `json:"id"`
	ListingID           string     `json:"listing_id"`
	SenderUsername      string     `json:"sender_username"`
	ReceiverUsername    string     `json:"receiver_username"`
	Message             string     `json:"message"`
	Status              PingStatus `json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
	RespondedAt         *time.Time `json:"responded_at,omitempty"`
	ResponseTimeMinutes *int       `json:"response_time_minutes,omitempty"`
	ResponseMessage     *string    `json:"response_message,omitempty"`
	PingCount           int        `json:"ping_count"`
	LastPingAt          time.Time  `json:"last_ping_at"`
}

type CreatePingRequest struct {
	ListingID string `json:"listing_id"`
	Receiver  string `json:"receiver"`
	Message   string `json:"message"`
}

type UpdatePingStatusRequest struct {
	Status          PingStatus `json:"status"`
	ResponseMessage *string    `json:"response_message,omitempty"`
}

// PingResponse is returned from ping creation. Folded is true when the ping
// landed on an already accepted pair and was appended to its conversation.
type PingResponse struct {
	Ping           *Ping  `json:"ping"`
	Folded         bool   `json:"folded"`
	ConversationID string `json:"conversation_id,omitempty"`
}
