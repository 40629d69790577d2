package models

import "time"

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationClosed    ConversationStatus = "closed"
)

var conversationRank = map[ConversationStatus]int{
	ConversationActive:    0,
	ConversationCompleted: 1,
	ConversationClosed:    2,
}

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	_, ok := conversationRank[s]
	return ok
}

// CanMoveTo reports whether a conversation may go from s to next.
// Status only moves forward.
func (s ConversationStatus) CanMoveTo(next ConversationStatus) bool {
	return next.Valid() && conversationRank[next] > conversationRank[s]
}

// Conversation is the single thread between two users about one listing.
// ParticipantA always sorts before ParticipantB.
type Conversation struct {
	ID           string             `json:"id"`
	ListingID    string             `json:"listing_id"`
	ParticipantA string             `json:"participant_a"`
	ParticipantB string             `json:"participant_b"`
	Status       ConversationStatus `json:"status"`
	LastMessage  string             `json:"last_message"`
	UpdatedAt    time.Time          `json:"updated_at"`
	CreatedAt    time.Time          `json:"created_at"`
}

// OrderedPair returns the two usernames in canonical order.
func OrderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// HasParticipant reports whether username is one of the two participants.
func (c *Conversation) HasParticipant(username string) bool {
	return c.ParticipantA == username || c.ParticipantB == username
}

// Other returns the participant that is not username.
func (c *Conversation) Other(username string) string {
	if c.ParticipantA == username {
		return c.ParticipantB
	}
	return c.ParticipantA
}

type UpdateConversationStatusRequest struct {
	Status ConversationStatus `json:"status"`
}
