// Package store defines the typed repositories the core talks to. Every
// create-if-absent operation relies on a uniqueness constraint in the
// backing store and reports a clash as ErrUniqueViolation; callers decide
// whether to re-read or surface a conflict.
package store

import (
	"context"
	"errors"
	"time"

	"marketplace-backend/internal/models"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrUniqueViolation is returned when a write hits a unique constraint.
	ErrUniqueViolation = errors.New("store: unique violation")
	// ErrStaleStatus is returned by conditional status updates whose
	// precondition no longer holds.
	ErrStaleStatus = errors.New("store: status precondition failed")
	// ErrUnavailable marks connectivity failures to the backing store.
	ErrUnavailable = errors.New("store: unavailable")
)

// Triple identifies the pings of one sender to one receiver on one listing.
type Triple struct {
	ListingID string
	Sender    string
	Receiver  string
}

type PingRepository interface {
	// Insert stores a new pending ping. Assigns CreatedAt and LastPingAt.
	// Returns ErrUniqueViolation if a pending ping already exists for the
	// same triple.
	Insert(ctx context.Context, p *models.Ping) error
	GetByID(ctx context.Context, id string) (*models.Ping, error)
	// FindOpen returns the most recent pending or accepted ping for the
	// triple, or ErrNotFound.
	FindOpen(ctx context.Context, t Triple) (*models.Ping, error)
	// Respond atomically moves a pending ping to status, stamping
	// responded_at and response_time_minutes with store time. Returns
	// ErrStaleStatus if the ping is no longer pending.
	Respond(ctx context.Context, id string, status models.PingStatus, responseMessage *string) (*models.Ping, error)
	// Bump increments ping_count and sets last_ping_at on an accepted ping.
	Bump(ctx context.Context, id string) (*models.Ping, error)
	ListByReceiver(ctx context.Context, receiver string, limit int) ([]models.Ping, error)
	ListBySender(ctx context.Context, sender string, limit int) ([]models.Ping, error)
}

type ConversationRepository interface {
	// Find looks a conversation up by listing and unordered pair.
	Find(ctx context.Context, listingID, userA, userB string) (*models.Conversation, error)
	// Insert creates the conversation. Returns ErrUniqueViolation if one
	// already exists for the listing and pair.
	Insert(ctx context.Context, c *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	ListForUser(ctx context.Context, username string) ([]models.Conversation, error)
	// SetStatus moves the conversation from `from` to `to`. Returns
	// ErrStaleStatus if the current status is not `from`.
	SetStatus(ctx context.Context, id string, from, to models.ConversationStatus) (*models.Conversation, error)
}

type MessageRepository interface {
	// Append stores m in its chat and updates the conversation's
	// last_message and updated_at in the same write. CreatedAt is assigned
	// by the store and is strictly increasing within a chat.
	Append(ctx context.Context, m *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	// List returns up to limit of the latest messages, oldest first.
	List(ctx context.Context, chatID string, limit int) ([]models.Message, error)
	// Advance moves a message to status if that is forward. Returns
	// ErrStaleStatus otherwise.
	Advance(ctx context.Context, id string, status models.MessageStatus) (*models.Message, error)
	// MarkReadBefore marks every message in the chat not sent by reader and
	// created at or before `before` as read. Returns the number updated.
	MarkReadBefore(ctx context.Context, chatID, reader string, before time.Time) (int64, error)
}

type GrantRepository interface {
	// Upsert inserts the grant or leaves an existing one untouched.
	Upsert(ctx context.Context, g models.PhoneUnlockGrant) error
	Exists(ctx context.Context, owner, viewer string) (bool, error)
	Delete(ctx context.Context, owner, viewer string) error
	DeleteAll(ctx context.Context, owner string) (int64, error)
	ListByOwner(ctx context.Context, owner string) ([]models.PhoneUnlockGrant, error)
}

type UserRepository interface {
	// Create inserts the user. Returns ErrUniqueViolation on a taken name.
	Create(ctx context.Context, u *models.User) error
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	SetPhone(ctx context.Context, username string, phone *string) error
	SetPhonePreference(ctx context.Context, username string, pref models.PhonePreference) error
}

// ListingDirectory resolves listing ownership. Listings are managed
// elsewhere; this service only reads them.
type ListingDirectory interface {
	GetListing(ctx context.Context, listingID string) (*models.Listing, error)
}

// Store bundles every repository a backend provides.
type Store interface {
	Pings() PingRepository
	Conversations() ConversationRepository
	Messages() MessageRepository
	Grants() GrantRepository
	Users() UserRepository
	Listings() ListingDirectory
}
