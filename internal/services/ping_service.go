package services

import (
	"context"
	"errors"
	"fmt"

	"marketplace-backend/internal/clock"
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/notify"
	"marketplace-backend/internal/ratelimit"
	"marketplace-backend/internal/store"

	"go.uber.org/zap"
)

// PingService owns the lifecycle of pings: creation, the single
// pending→accepted/declined transition and follow-ups on accepted pairs.
type PingService struct {
	pings         store.PingRepository
	listings      store.ListingDirectory
	users         store.UserRepository
	conversations *ConversationService
	phones        *PhoneService
	limiter       Limiter
	validator     *Validator
	notifier      notify.Dispatcher
	clock         clock.Clock
	log           *zap.Logger
}

type PingDeps struct {
	Pings         store.PingRepository
	Listings      store.ListingDirectory
	Users         store.UserRepository
	Conversations *ConversationService
	Phones        *PhoneService
	Limiter       Limiter
	Validator     *Validator
	Notifier      notify.Dispatcher
	Clock         clock.Clock
	Logger        *zap.Logger
}

func NewPingService(d PingDeps) *PingService {
	return &PingService{
		pings:         d.Pings,
		listings:      d.Listings,
		users:         d.Users,
		conversations: d.Conversations,
		phones:        d.Phones,
		limiter:       d.Limiter,
		validator:     d.Validator,
		notifier:      d.Notifier,
		clock:         d.Clock,
		log:           d.Logger,
	}
}

// CreateResult describes what Create did. Folded is set when the ping hit
// an already accepted pair and its message went into the conversation.
type CreateResult struct {
	Ping         *models.Ping
	Folded       bool
	Conversation *models.Conversation
}

// CheckExisting reports whether a pending or accepted ping exists for the
// triple.
func (s *PingService) CheckExisting(ctx context.Context, listingID, sender, receiver string) (bool, error) {
	_, err := s.pings.FindOpen(ctx, store.Triple{ListingID: listingID, Sender: sender, Receiver: receiver})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find ping: %w", err)
	}
	return true, nil
}

func (s *PingService) Create(ctx context.Context, listingID, sender, receiver, message string) (*CreateResult, error) {
	clean, err := s.validator.Clean("message", message)
	if err != nil {
		return nil, err
	}
	if err := s.checkTriple(ctx, listingID, sender, receiver); err != nil {
		return nil, err
	}
	if err := admit(ctx, s.limiter, sender, ratelimit.ActionPing); err != nil {
		return nil, err
	}

	existing, err := s.pings.FindOpen(ctx, store.Triple{ListingID: listingID, Sender: sender, Receiver: receiver})
	switch {
	case err == nil && existing.Status == models.PingPending:
		return nil, ErrPingPending
	case err == nil && existing.Status == models.PingAccepted:
		return s.followUp(ctx, existing, clean)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("find ping: %w", err)
	}

	p := &models.Ping{
		ListingID:        listingID,
		SenderUsername:   sender,
		ReceiverUsername: receiver,
		Message:          clean,
		Status:           models.PingPending,
	}
	if err := s.pings.Insert(ctx, p); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, ErrPingPending
		}
		return nil, fmt.Errorf("save ping: %w", err)
	}

	s.log.Info("ping created",
		zap.String("ping_id", p.ID),
		zap.String("listing_id", listingID),
		zap.String("sender", sender))
	s.notifier.Dispatch(ctx, notify.Event{
		Kind:       notify.PingCreated,
		ListingID:  listingID,
		Actor:      sender,
		Recipients: []string{receiver},
		Payload:    p,
		At:         s.clock.Now(),
	})
	return &CreateResult{Ping: p}, nil
}

// followUp delivers the text of another ping on an accepted pair as a chat
// message, then records it on the ping. The message goes first so the
// count never runs ahead of the conversation.
func (s *PingService) followUp(ctx context.Context, accepted *models.Ping, text string) (*CreateResult, error) {
	conv, msg, err := s.conversations.FoldPing(ctx, accepted, text)
	if err != nil {
		return nil, err
	}
	bumped, err := s.pings.Bump(ctx, accepted.ID)
	if err != nil {
		return nil, fmt.Errorf("bump ping: %w", err)
	}

	s.log.Info("ping folded into conversation",
		zap.String("ping_id", bumped.ID),
		zap.String("conversation_id", conv.ID),
		zap.Int("ping_count", bumped.PingCount))
	s.notifier.Dispatch(ctx, notify.Event{
		Kind:       notify.MessageSent,
		ListingID:  bumped.ListingID,
		Actor:      bumped.SenderUsername,
		Recipients: []string{bumped.ReceiverUsername},
		Payload:    msg,
		At:         s.clock.Now(),
	})
	return &CreateResult{Ping: bumped, Folded: true, Conversation: conv}, nil
}

func (s *PingService) checkTriple(ctx context.Context, listingID, sender, receiver string) error {
	switch {
	case listingID == "":
		return invalid("listing_id", "is required")
	case sender == "":
		return invalid("sender", "is required")
	case receiver == "":
		return invalid("receiver", "is required")
	case sender == receiver:
		return invalid("receiver", "cannot be the sender")
	}
	listing, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return lookup("listing", err)
	}
	if listing.OwnerUsername != receiver {
		return invalid("receiver", "does not own the listing")
	}
	return nil
}

// UpdateStatus answers a pending ping. Only its receiver may answer and
// only once.
func (s *PingService) UpdateStatus(ctx context.Context, pingID, actor string, status models.PingStatus, responseMessage *string) (*models.Ping, error) {
	if status != models.PingAccepted && status != models.PingDeclined {
		return nil, invalid("status", "must be accepted or declined")
	}
	reply, err := s.validator.CleanOptional("response_message", responseMessage)
	if err != nil {
		return nil, err
	}

	p, err := s.pings.GetByID(ctx, pingID)
	if err != nil {
		return nil, lookup("ping", err)
	}
	if p.ReceiverUsername != actor {
		return nil, ErrForbidden
	}
	if p.Status.Terminal() {
		return nil, ErrAlreadyDecided
	}

	updated, err := s.pings.Respond(ctx, pingID, status, reply)
	if errors.Is(err, store.ErrStaleStatus) {
		return nil, ErrAlreadyDecided
	}
	if err != nil {
		return nil, fmt.Errorf("update ping status: %w", err)
	}

	kind := notify.PingDeclined
	if status == models.PingAccepted {
		kind = notify.PingAccepted
		if err := s.onAccepted(ctx, updated); err != nil {
			s.log.Error("ping accepted but follow-up failed",
				zap.String("ping_id", pingID),
				zap.Error(err))
			return nil, fmt.Errorf("ping %s accepted: %w", pingID, err)
		}
	}

	s.log.Info("ping answered",
		zap.String("ping_id", pingID),
		zap.String("status", string(status)),
		zap.Intp("response_time_minutes", updated.ResponseTimeMinutes))
	s.notifier.Dispatch(ctx, notify.Event{
		Kind:       kind,
		ListingID:  updated.ListingID,
		Actor:      actor,
		Recipients: []string{updated.SenderUsername},
		Payload:    updated,
		At:         s.clock.Now(),
	})
	return updated, nil
}

func (s *PingService) onAccepted(ctx context.Context, p *models.Ping) error {
	if _, _, err := s.conversations.FoldPing(ctx, p, p.Message); err != nil {
		return err
	}
	return s.grantIfConfirming(ctx, p)
}

func (s *PingService) grantIfConfirming(ctx context.Context, p *models.Ping) error {
	owner, err := s.users.GetByUsername(ctx, p.ReceiverUsername)
	if err != nil {
		return lookup("user "+p.ReceiverUsername, err)
	}
	if owner.PhonePreference != models.PhonePingConfirmation {
		return nil
	}
	return s.phones.grant(ctx, p.ReceiverUsername, p.SenderUsername)
}

// ConversationFor returns the conversation of an accepted ping, creating
// it if the accept did not get that far.
func (s *PingService) ConversationFor(ctx context.Context, pingID, actor string) (*models.Conversation, error) {
	p, err := s.Get(ctx, pingID, actor)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PingAccepted {
		return nil, &ConflictError{Reason: "ping has not been accepted"}
	}

	conv, created, err := s.conversations.GetOrCreate(ctx, p.ListingID, p.SenderUsername, p.ReceiverUsername)
	if err != nil {
		return nil, err
	}
	if created {
		if _, err := s.conversations.append(ctx, conv, p.SenderUsername, p.Message); err != nil {
			return nil, err
		}
		if err := s.grantIfConfirming(ctx, p); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

// Get returns the ping if actor sent or received it.
func (s *PingService) Get(ctx context.Context, pingID, actor string) (*models.Ping, error) {
	p, err := s.pings.GetByID(ctx, pingID)
	if err != nil {
		return nil, lookup("ping", err)
	}
	if p.SenderUsername != actor && p.ReceiverUsername != actor {
		return nil, ErrForbidden
	}
	return p, nil
}

func (s *PingService) ListReceived(ctx context.Context, receiver string, limit int) ([]models.Ping, error) {
	pings, err := s.pings.ListByReceiver(ctx, receiver, limit)
	if err != nil {
		return nil, fmt.Errorf("list received pings: %w", err)
	}
	return pings, nil
}

func (s *PingService) ListSent(ctx context.Context, sender string, limit int) ([]models.Ping, error) {
	pings, err := s.pings.ListBySender(ctx, sender, limit)
	if err != nil {
		return nil, fmt.Errorf("list sent pings: %w", err)
	}
	return pings, nil
}
