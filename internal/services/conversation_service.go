package services

import (
	"context"
	"errors"
	"fmt"

	"marketplace-backend/internal/models"
	"marketplace-backend/internal/store"

	"go.uber.org/zap"
)

type ConversationService struct {
	convs store.ConversationRepository
	msgs  store.MessageRepository
	log   *zap.Logger
}

func NewConversationService(convs store.ConversationRepository, msgs store.MessageRepository, log *zap.Logger) *ConversationService {
	return &ConversationService{convs: convs, msgs: msgs, log: log}
}

// GetOrCreate returns the conversation for the listing and unordered pair,
// creating it if needed. Concurrent callers all get the same row.
func (s *ConversationService) GetOrCreate(ctx context.Context, listingID, userA, userB string) (*models.Conversation, bool, error) {
	switch {
	case listingID == "":
		return nil, false, invalid("listing_id", "is required")
	case userA == "" || userB == "":
		return nil, false, invalid("participants", "are required")
	case userA == userB:
		return nil, false, invalid("participants", "must be two different users")
	}

	// Check if conversation exists
	existing, err := s.convs.Find(ctx, listingID, userA, userB)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("find conversation: %w", err)
	}

	conv := &models.Conversation{
		ListingID:    listingID,
		ParticipantA: userA,
		ParticipantB: userB,
		Status:       models.ConversationActive,
	}
	err = s.convs.Insert(ctx, conv)
	if err == nil {
		s.log.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("listing_id", listingID))
		return conv, true, nil
	}
	if !errors.Is(err, store.ErrUniqueViolation) {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}

	// Someone else created it between our find and insert.
	existing, err = s.convs.Find(ctx, listingID, userA, userB)
	if err != nil {
		return nil, false, fmt.Errorf("re-read conversation: %w", err)
	}
	s.log.Debug("conversation created concurrently",
		zap.String("conversation_id", existing.ID),
		zap.String("listing_id", listingID))
	return existing, false, nil
}

// FoldPing puts text from the ping's sender into the pair's conversation,
// as the seed message of a new conversation or appended to an existing one.
// A closed conversation takes no more pings.
func (s *ConversationService) FoldPing(ctx context.Context, p *models.Ping, text string) (*models.Conversation, *models.Message, error) {
	conv, _, err := s.GetOrCreate(ctx, p.ListingID, p.SenderUsername, p.ReceiverUsername)
	if err != nil {
		return nil, nil, err
	}
	if conv.Status == models.ConversationClosed {
		return nil, nil, ErrConversationClosed
	}
	msg, err := s.append(ctx, conv, p.SenderUsername, text)
	if err != nil {
		return nil, nil, err
	}
	return conv, msg, nil
}

func (s *ConversationService) append(ctx context.Context, conv *models.Conversation, sender, text string) (*models.Message, error) {
	msg := &models.Message{ChatID: conv.ID, SenderUsername: sender, Text: text, Status: models.MessageSending}
	if err := s.msgs.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	conv.LastMessage = msg.Text
	conv.UpdatedAt = msg.CreatedAt
	return msg, nil
}

// Get returns the conversation if viewer takes part in it.
func (s *ConversationService) Get(ctx context.Context, id, viewer string) (*models.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, id)
	if err != nil {
		return nil, lookup("conversation", err)
	}
	if !conv.HasParticipant(viewer) {
		return nil, ErrForbidden
	}
	return conv, nil
}

func (s *ConversationService) ListForUser(ctx context.Context, username string) ([]models.Conversation, error) {
	convs, err := s.convs.ListForUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// SetStatus moves the conversation forward. Either participant may do it.
func (s *ConversationService) SetStatus(ctx context.Context, id, actor string, status models.ConversationStatus) (*models.Conversation, error) {
	if !status.Valid() {
		return nil, invalid("status", "must be active, completed or closed")
	}
	conv, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !conv.Status.CanMoveTo(status) {
		return nil, &ConflictError{Reason: fmt.Sprintf("conversation is already %s", conv.Status)}
	}
	updated, err := s.convs.SetStatus(ctx, id, conv.Status, status)
	if errors.Is(err, store.ErrStaleStatus) {
		return nil, &ConflictError{Reason: "conversation status changed concurrently"}
	}
	if err != nil {
		return nil, fmt.Errorf("set conversation status: %w", err)
	}
	s.log.Info("conversation status changed",
		zap.String("conversation_id", id),
		zap.String("actor", actor),
		zap.String("status", string(status)))
	return updated, nil
}
