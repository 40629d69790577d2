package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-backend/internal/clock"
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/notify"
	"marketplace-backend/internal/ratelimit"
	"marketplace-backend/internal/store"

	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

type MessageService struct {
	convs     store.ConversationRepository
	msgs      store.MessageRepository
	limiter   Limiter
	validator *Validator
	notifier  notify.Dispatcher
	clock     clock.Clock
	log       *zap.Logger
}

type MessageDeps struct {
	Conversations store.ConversationRepository
	Messages      store.MessageRepository
	Limiter       Limiter
	Validator     *Validator
	Notifier      notify.Dispatcher
	Clock         clock.Clock
	Logger        *zap.Logger
}

func NewMessageService(d MessageDeps) *MessageService {
	return &MessageService{
		convs:     d.Conversations,
		msgs:      d.Messages,
		limiter:   d.Limiter,
		validator: d.Validator,
		notifier:  d.Notifier,
		clock:     d.Clock,
		log:       d.Logger,
	}
}

// Send appends text from sender to the chat. The store assigns the
// timestamp, so history order is the order the store accepted messages.
func (s *MessageService) Send(ctx context.Context, chatID, sender, text string) (*models.Message, error) {
	clean, err := s.validator.Clean("text", text)
	if err != nil {
		return nil, err
	}
	conv, err := s.participantOf(ctx, chatID, sender)
	if err != nil {
		return nil, err
	}
	if conv.Status == models.ConversationClosed {
		return nil, ErrConversationClosed
	}
	if err := admit(ctx, s.limiter, sender, ratelimit.ActionMessage); err != nil {
		return nil, err
	}

	msg := &models.Message{ChatID: chatID, SenderUsername: sender, Text: clean, Status: models.MessageSending}
	if err := s.msgs.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	s.notifier.Dispatch(ctx, notify.Event{
		Kind:       notify.MessageSent,
		ListingID:  conv.ListingID,
		Actor:      sender,
		Recipients: []string{conv.Other(sender)},
		Payload:    msg,
		At:         s.clock.Now(),
	})
	return msg, nil
}

// History returns up to limit of the latest messages, oldest first.
func (s *MessageService) History(ctx context.Context, chatID, viewer string, limit int) ([]models.Message, error) {
	if _, err := s.participantOf(ctx, chatID, viewer); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	msgs, err := s.msgs.List(ctx, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *MessageService) MarkDelivered(ctx context.Context, messageID, actor string) (*models.Message, error) {
	return s.advance(ctx, messageID, actor, models.MessageDelivered)
}

func (s *MessageService) MarkRead(ctx context.Context, messageID, actor string) (*models.Message, error) {
	return s.advance(ctx, messageID, actor, models.MessageRead)
}

// MarkReadBefore marks every message reader received in the chat up to
// before as read.
func (s *MessageService) MarkReadBefore(ctx context.Context, chatID, reader string, before time.Time) (int64, error) {
	if _, err := s.participantOf(ctx, chatID, reader); err != nil {
		return 0, err
	}
	n, err := s.msgs.MarkReadBefore(ctx, chatID, reader, before)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

// advance applies a receipt from the recipient. A receipt that would move
// the status backwards is ignored and the current message is returned.
func (s *MessageService) advance(ctx context.Context, messageID, actor string, status models.MessageStatus) (*models.Message, error) {
	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, lookup("message", err)
	}
	if _, err := s.participantOf(ctx, msg.ChatID, actor); err != nil {
		return nil, err
	}
	if msg.SenderUsername == actor {
		return nil, ErrForbidden
	}

	updated, err := s.msgs.Advance(ctx, messageID, status)
	if errors.Is(err, store.ErrStaleStatus) {
		current, err := s.msgs.GetByID(ctx, messageID)
		if err != nil {
			return nil, lookup("message", err)
		}
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}
	return updated, nil
}

func (s *MessageService) participantOf(ctx context.Context, chatID, username string) (*models.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, chatID)
	if err != nil {
		return nil, lookup("conversation", err)
	}
	if !conv.HasParticipant(username) {
		return nil, ErrForbidden
	}
	return conv, nil
}
