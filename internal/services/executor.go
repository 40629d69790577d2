package services

import (
	"context"
	"errors"
	"fmt"

	"marketplace-backend/internal/offline"
	"marketplace-backend/internal/store"
)

// Executor replays queued actions through the in-process services.
type Executor struct {
	pings    *PingService
	messages *MessageService
}

func NewExecutor(pings *PingService, messages *MessageService) *Executor {
	return &Executor{pings: pings, messages: messages}
}

func (e *Executor) Execute(ctx context.Context, a offline.Action) error {
	var err error
	switch a.Kind {
	case offline.KindPing:
		_, err = e.pings.Create(ctx, a.ListingID, a.Sender, a.Receiver, a.Text)
		// a replay that finds its own earlier attempt pending is done
		if errors.Is(err, ErrPingPending) {
			return nil
		}
	case offline.KindMessage:
		_, err = e.messages.Send(ctx, a.ChatID, a.Sender, a.Text)
	default:
		return offline.Permanent(fmt.Errorf("unknown action kind %q", a.Kind))
	}
	return ClassifyForQueue(err)
}

// ClassifyForQueue translates a service error into the terms the offline
// queue schedules by.
func ClassifyForQueue(err error) error {
	var rl *RateLimitError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%w: %v", offline.ErrUnavailable, err)
	case errors.As(err, &rl):
		return offline.Delayed(err, rl.RetryAfter)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConflict),
		errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		return offline.Permanent(err)
	}
	return err
}
