package services

import (
	"context"
	"fmt"

	"marketplace-backend/internal/ratelimit"
)

// Limiter is the part of ratelimit.Limiter the services depend on.
type Limiter interface {
	Check(ctx context.Context, user string, action ratelimit.Action) (ratelimit.Decision, error)
}

// admit counts one attempt of action by user and turns a rejection into a
// *RateLimitError.
func admit(ctx context.Context, l Limiter, user string, action ratelimit.Action) error {
	d, err := l.Check(ctx, user, action)
	if err != nil {
		return fmt.Errorf("check rate limit: %w", err)
	}
	if !d.Allowed {
		return &RateLimitError{Action: action, RetryAfter: d.RetryAfter}
	}
	return nil
}
