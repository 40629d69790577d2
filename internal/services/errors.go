package services

import (
	"errors"
	"fmt"
	"time"

	"marketplace-backend/internal/ratelimit"
	"marketplace-backend/internal/store"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var (
	ErrPingPending        = &ConflictError{Reason: "a ping for this listing is already pending"}
	ErrAlreadyDecided     = &ConflictError{Reason: "ping has already been answered"}
	ErrConversationClosed = &ConflictError{Reason: "conversation is closed"}
)

// ValidationError reports malformed input. It is never worth retrying.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RateLimitError carries how long the caller should wait before trying
// the same action again.
type RateLimitError struct {
	Action     ratelimit.Action
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Action, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfterMs is RetryAfter in whole milliseconds, at least 1.
func (e *RateLimitError) RetryAfterMs() int64 {
	if ms := e.RetryAfter.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// lookup maps store.ErrNotFound onto ErrNotFound and wraps anything else.
func lookup(what string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}
