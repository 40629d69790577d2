// Package offline parks ping and message sends made while the network is
// down and replays them once connectivity returns.
package offline

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by an Executor when the server cannot be
// reached. It is never charged against an item's retries.
var ErrUnavailable = errors.New("offline: network unavailable")

type Kind string

const (
	KindPing    Kind = "ping"
	KindMessage Kind = "message"
)

// Action is a deferred send. Pings use ListingID and Receiver, messages
// use ChatID.
type Action struct {
	Kind      Kind   `cbor:"kind"`
	Sender    string `cbor:"sender"`
	ListingID string `cbor:"listing_id,omitempty"`
	Receiver  string `cbor:"receiver,omitempty"`
	ChatID    string `cbor:"chat_id,omitempty"`
	Text      string `cbor:"text"`
}

func (a Action) validate() error {
	switch a.Kind {
	case KindPing:
		if a.ListingID == "" || a.Receiver == "" {
			return errors.New("offline: ping action needs listing and receiver")
		}
	case KindMessage:
		if a.ChatID == "" {
			return errors.New("offline: message action needs a chat")
		}
	default:
		return errors.New("offline: unknown action kind " + string(a.Kind))
	}
	if a.Sender == "" {
		return errors.New("offline: action needs a sender")
	}
	return nil
}

// Item is a queued action with its scheduling state.
type Item struct {
	ID            string    `cbor:"id"`
	Seq           uint64    `cbor:"seq"`
	Action        Action    `cbor:"action"`
	Priority      int       `cbor:"priority"`
	RetryCount    int       `cbor:"retry_count"`
	EnqueuedAt    time.Time `cbor:"enqueued_at"`
	NextAttemptAt time.Time `cbor:"next_attempt_at"`
	LastError     string    `cbor:"last_error,omitempty"`
}

// Executor performs an action against the server.
type Executor interface {
	Execute(ctx context.Context, a Action) error
}

type ExecutorFunc func(ctx context.Context, a Action) error

func (f ExecutorFunc) Execute(ctx context.Context, a Action) error { return f(ctx, a) }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type delayedError struct {
	err  error
	wait time.Duration
}

func (e *delayedError) Error() string { return e.err.Error() }
func (e *delayedError) Unwrap() error { return e.err }

// Delayed marks err as retryable no sooner than wait from now.
func Delayed(err error, wait time.Duration) error {
	if err == nil {
		return nil
	}
	return &delayedError{err: err, wait: wait}
}

func minWait(err error) time.Duration {
	var d *delayedError
	if errors.As(err, &d) {
		return d.wait
	}
	return 0
}
