// Package notify carries notification-worthy events out of the core.
// Delivery, retries and device tokens belong to whatever sits behind a
// Dispatcher; the core never waits on or fails because of delivery.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Kind string

const (
	PingCreated  Kind = "ping.created"
	PingAccepted Kind = "ping.accepted"
	PingDeclined Kind = "ping.declined"
	MessageSent  Kind = "message.sent"
)

type Event struct {
	Kind       Kind      `json:"kind"`
	ListingID  string    `json:"listing_id"`
	Actor      string    `json:"actor"`
	Recipients []string  `json:"recipients"`
	Payload    any       `json:"payload,omitempty"`
	At         time.Time `json:"at"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, e Event)
}

// Fanout sends every event to each dispatcher in order.
type Fanout []Dispatcher

func (f Fanout) Dispatch(ctx context.Context, e Event) {
	for _, d := range f {
		d.Dispatch(ctx, e)
	}
}

type Nop struct{}

func (Nop) Dispatch(context.Context, Event) {}

// Logger writes every event to a zap logger.
type Logger struct {
	log *zap.Logger
}

func NewLogger(log *zap.Logger) *Logger {
	return &Logger{log: log}
}

func (l *Logger) Dispatch(_ context.Context, e Event) {
	l.log.Info("event",
		zap.String("kind", string(e.Kind)),
		zap.String("listing_id", e.ListingID),
		zap.String("actor", e.Actor),
		zap.Strings("recipients", e.Recipients))
}

// Recorder keeps dispatched events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Dispatch(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what has been dispatched so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds of dispatched events in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}
