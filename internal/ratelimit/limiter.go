// Package ratelimit throttles actions per user and action kind with a fixed
// window. The count lives in a shared Store and is advanced by one atomic
// operation there, so two devices of the same user cannot both slip under
// the limit.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Action string

const (
	ActionPing    Action = "ping"
	ActionMessage Action = "message"
)

// Policy allows Capacity actions per Window.
type Policy struct {
	Capacity int
	Window   time.Duration
}

// FailureMode decides the answer when the Store cannot be reached.
type FailureMode string

const (
	FailOpen   FailureMode = "open"
	FailClosed FailureMode = "closed"
)

// ParseFailureMode accepts "open" or "closed".
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(s) {
	case FailOpen, FailClosed:
		return FailureMode(s), nil
	}
	return "", fmt.Errorf("ratelimit: unknown failure mode %q", s)
}

// Window is the state of one counter right after an increment.
type Window struct {
	Count   int64
	ResetIn time.Duration
}

// Store holds the authoritative counters.
type Store interface {
	// Incr atomically increments the counter at key, starting a new window
	// of the given length when the previous one has elapsed.
	Incr(ctx context.Context, key string, window time.Duration) (Window, error)
}

// Decision is the result of a limit check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	RetryAfter time.Duration `json:"-"`
	// RetryAfterMs mirrors RetryAfter for JSON clients.
	RetryAfterMs int64 `json:"retryAfterMs,omitempty"`
}

type Options struct {
	Policies    map[Action]Policy
	FailureMode FailureMode
	Logger      *zap.Logger
}

type Limiter struct {
	store    Store
	policies map[Action]Policy
	mode     FailureMode
	log      *zap.Logger
}

// New builds a limiter. The failure mode has no default: it must be
// chosen by the deployment.
func New(store Store, opts Options) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: nil store")
	}
	if _, err := ParseFailureMode(string(opts.FailureMode)); err != nil {
		return nil, err
	}
	for action, p := range opts.Policies {
		if p.Capacity <= 0 || p.Window <= 0 {
			return nil, fmt.Errorf("ratelimit: invalid policy for %s", action)
		}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{store: store, policies: opts.Policies, mode: opts.FailureMode, log: log}, nil
}

// Check counts one attempt of action by user and reports whether it is
// allowed. Actions without a policy are always allowed.
func (l *Limiter) Check(ctx context.Context, user string, action Action) (Decision, error) {
	policy, ok := l.policies[action]
	if !ok {
		return Decision{Allowed: true}, nil
	}

	w, err := l.store.Incr(ctx, key(user, action), policy.Window)
	if err != nil {
		l.log.Warn("rate limit store unavailable",
			zap.String("user", user),
			zap.String("action", string(action)),
			zap.String("failure_mode", string(l.mode)),
			zap.Error(err))
		if l.mode == FailOpen {
			return Decision{Allowed: true}, nil
		}
		return deny(policy.Window), nil
	}

	if w.Count <= int64(policy.Capacity) {
		return Decision{Allowed: true}, nil
	}
	return deny(w.ResetIn), nil
}

func deny(retryAfter time.Duration) Decision {
	if retryAfter < time.Millisecond {
		retryAfter = time.Millisecond
	}
	return Decision{Allowed: false, RetryAfter: retryAfter, RetryAfterMs: retryAfter.Milliseconds()}
}

func key(user string, action Action) string {
	return "ratelimit:" + string(action) + ":" + user
}
