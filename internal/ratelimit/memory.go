package ratelimit

import (
	"context"
	"sync"
	"time"

	"marketplace-backend/internal/clock"
)

type memoryCounter struct {
	start time.Time
	count int64
}

// MemoryStore keeps counters in process. It is authoritative only when a
// single server instance handles all traffic.
type MemoryStore struct {
	mu       sync.Mutex
	clock    clock.Clock
	counters map[string]*memoryCounter
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{clock: clk, counters: make(map[string]*memoryCounter)}
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.start.Add(window)) {
		c = &memoryCounter{start: now}
		s.counters[key] = c
	}
	c.count++
	return Window{Count: c.count, ResetIn: c.start.Add(window).Sub(now)}, nil
}
