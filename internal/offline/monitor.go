package offline

import "sync"

// Monitor tracks connectivity and signals subscribers whenever it comes
// back.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[chan struct{}]struct{}
}

func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online, subs: make(map[chan struct{}]struct{})}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records the connectivity state. Going from offline to online
// signals every subscriber.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	restored := online && !m.online
	m.online = online
	if !restored {
		return
	}
	for ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel that receives after each reconnect, and a
// function that stops the subscription.
func (m *Monitor) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		delete(m.subs, ch)
		m.mu.Unlock()
	}
}
