package service

import (
	"sync"

	"github.com/stemsi/exstem-attempt/internal/engine"
)

const subscriberBuffer = 32

// hub fans engine events out to the stream connections of one session.
// Slow subscribers miss events instead of stalling the engine loop.
type hub struct {
	mu     sync.Mutex
	subs   map[chan engine.Event]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan engine.Event]struct{})}
}

func (h *hub) subscribe() (<-chan engine.Event, func()) {
	ch := make(chan engine.Event, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

func (h *hub) broadcast(ev engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// close ends every subscription.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
