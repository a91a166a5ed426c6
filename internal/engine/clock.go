package engine

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// SessionClock derives the remaining time of an attempt from an absolute
// deadline. Remaining time is recomputed from the clock on every read and is
// never decremented by ticks, so throttled or suspended timers cannot drift it.
type SessionClock struct {
	clock clockwork.Clock

	mu       sync.RWMutex
	deadline time.Time
	armed    bool
}

func NewSessionClock(clock clockwork.Clock) *SessionClock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionClock{clock: clock}
}

// Arm sets deadline = now + remaining. Only the first call has an effect;
// later adjustments must come through Resync.
func (c *SessionClock) Arm(remaining time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.armed {
		return false
	}
	c.set(remaining)
	return true
}

// Resync recomputes the deadline from an authoritative remaining time.
func (c *SessionClock) Resync(remaining time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(remaining)
}

func (c *SessionClock) set(remaining time.Duration) {
	if remaining < 0 {
		remaining = 0
	}
	c.deadline = c.clock.Now().Add(remaining)
	c.armed = true
}

func (c *SessionClock) Deadline() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deadline
}

// Remaining returns max(0, deadline - now). An unarmed clock reports zero.
func (c *SessionClock) Remaining() time.Duration {
	return c.RemainingAt(c.clock.Now())
}

func (c *SessionClock) RemainingAt(t time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.armed {
		return 0
	}
	if d := c.deadline.Sub(t); d > 0 {
		return d
	}
	return 0
}

func (c *SessionClock) Expired() bool {
	return c.Remaining() == 0
}

// stopAndDrainTimer stops a timer and drains its channel so a later Reset
// does not deliver a stale fire.
func stopAndDrainTimer(timer clockwork.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
