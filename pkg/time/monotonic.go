package time

import (
	"sync"
	"time"
)

// a Clock reports monotonic time elapsed since it was created
// stores use it to compute lease expiry, tests swap in a Manual clock
type Clock interface {
	Elapsed() time.Duration
}

// monotonic provides time since store start
// time.Since uses the monotonic clock under the hood, so wall clock jumps do not move leases
type monotonic struct {
	startTime time.Time
}

func NewClock() Clock {
	return &monotonic{
		startTime: time.Now(),
	}
}

// duration since store start
func (c *monotonic) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

// returns the expiration time given a TTL
// expiration time is monotonic time since store start
func ExpiresAt(c Clock, ttl time.Duration) time.Duration {
	return c.Elapsed() + ttl
}

// Manual is a Clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

func NewManualClock() *Manual {
	return &Manual{}
}

func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// moves the clock forward by d
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
}
