package tick

import (
	"context"
	"sync"
	"time"
)

// Manual is a Scheduler whose tasks only run when Tick is called.
// Intervals are recorded but ignored.
type Manual struct {
	mu      sync.Mutex
	handles []*Handle
}

var _ Scheduler = (*Manual)(nil)

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Every(name string, interval time.Duration, task Task) *Handle {
	h := newHandle(context.Background(), name, interval, task)

	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()
	return h
}

// Tick runs every live task once on the calling goroutine, in registration
// order, and returns the errors they returned keyed by task name.
func (m *Manual) Tick() map[string]error {
	errs := make(map[string]error)
	for _, h := range m.Live() {
		if _, err := h.run(); err != nil {
			errs[h.name] = err
		}
	}
	return errs
}

// Live returns the handles that have not been cancelled and forgets the rest.
func (m *Manual) Live() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.handles[:0]
	for _, h := range m.handles {
		if !h.Cancelled() {
			live = append(live, h)
		}
	}
	m.handles = live
	return append([]*Handle(nil), live...)
}
