package tick

import (
	"sort"
	"sync"
)

// Registry maps a lock name to the handle renewing it.
// Handles are always cancelled outside the registry lock, a cancel waits for
// the in-flight run and that run may itself be reading the registry.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
	}
}

// Put registers h under name, cancelling whatever was there before.
func (r *Registry) Put(name string, h *Handle) {
	r.mu.Lock()
	prev := r.handles[name]
	r.handles[name] = h
	r.mu.Unlock()

	if prev != nil && prev != h {
		prev.Cancel()
	}
}

func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[name]
	return h, ok
}

// Stop removes and cancels the handle registered under name.
func (r *Registry) Stop(name string) bool {
	r.mu.Lock()
	h, ok := r.handles[name]
	delete(r.handles, name)
	r.mu.Unlock()

	if ok {
		h.Cancel()
	}
	return ok
}

// Remove deletes name only while it still maps to h. It does not cancel h.
func (r *Registry) Remove(name string, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.handles[name]; ok && current == h {
		delete(r.handles, name)
		return true
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// sorted names of every registered lock
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
