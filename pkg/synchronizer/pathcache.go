package synchronizer

import "sync"

// PathCache remembers the winning node path of each held sequence lock.
// Entries are owned by a holder, one holder cannot read or drop another's path.
type PathCache struct {
	mu      sync.RWMutex
	entries map[string]cachedPath // lock name -> winning node
}

type cachedPath struct {
	path   string
	holder string
}

func NewPathCache() *PathCache {
	return &PathCache{
		entries: make(map[string]cachedPath),
	}
}

func (c *PathCache) Put(name, holder, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = cachedPath{path: path, holder: holder}
}

// returns the path cached for name if holder owns it
func (c *PathCache) Get(name, holder string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[name]
	if !ok || entry.holder != holder {
		return "", false
	}
	return entry.path, true
}

// drops the entry for name if holder owns it
func (c *PathCache) Remove(name, holder string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[name]
	if !ok || entry.holder != holder {
		return false
	}
	delete(c.entries, name)
	return true
}

func (c *PathCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
