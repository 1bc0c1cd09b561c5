package engine

import (
	"sync"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/store"
)

// cacheKey identifies a container. A pinned snapshot never changes what it
// shows, so the same key always maps to the same container.
type cacheKey struct {
	definition ir.CID
	params     string
	snapshot   store.Snapshot
}

// ResultCache is a bounded FIFO cache of containers computed at pinned
// snapshots.
//
// Thread-safety: ResultCache is safe for concurrent use via internal mutex.
type ResultCache struct {
	mu      sync.Mutex
	max     int
	order   []cacheKey
	entries map[cacheKey]*Container
	hits    int
}

// NewResultCache creates a cache holding at most n containers. A cache with
// n <= 0 stores nothing.
func NewResultCache(n int) *ResultCache {
	return &ResultCache{max: n, entries: map[cacheKey]*Container{}}
}

// Get returns the cached container for key.
func (c *ResultCache) Get(key cacheKey) (*Container, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return v, ok
}

// Put stores a container, evicting the oldest entry when full.
func (c *ResultCache) Put(key cacheKey, v *Container) {
	if c == nil || c.max <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	for len(c.order) >= c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.order = append(c.order, key)
	c.entries[key] = v
}

// Len returns the number of cached containers.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Hits returns how many lookups were served from the cache.
func (c *ResultCache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}
