// Package cache is an in-memory TTL cache satisfying interfaces.Cache.
package cache

import (
	"sync"
	"time"

	"llm-autotrader/internal/interfaces"
)

type entry struct {
	value   any
	expires time.Time
}

// TTL is a best-effort cache. Expired entries are dropped on read and by Sweep.
type TTL struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

var _ interfaces.Cache = (*TTL)(nil)

func New() *TTL {
	return &TTL{entries: make(map[string]entry), now: time.Now}
}

func (c *TTL) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		c.Delete(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value for ttlSeconds. A non-positive ttl is a no-op.
func (c *TTL) Set(key string, value any, ttlSeconds int) {
	if ttlSeconds <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expires: c.now().Add(time.Duration(ttlSeconds) * time.Second)}
	c.mu.Unlock()
}

func (c *TTL) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Sweep removes expired entries and returns how many were removed.
func (c *TTL) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *TTL) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
