// Package cache provides the process-wide key-value store with TTL
// used for provider tokens, show-id lookups and refiner results.
// Construct one at startup and pass it to the components that need it.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Cache is an in-memory store with per-entry expiry. A miss always
// means recompute, never failure.
type Cache struct {
	mu       sync.RWMutex
	items    map[string]item
	ttl      time.Duration
	maxItems int

	stop     chan struct{}
	stopOnce sync.Once
}

type item struct {
	value     interface{}
	expiresAt time.Time
}

// Config holds cache configuration.
type Config struct {
	TTL      time.Duration
	MaxItems int
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:      15 * time.Minute,
		MaxItems: 1000,
	}
}

// New creates a cache and starts its expiry sweeper. Call Close when
// done.
func New(cfg Config) *Cache {
	if cfg.TTL == 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.MaxItems == 0 {
		cfg.MaxItems = 1000
	}

	c := &Cache{
		items:    make(map[string]item),
		ttl:      cfg.TTL,
		maxItems: cfg.MaxItems,
		stop:     make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Close stops the expiry sweeper. Idempotent.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Key joins parts into a namespaced cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Get retrieves a live entry.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || time.Now().After(it.expiresAt) {
		return nil, false
	}
	return it.value, true
}

// GetString retrieves a live string entry.
func (c *Cache) GetString(key string) (string, bool) {
	v, ok := c.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt retrieves a live int entry.
func (c *Cache) GetInt(key string) (int, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a specific TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.maxItems {
		c.evict()
	}
	c.items[key] = item{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes an entry.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]item)
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evict drops expired entries, then the soonest-to-expire tenth if the
// cache is still full. Callers must hold the write lock.
func (c *Cache) evict() {
	now := time.Now()
	for key, it := range c.items {
		if now.After(it.expiresAt) {
			delete(c.items, key)
		}
	}
	if len(c.items) < c.maxItems {
		return
	}

	toRemove := c.maxItems / 10
	if toRemove < 1 {
		toRemove = 1
	}
	for i := 0; i < toRemove; i++ {
		var oldestKey string
		var oldestAt time.Time
		for key, it := range c.items {
			if oldestKey == "" || it.expiresAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = it.expiresAt
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.items, oldestKey)
	}
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, it := range c.items {
				if now.After(it.expiresAt) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
