// Package cache provides the content cache backing tile surfaces, textures
// and decoded payloads. Entries carry a soft TTL measured from their last
// access and an optional disposal callback used to release GPU handles and
// other externally owned resources.
package cache

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// NoExpiry keeps an entry until it is explicitly removed.
const NoExpiry time.Duration = -1

// DefaultTTL is the lifetime tile owners use for content entries.
const DefaultTTL = 240 * time.Second

// OnDelete releases resources owned by an evicted entry. It is called
// exactly once per stored entry, whichever of explicit delete, TTL flush,
// replacement or clear removes it.
type OnDelete func(key string, value any)

// EntryOptions controls how a value is stored.
type EntryOptions struct {
	// TTL is the soft lifetime measured from the last access. Zero makes
	// the entry eligible at the next Flush; NoExpiry disables expiry.
	TTL time.Duration
	// Size is an advisory byte count used for the cache size gauge.
	Size int64
	// OnDelete is invoked when the entry leaves the cache.
	OnDelete OnDelete
}

type entry struct {
	value      any
	size       int64
	ttl        time.Duration
	lastAccess time.Time
	onDelete   OnDelete
}

// Config configures a Cache.
type Config struct {
	// Logger for disposal failures.
	Logger *slog.Logger
}

// Cache is a key/value store with TTL-based eviction. All methods are safe
// for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	size    int64
	enabled bool
	logger  *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an empty, enabled cache.
func New(cfg Config) *Cache {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]entry),
		enabled: true,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

var (
	defaultCache *Cache
	defaultOnce  sync.Once
)

// Default returns the process-wide cache instance.
func Default() *Cache {
	defaultOnce.Do(func() {
		defaultCache = New(Config{})
	})
	return defaultCache
}

// Enabled reports whether the cache stores and serves entries.
func (c *Cache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetEnabled toggles the cache. While disabled, Get reports a miss for
// every key and Set returns the value without storing it.
func (c *Cache) SetEnabled(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = v
}

// Set stores value under key and returns it. A previous entry under the
// same key is disposed before the new value takes effect.
func (c *Cache) Set(key string, value any, opts EntryOptions) any {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return value
	}
	prev, had := c.entries[key]
	c.entries[key] = entry{
		value:      value,
		size:       opts.Size,
		ttl:        opts.TTL,
		lastAccess: c.now(),
		onDelete:   opts.OnDelete,
	}
	c.size += opts.Size
	if had {
		c.size -= prev.size
	}
	c.mu.Unlock()

	if had {
		c.dispose(key, prev)
	}
	return value
}

// Get returns the value stored under key and refreshes its last access
// time. The second return is false on a miss or when the cache is disabled.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return nil, false
	}
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e.lastAccess = c.now()
	c.entries[key] = e
	return e.value, true
}

// Delete removes key and disposes its entry. Removing an absent key is a
// no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		c.size -= e.size
	}
	c.mu.Unlock()
	if ok {
		c.dispose(key, e)
	}
}

// DeletePrefix removes every entry whose key starts with prefix and
// returns the number of removed entries.
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	removed := make(map[string]entry)
	for k, e := range c.entries {
		if strings.HasPrefix(k, prefix) {
			removed[k] = e
			delete(c.entries, k)
			c.size -= e.size
		}
	}
	c.mu.Unlock()
	for k, e := range removed {
		c.dispose(k, e)
	}
	return len(removed)
}

// Clear removes every entry, disposing each one.
func (c *Cache) Clear() {
	c.mu.Lock()
	removed := c.entries
	c.entries = make(map[string]entry)
	c.size = 0
	c.mu.Unlock()
	for k, e := range removed {
		c.dispose(k, e)
	}
}

// Flush removes entries whose TTL has elapsed since their last access and
// returns the number of evicted entries.
func (c *Cache) Flush() int {
	now := c.now()
	c.mu.Lock()
	removed := make(map[string]entry)
	for k, e := range c.entries {
		if e.ttl < 0 {
			continue
		}
		if now.Sub(e.lastAccess) > e.ttl {
			removed[k] = e
			delete(c.entries, k)
			c.size -= e.size
		}
	}
	c.mu.Unlock()
	for k, e := range removed {
		c.dispose(k, e)
	}
	return len(removed)
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Size returns the advisory byte total of stored entries.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// dispose runs an entry's callback outside the cache lock. A panicking
// callback must not prevent other entries from being disposed.
func (c *Cache) dispose(key string, e entry) {
	if e.onDelete == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cache onDelete panicked", "key", key, "panic", r)
		}
	}()
	e.onDelete(key, e.value)
}
