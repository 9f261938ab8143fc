// ABOUTME: Thread-safe TTL cache for idempotent request handling.
// ABOUTME: Remembers the result of keyed requests so client retries do not repeat side effects.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// State is the outcome of reserving a key.
type State int

const (
	// Reserved means the key was new; the caller owns it and must Complete or Forget it.
	Reserved State = iota
	// InFlight means another request holding the same key has not finished yet.
	InFlight
	// Done means the key already completed; the stored value is returned.
	Done
)

// cacheEntry stores the timestamp, result, and list element for a cached key.
type cacheEntry struct {
	timestamp time.Time
	value     string
	done      bool
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited idempotency cache.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Key scopes a client-supplied idempotency key to the user that sent it.
func Key(userID, idempotencyKey string) string {
	return userID + "\x00" + idempotencyKey
}

// Reserve atomically claims key. When the key already completed within the
// TTL, its value is returned with Done. A reservation that is neither
// completed nor forgotten expires after the TTL.
func (c *Cache) Reserve(key string) (string, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && c.now().Sub(entry.timestamp) < c.ttl {
		if entry.done {
			return entry.value, Done
		}
		return "", InFlight
	}

	c.storeLocked(key, "", false)
	return "", Reserved
}

// Complete records the result for a reserved key.
func (c *Cache) Complete(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(key, value, true)
}

// Forget releases a reservation so the request can be retried.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of cached keys, including expired ones not yet cleaned up.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// storeLocked sets the entry for key. Must be called with mu held.
func (c *Cache) storeLocked(key, value string, done bool) {
	now := c.now()

	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		entry.value = value
		entry.done = done
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		timestamp: now,
		value:     value,
		done:      done,
		element:   elem,
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
