// ABOUTME: Thread-safe TTL cache for terminal run results keyed by idempotency key.
// ABOUTME: First write per key wins; later requests with the same key replay the stored payload.

package dedupe

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

// Result is the terminal outcome remembered for an idempotency key.
type Result struct {
	OK      bool
	Payload json.RawMessage
	SavedAt time.Time
}

// cacheEntry stores the result and list element for a cached key.
type cacheEntry struct {
	result  Result
	element *list.Element
}

// Cache provides a thread-safe, TTL-based, size-limited cache of terminal
// run results. Results are written exactly once per key (first write wins)
// and read freely afterward; readers never block writers.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	results map[string]*cacheEntry
	order   *list.List // List of keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		results: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Lookup returns the stored terminal result for key, if present and not
// expired.
func (c *Cache) Lookup(key string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.results[key]
	if !ok {
		return Result{}, false
	}
	if time.Since(entry.result.SavedAt) >= c.ttl {
		return Result{}, false
	}
	return entry.result, true
}

// Store records the terminal result for key. The first write for a key wins;
// a second write is ignored and Store returns false. If the cache is at
// capacity, the oldest entry is evicted to make room.
func (c *Cache) Store(key string, ok bool, payload json.RawMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.results[key]; exists {
		if time.Since(entry.result.SavedAt) < c.ttl {
			return false // Terminal result already recorded
		}
		// Expired entry: drop it and let the new result take the slot
		c.order.Remove(entry.element)
		delete(c.results, key)
	}

	// Evict oldest if at capacity
	if len(c.results) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.results[key] = &cacheEntry{
		result: Result{
			OK:      ok,
			Payload: payload,
			SavedAt: time.Now(),
		},
		element: elem,
	}
	return true
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held. O(1) operation using linked list.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.results, key)
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

	now := time.Now()
	for key, entry := range c.results {
		if now.Sub(entry.result.SavedAt) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.results, key)
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
