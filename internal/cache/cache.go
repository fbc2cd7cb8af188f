// Package cache contains a bounded cache of matching results.
package cache

import (
	"fmt"
	"sync"
)

// Bounded is a cache with a fixed capacity.  When a new key is added to a full
// cache, the cache is cleared first.  It is safe for concurrent use.
type Bounded[K comparable, V any] struct {
	// mu protects entries.
	mu *sync.Mutex

	// entries are the cached values.
	entries map[K]V

	// capacity is the maximum number of entries.
	capacity int
}

// New returns a new *Bounded with the given capacity.  It panics if capacity
// is less than one.
func New[K comparable, V any](capacity int) (c *Bounded[K, V]) {
	if capacity < 1 {
		panic(fmt.Errorf("cache: capacity: %w: %d", ErrCapacity, capacity))
	}

	return &Bounded[K, V]{
		mu:       &sync.Mutex{},
		entries:  make(map[K]V, capacity),
		capacity: capacity,
	}
}

// Get returns the cached value for key.
func (c *Bounded[K, V]) Get(key K) (v V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok = c.entries[key]

	return v, ok
}

// Set stores the value for key.  If key is new and the cache is full, all
// entries are dropped before storing.
func (c *Bounded[K, V]) Set(key K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.capacity {
		clear(c.entries)
	}

	c.entries[key] = v
}

// Clear drops all entries.
func (c *Bounded[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
}

// Len returns the number of cached entries.
func (c *Bounded[K, V]) Len() (n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Capacity returns the maximum number of entries.
func (c *Bounded[K, V]) Capacity() (n int) {
	return c.capacity
}
