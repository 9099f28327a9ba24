// Package cache provides stores for memoized API results.
package cache

import (
	"sync"
)

// Store memoizes computed values by key.
type Store interface {
	// Fetch returns the value stored under key, or runs compute and stores
	// its result. Errors from compute are returned and not stored.
	Fetch(key string, compute func() (interface{}, error)) (interface{}, error)
	// Delete forgets key. Deleting a missing key is not an error.
	Delete(key string)
}

type entry struct {
	value      interface{}
	lastAccess uint64
}

// Memory is a bounded in-memory Store evicting the least recently used key.
type Memory struct {
	maxEntries int

	mu      sync.Mutex
	entries map[string]*entry
	clock   uint64
	hits    int64
	misses  int64
}

// New creates a memory store holding at most maxEntries values. A
// non-positive maxEntries means unbounded.
func New(maxEntries int) *Memory {
	return &Memory{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

// Get returns the value stored under key.
func (c *Memory) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.clock++
	e.lastAccess = c.clock
	return e.value, true
}

// Put stores value under key, evicting old entries when full.
func (c *Memory) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, value)
}

// Must be called with lock held.
func (c *Memory) put(key string, value interface{}) {
	c.clock++
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.lastAccess = c.clock
		return
	}
	for c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if !c.evictOldest() {
			break
		}
	}
	c.entries[key] = &entry{value: value, lastAccess: c.clock}
}

// Fetch implements Store. compute runs without the lock held, so concurrent
// misses on one key may both compute; the last writer wins.
func (c *Memory) Fetch(key string, compute func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.clock++
		e.lastAccess = c.clock
		c.hits++
		c.mu.Unlock()
		return e.value, nil
	}
	c.misses++
	c.mu.Unlock()

	value, err := compute()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.put(key, value)
	c.mu.Unlock()
	return value, nil
}

// Delete implements Store.
func (c *Memory) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// evictOldest removes the least recently used entry.
// Must be called with lock held.
func (c *Memory) evictOldest() bool {
	var oldest *entry
	var oldestKey string

	for key, e := range c.entries {
		if oldest == nil || e.lastAccess < oldest.lastAccess {
			oldest = e
			oldestKey = key
		}
	}

	if oldest == nil {
		return false
	}
	delete(c.entries, oldestKey)
	return true
}

// Stats returns the entry count and the hit/miss counters of Fetch.
func (c *Memory) Stats() (count int, hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.hits, c.misses
}

// Len returns the number of stored entries.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes every entry and returns how many were dropped.
func (c *Memory) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*entry)
	return n
}

// Contains reports whether key is stored.
func (c *Memory) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}
