// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package store

import (
	"sync"
	"time"
)

type cacheEntry struct {
	key       string
	saved     bool
	expiresAt time.Time
	prev      *cacheEntry
	next      *cacheEntry
}

// ExistenceCache is a capped LRU with TTL answering "has this user saved this
// entity". Negative answers are cached too.
//
// A doubly-linked list orders entries by recency (head.next is newest) and a
// map gives O(1) lookup; eviction drops tail.prev.
type ExistenceCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*cacheEntry
	head     *cacheEntry
	tail     *cacheEntry

	hits   int64
	misses int64

	// writes counts Set and Invalidate calls. Fill compares it to the value
	// read before the database lookup.
	writes uint64
}

// NewExistenceCache creates a cache. Non-positive arguments fall back to
// 1024 entries and 10 minutes.
func NewExistenceCache(capacity int, ttl time.Duration) *ExistenceCache {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c := &ExistenceCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*cacheEntry, capacity),
		head:     &cacheEntry{},
		tail:     &cacheEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

func cacheKey(userID, entityID string) string {
	return userID + "\x00" + entityID
}

// Get returns the cached answer and whether one was present and fresh.
func (c *ExistenceCache) Get(userID, entityID string) (saved, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[cacheKey(userID, entityID)]
	if !exists {
		c.misses++
		return false, false
	}
	if time.Now().After(entry.expiresAt) {
		c.unlink(entry)
		c.misses++
		return false, false
	}
	c.moveToFront(entry)
	c.hits++
	return entry.saved, true
}

// Generation returns the write counter. Read it before a database lookup and
// pass it to Fill.
func (c *ExistenceCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// Fill records a database answer unless a write landed since gen was read.
// It reports whether the answer was stored.
func (c *ExistenceCache) Fill(userID, entityID string, saved bool, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writes != gen {
		return false
	}
	c.store(cacheKey(userID, entityID), saved)
	return true
}

// Set records the answer of a committed write, evicting the least recently
// used entry when full.
func (c *ExistenceCache) Set(userID, entityID string, saved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	c.store(cacheKey(userID, entityID), saved)
}

func (c *ExistenceCache) store(key string, saved bool) {
	expiresAt := time.Now().Add(c.ttl)

	if entry, exists := c.items[key]; exists {
		entry.saved = saved
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		return
	}

	entry := &cacheEntry{key: key, saved: saved, expiresAt: expiresAt}
	c.pushFront(entry)
	c.items[key] = entry

	for len(c.items) > c.capacity {
		oldest := c.tail.prev
		if oldest == c.head {
			break
		}
		c.unlink(oldest)
	}
}

// Invalidate drops every cached answer.
func (c *ExistenceCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	c.items = make(map[string]*cacheEntry, c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// CleanupExpired removes expired entries and returns how many were removed.
func (c *ExistenceCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for entry := c.tail.prev; entry != c.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			c.unlink(entry)
			removed++
		}
		entry = prev
	}
	return removed
}

// Stats returns hit/miss counters and current size.
func (c *ExistenceCache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.items)
}

// The helpers below must be called with mu held.

func (c *ExistenceCache) pushFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *ExistenceCache) moveToFront(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.pushFront(entry)
}

func (c *ExistenceCache) unlink(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}
