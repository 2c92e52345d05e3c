// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package identity

import (
	"sync"
	"time"
)

// cacheEntry is a node in the cache's doubly-linked recency list.
type cacheEntry struct {
	userID    string
	snapshot  Snapshot
	prev      *cacheEntry
	next      *cacheEntry
	expiresAt time.Time
}

// Cache is a thread-safe, bounded LRU of identity snapshots with TTL.
//
// Put merges under the cache lock, so concurrent evidence for the same user
// is serialized and read-modify-write updates are never lost. Uses a
// doubly-linked list plus hashmap for O(1) get, put, and eviction.
type Cache struct {
	mu sync.RWMutex

	capacity int
	ttl      time.Duration

	items map[string]*cacheEntry

	// head.next is most recently touched, tail.prev least.
	head *cacheEntry
	tail *cacheEntry

	hits   int64
	misses int64
}

// NewCache creates a snapshot cache with the given capacity and retention
// window.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	c := &Cache{
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

// Get returns the current snapshot for the user, or false when the user is
// unknown or the entry has expired. Found entries become most recently
// touched.
func (c *Cache) Get(userID string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[userID]
	if !exists {
		c.misses++
		return Snapshot{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeEntry(entry)
		c.misses++
		return Snapshot{}, false
	}

	c.moveToFront(entry)
	c.hits++
	return entry.snapshot, true
}

// Put merges evidence into the stored snapshot under the quality-precedence
// rule, refreshes the entry's expiry, and returns the merged result. The
// merge runs under the cache lock so per-user updates are serialized.
//
// An empty userID is a caller contract violation; the evidence is dropped.
func (c *Cache) Put(userID string, evidence Snapshot) Snapshot {
	if userID == "" {
		return Snapshot{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expiresAt := now.Add(c.ttl)

	if entry, exists := c.items[userID]; exists {
		if now.After(entry.expiresAt) {
			entry.snapshot = Snapshot{UserID: userID}
		}
		entry.snapshot = Merge(entry.snapshot, evidence.Touch(now))
		entry.snapshot.UserID = userID
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		return entry.snapshot
	}

	snap := evidence.Touch(now)
	snap.UserID = userID
	entry := &cacheEntry{
		userID:    userID,
		snapshot:  snap,
		expiresAt: expiresAt,
	}
	c.addToFront(entry)
	c.items[userID] = entry

	for len(c.items) > c.capacity {
		c.evictOldest()
	}

	return snap
}

// Len returns the current number of tracked users.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns hit/miss counts and current size.
func (c *Cache) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.items)
}

// CleanupExpired removes all expired entries and returns how many were
// purged. Called by the retention sweep.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0

	for entry := c.tail.prev; entry != c.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			c.removeEntry(entry)
			removed++
		}
		entry = prev
	}

	return removed
}

// Internal list operations (lock held).

func (c *Cache) addToFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *Cache) moveToFront(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *Cache) removeEntry(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.userID)
}

func (c *Cache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
}
