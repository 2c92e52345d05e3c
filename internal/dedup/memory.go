// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package dedup

import (
	"sync"
	"time"
)

// memEntry is a node in the fast tier's recency list.
type memEntry struct {
	key       string
	prev      *memEntry
	next      *memEntry
	expiresAt time.Time
}

// MemoryTier is the in-process claim map: a bounded LRU keyed by
// "eventID|channel" with a short TTL. Check-and-set under one lock closes
// the race between two near-simultaneous triggers inside one process.
type MemoryTier struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration

	items map[string]*memEntry
	head  *memEntry
	tail  *memEntry
}

// NewMemoryTier creates the fast tier with the given capacity and TTL.
func NewMemoryTier(capacity int, ttl time.Duration) *MemoryTier {
	if capacity <= 0 {
		capacity = 100000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	t := &MemoryTier{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*memEntry, capacity),
		head:     &memEntry{},
		tail:     &memEntry{},
	}
	t.head.next = t.tail
	t.tail.prev = t.head
	return t
}

// ClaimIfAbsent records the key if it is not already held. Returns true
// when this caller won the claim.
func (t *MemoryTier) ClaimIfAbsent(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()

	if entry, exists := t.items[key]; exists {
		if !now.After(entry.expiresAt) {
			t.moveToFront(entry)
			return false
		}
		t.removeEntry(entry)
	}

	entry := &memEntry{
		key:       key,
		expiresAt: now.Add(t.ttl),
	}
	t.addToFront(entry)
	t.items[key] = entry

	for len(t.items) > t.capacity {
		t.evictOldest()
	}

	return true
}

// Release removes a claim, allowing the key to be claimed again.
func (t *MemoryTier) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.items[key]; exists {
		t.removeEntry(entry)
	}
}

// Len returns the current number of held claims.
func (t *MemoryTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// CleanupExpired purges expired claims and returns how many were removed.
func (t *MemoryTier) CleanupExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	removed := 0

	for entry := t.tail.prev; entry != t.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			t.removeEntry(entry)
			removed++
		}
		entry = prev
	}

	return removed
}

// Internal list operations (lock held).

func (t *MemoryTier) addToFront(entry *memEntry) {
	entry.prev = t.head
	entry.next = t.head.next
	t.head.next.prev = entry
	t.head.next = entry
}

func (t *MemoryTier) moveToFront(entry *memEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	t.addToFront(entry)
}

func (t *MemoryTier) removeEntry(entry *memEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(t.items, entry.key)
}

func (t *MemoryTier) evictOldest() {
	oldest := t.tail.prev
	if oldest == t.head {
		return
	}
	t.removeEntry(oldest)
}
