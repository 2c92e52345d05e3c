// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory Store with call counters and an injectable
// failure.
type fakeStore struct {
	mu    sync.Mutex
	items map[string]Snapshot

	gets    int
	puts    int
	getErr  error
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]Snapshot)}
}

func (s *fakeStore) Get(ctx context.Context, userID string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return Snapshot{}, false, s.getErr
	}
	snap, found := s.items[userID]
	return snap, found, nil
}

func (s *fakeStore) Put(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return s.putErr
	}
	s.items[snap.UserID] = snap
	return nil
}

func (s *fakeStore) CleanupExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func TestResolver_TriggerEvidenceAlone(t *testing.T) {
	cache := NewCache(10, time.Minute)
	store := newFakeStore()
	r := NewResolver(cache, store)

	snap := r.Resolve(context.Background(), "u1", Snapshot{ClientIP: "203.0.113.7", UserAgent: "agent"})

	if snap.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", snap.UserID)
	}
	if snap.ClientIP != "203.0.113.7" {
		t.Errorf("ClientIP = %q, want trigger evidence", snap.ClientIP)
	}
	if snap.Quality != QualityFallback {
		t.Errorf("Quality = %q, want fallback for weak evidence", snap.Quality)
	}

	// The result lands in the cache.
	cached, found := cache.Get("u1")
	if !found || cached.ClientIP != "203.0.113.7" {
		t.Errorf("cache write-back missing: found=%v snap=%+v", found, cached)
	}
}

func TestResolver_StoreConsultedOnCacheMiss(t *testing.T) {
	cache := NewCache(10, time.Minute)
	store := newFakeStore()
	store.items["u1"] = Snapshot{UserID: "u1", ClickID: "fb.1.1.a", Quality: QualityReal}
	r := NewResolver(cache, store)

	snap := r.Resolve(context.Background(), "u1", Snapshot{ClientIP: "203.0.113.7"})

	if snap.ClickID != "fb.1.1.a" {
		t.Errorf("ClickID = %q, want cookie recovered from durable store", snap.ClickID)
	}
	if snap.ClientIP != "203.0.113.7" {
		t.Errorf("ClientIP = %q, want trigger evidence merged on top", snap.ClientIP)
	}
	if snap.Quality != QualityReal {
		t.Errorf("Quality = %q, want real", snap.Quality)
	}
}

func TestResolver_RealCacheHitSkipsStore(t *testing.T) {
	cache := NewCache(10, time.Minute)
	store := newFakeStore()
	r := NewResolver(cache, store)

	// Prime the cache to real quality; the first resolve consults the
	// store and writes it up to real.
	r.Resolve(context.Background(), "u1", Snapshot{ClickID: "fb.1.1.a"})
	getsAfterFirst := store.gets

	r.Resolve(context.Background(), "u1", Snapshot{ClientIP: "203.0.113.7"})

	if store.gets != getsAfterFirst {
		t.Errorf("store consulted %d more times on real-quality cache hit, want 0", store.gets-getsAfterFirst)
	}
}

func TestResolver_WriteBackOnlyOnImprovement(t *testing.T) {
	cache := NewCache(10, time.Minute)
	store := newFakeStore()
	r := NewResolver(cache, store)

	// Weak evidence only: no durable write.
	r.Resolve(context.Background(), "u1", Snapshot{ClientIP: "203.0.113.7"})
	if store.puts != 0 {
		t.Errorf("puts = %d after fallback resolve, want 0", store.puts)
	}

	// Cookie arrives: store brought up to real.
	r.Resolve(context.Background(), "u1", Snapshot{BrowserID: "fb.1.1.b"})
	if store.puts != 1 {
		t.Errorf("puts = %d after upgrade to real, want 1", store.puts)
	}
	if stored := store.items["u1"]; stored.Quality != QualityReal {
		t.Errorf("stored quality = %q, want real", stored.Quality)
	}
}

func TestResolver_StoreReadFailureDegrades(t *testing.T) {
	cache := NewCache(10, time.Minute)
	store := newFakeStore()
	store.getErr = errors.New("disk on fire")
	r := NewResolver(cache, store)

	snap := r.Resolve(context.Background(), "u1", Snapshot{ClientIP: "203.0.113.7"})

	// Resolution proceeds on trigger evidence alone.
	if snap.ClientIP != "203.0.113.7" {
		t.Errorf("ClientIP = %q, want trigger evidence despite store failure", snap.ClientIP)
	}
	if snap.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", snap.UserID)
	}
}

func TestResolver_ConcurrentResolvesKeepAllEvidence(t *testing.T) {
	cache := NewCache(10, time.Minute)
	store := newFakeStore()
	r := NewResolver(cache, store)

	// Two triggers for the same user land at once, each carrying one
	// cookie. Both write-backs go through the cache merge, so neither
	// cookie may be lost to the other resolve.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Resolve(context.Background(), "u1", Snapshot{ClickID: "fb.1.1.a"})
	}()
	go func() {
		defer wg.Done()
		r.Resolve(context.Background(), "u1", Snapshot{BrowserID: "fb.1.1.b"})
	}()
	wg.Wait()

	snap, found := cache.Get("u1")
	if !found {
		t.Fatal("Expected u1 in cache after concurrent resolves")
	}
	if snap.ClickID != "fb.1.1.a" {
		t.Errorf("ClickID = %q, want survived concurrent write-back", snap.ClickID)
	}
	if snap.BrowserID != "fb.1.1.b" {
		t.Errorf("BrowserID = %q, want survived concurrent write-back", snap.BrowserID)
	}
}

func TestResolver_SweepTriggerKeepsCachedEvidence(t *testing.T) {
	cache := NewCache(10, time.Minute)
	store := newFakeStore()
	r := NewResolver(cache, store)

	r.Resolve(context.Background(), "u1", Snapshot{ClickID: "fb.1.1.a", UTMSource: "google"})

	// The sweep carries no evidence at all; the snapshot must survive.
	snap := r.Resolve(context.Background(), "u1", Snapshot{})

	if snap.ClickID != "fb.1.1.a" {
		t.Errorf("ClickID = %q, want preserved through empty trigger", snap.ClickID)
	}
	if snap.UTMSource != "google" {
		t.Errorf("UTMSource = %q, want preserved through empty trigger", snap.UTMSource)
	}
}
