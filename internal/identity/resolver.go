// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package identity

import (
	"context"
	"time"

	"github.com/tomtom215/signalbridge/internal/logging"
)

// Resolver merges evidence from the cache, durable storage, and the current
// trigger into one canonical snapshot.
//
// Source order matters: the cache is cheap but volatile, durable storage is
// slower but authoritative across restarts, and the trigger is freshest but
// potentially the weakest signal (a sweep carries no browser evidence at
// all). Durable storage is only consulted when the cache cannot produce a
// real-quality snapshot on its own.
type Resolver struct {
	cache *Cache
	store Store
}

// NewResolver creates a resolver over the given cache and durable store.
func NewResolver(cache *Cache, store Store) *Resolver {
	return &Resolver{cache: cache, store: store}
}

// Resolve returns the best snapshot obtainable for the user right now,
// merging trigger evidence on top of cached and stored state, and writes
// the result back (cache always; durable store only when the merged quality
// improved on what the store held).
//
// Always returns a usable snapshot, even when every source is empty: an
// event can still be attempted with IP and user agent alone. Durable-store
// read failures are logged and degrade to cache-plus-trigger resolution
// rather than failing the pipeline.
func (r *Resolver) Resolve(ctx context.Context, userID string, trigger Snapshot) Snapshot {
	now := time.Now()

	cached, haveCached := r.cache.Get(userID)

	merged := cached
	storedQuality := Quality("")
	consultedStore := false

	if !haveCached || cached.Quality != QualityReal {
		consultedStore = true
		stored, found, err := r.store.Get(ctx, userID)
		if err != nil {
			logging.Warn().Err(err).Str("user_id", userID).Msg("Durable identity read failed, resolving without it")
		} else if found {
			storedQuality = stored.Quality
			// Stored state is the base; cached evidence is fresher.
			merged = Merge(stored, cached)
		}
	}

	merged = Merge(merged, trigger.Touch(now))
	merged.UserID = userID

	// Write back through Put so the final merge into the cache entry runs
	// under the cache lock. Two concurrent resolves for the same user both
	// compute a superset snapshot; merging them serially keeps evidence
	// from both instead of letting the last writer win.
	merged = r.cache.Put(userID, merged)

	// A real-quality cache hit means the store was already brought up to
	// real quality when the snapshot first got there; only write back when
	// the store was consulted and found behind.
	if merged.Quality == QualityReal && consultedStore && storedQuality != QualityReal {
		if err := r.store.Put(ctx, merged); err != nil {
			logging.Warn().Err(err).Str("user_id", userID).Msg("Durable identity write failed")
		}
	}

	return merged
}
