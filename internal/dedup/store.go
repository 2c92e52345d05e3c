// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package dedup

import (
	"context"
	"time"

	"github.com/tomtom215/signalbridge/internal/event"
	"github.com/tomtom215/signalbridge/internal/logging"
)

// TwoTier combines the in-process fast tier with the durable badger tier.
//
// Order of consultation: fast tier first because it is the cheapest path
// for the common near-simultaneous double-fire, durable tier second as the
// cross-process final arbiter. Pure in-memory dedup cannot survive restarts
// or multiple workers; pure durable dedup would put a disk transaction on
// every hot-path check.
type TwoTier struct {
	fast       *MemoryTier
	durable    *BadgerTier
	durableTTL time.Duration
}

// NewTwoTier creates the combined ledger.
func NewTwoTier(fast *MemoryTier, durable *BadgerTier, durableTTL time.Duration) *TwoTier {
	if durableTTL <= 0 {
		durableTTL = 48 * time.Hour
	}
	return &TwoTier{
		fast:       fast,
		durable:    durable,
		durableTTL: durableTTL,
	}
}

// fastKey scopes the in-process tier per channel; the durable tier keys on
// the event id alone.
func fastKey(eventID string, channel string) string {
	return eventID + "|" + channel
}

// Claim implements Store.
func (s *TwoTier) Claim(ctx context.Context, c Claim) (Result, error) {
	now := time.Now()
	if c.ClaimedAt.IsZero() {
		c.ClaimedAt = now
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = now.Add(s.durableTTL)
	}

	key := fastKey(c.EventID, string(c.Channel))

	if !s.fast.ClaimIfAbsent(key) {
		ClaimsTotal.WithLabelValues("fast", "duplicate").Inc()
		return Result{Claimed: false, Reason: ReasonDuplicate}, nil
	}
	ClaimsTotal.WithLabelValues("fast", "claimed").Inc()

	claimed, err := s.durable.ClaimIfAbsent(ctx, c)
	if err != nil {
		// Without the durable arbiter the at-most-once guarantee cannot
		// be given; withdraw the fast claim and surface the error.
		s.fast.Release(key)
		ClaimsTotal.WithLabelValues("durable", "error").Inc()
		return Result{}, err
	}
	if !claimed {
		// The fast entry just taken must not outlive the durable verdict:
		// if the winner later releases the event, a retry on this channel
		// has to reach the durable tier again instead of being suppressed
		// in-process until FastTTL.
		s.fast.Release(key)
		ClaimsTotal.WithLabelValues("durable", "duplicate").Inc()
		logging.Debug().
			Str("event_id", c.EventID).
			Str("channel", string(c.Channel)).
			Msg("Duplicate event suppressed by durable tier")
		return Result{Claimed: false, Reason: ReasonDuplicate}, nil
	}
	ClaimsTotal.WithLabelValues("durable", "claimed").Inc()

	return Result{Claimed: true}, nil
}

// Release implements Store. Both tiers are cleared so a later trigger or
// the fallback sweep can claim the event again.
func (s *TwoTier) Release(ctx context.Context, eventID string, channel event.Channel) error {
	s.fast.Release(fastKey(eventID, string(channel)))
	return s.durable.Release(ctx, eventID)
}

// CleanupExpired implements Store.
func (s *TwoTier) CleanupExpired(ctx context.Context) (int, error) {
	fastRemoved := s.fast.CleanupExpired()
	EntriesSwept.WithLabelValues("fast").Add(float64(fastRemoved))

	durableRemoved, err := s.durable.CleanupExpired(ctx)
	EntriesSwept.WithLabelValues("durable").Add(float64(durableRemoved))

	return fastRemoved + durableRemoved, err
}

// Verify interface implementation at compile time.
var _ Store = (*TwoTier)(nil)
