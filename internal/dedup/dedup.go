// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

// Package dedup is the at-most-once ledger for conversion events.
//
// A claim names one logical event on one trigger channel. Two tiers are
// consulted in order: an in-process map absorbs the common case of a
// near-simultaneous double-fire cheaply, and a badger table with a single
// key per event id is the final arbiter: when two processes race past the
// fast tier, the durable insert-if-absent decides and the loser is told
// "duplicate". Duplicate is a normal outcome, not an error.
package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomtom215/signalbridge/internal/event"
)

// Claim outcome metrics.
var (
	// ClaimsTotal counts claim attempts by tier and outcome.
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_claims_total",
			Help: "Total dedup claim attempts",
		},
		[]string{"tier", "outcome"}, // tier: fast, durable; outcome: claimed, duplicate, error
	)

	// EntriesSwept counts entries removed by the expiry sweep.
	EntriesSwept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_entries_swept_total",
			Help: "Total expired dedup entries purged",
		},
		[]string{"tier"},
	)
)

// ErrStoreClosed indicates the ledger has been closed.
var ErrStoreClosed = errors.New("dedup store is closed")

// ReasonDuplicate is the rejection reason for an already-claimed event.
const ReasonDuplicate = "duplicate"

// Claim describes the logical event being claimed.
type Claim struct {
	// EventID is the stable identifier from the assigner.
	EventID string `json:"event_id"`

	// Channel is the trigger point making the claim.
	Channel event.Channel `json:"channel"`

	// LogicalKey is the semantic key the id guards: a transaction id, or
	// a synthetic per-event key for bucketed events.
	LogicalKey string `json:"logical_key,omitempty"`

	Kind     event.Kind `json:"kind"`
	Value    float64    `json:"value,omitempty"`
	Currency string     `json:"currency,omitempty"`

	ClaimedAt time.Time `json:"claimed_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Result is the outcome of a claim attempt.
type Result struct {
	Claimed bool   `json:"claimed"`
	Reason  string `json:"reason,omitempty"`
}

// Store is the ledger consulted before any delivery.
type Store interface {
	// Claim atomically records the (event id, channel) pair. Subsequent
	// claims for the same logical event return Claimed=false with
	// ReasonDuplicate rather than an error.
	Claim(ctx context.Context, c Claim) (Result, error)

	// Release withdraws a claim so the event can be retried later, e.g.
	// after a failed delivery.
	Release(ctx context.Context, eventID string, channel event.Channel) error

	// CleanupExpired purges entries past expiry in every tier.
	CleanupExpired(ctx context.Context) (int, error)
}
