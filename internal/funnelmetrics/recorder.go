// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package funnelmetrics

import (
	"context"
	"time"

	"github.com/tomtom215/signalbridge/internal/event"
	"github.com/tomtom215/signalbridge/internal/logging"
)

// Outcome is the closed set of pipeline outcomes a counter can record.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Valid reports whether the outcome is one of the known variants.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSent, OutcomeDuplicate, OutcomeRejected, OutcomeFailed:
		return true
	default:
		return false
	}
}

// Recorder increments per-day, per-outcome counters. It never blocks or
// fails the caller: durable-store errors are logged, counted, and
// swallowed so observability cannot prevent event delivery.
type Recorder struct {
	counters *Counters
}

// NewRecorder creates a recorder over the durable counter table. A nil
// counters table records to prometheus only.
func NewRecorder(counters *Counters) *Recorder {
	return &Recorder{counters: counters}
}

// Record registers one outcome for the event kind and trigger channel.
func (r *Recorder) Record(outcome Outcome, kind event.Kind, channel event.Channel, at time.Time) {
	if !outcome.Valid() {
		logging.Warn().Str("outcome", string(outcome)).Msg("Dropping record for unknown outcome")
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	EventsTotal.WithLabelValues(string(kind), string(channel), string(outcome)).Inc()

	if r.counters == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.counters.Increment(ctx, at, string(outcome), string(channel)); err != nil {
		CounterWriteFailures.Inc()
		logging.Warn().Err(err).
			Str("outcome", string(outcome)).
			Str("channel", string(channel)).
			Msg("Durable counter increment failed, swallowed")
	}
}
