// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package pipeline

import (
	"context"
	"time"

	"github.com/tomtom215/signalbridge/internal/event"
	"github.com/tomtom215/signalbridge/internal/identity"
	"github.com/tomtom215/signalbridge/internal/logging"
)

// SweepService is the periodic fallback trigger: it re-runs events from the
// pending ledger whose delivery has not been confirmed. Implements
// suture.Service.
type SweepService struct {
	pipeline *Pipeline
	ledger   *PendingLedger
	interval time.Duration
	batch    int
}

// NewSweepService creates the fallback sweep.
func NewSweepService(p *Pipeline, ledger *PendingLedger, interval time.Duration, batch int) *SweepService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &SweepService{
		pipeline: p,
		ledger:   ledger,
		interval: interval,
		batch:    batch,
	}
}

// Serve runs the sweep loop until the context is canceled.
func (s *SweepService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep re-runs one batch of pending events. The sweep trigger carries no
// evidence of its own; resolution falls back to cached and stored
// identity. Entries are dropped on success, rejection, or permanent
// failure, and kept (with a bumped attempt count, courtesy of Park) when
// the delivery fails transiently again.
func (s *SweepService) sweep(ctx context.Context) {
	entries, err := s.ledger.List(ctx, s.batch)
	if err != nil {
		logging.Error().Err(err).Msg("Pending ledger list failed")
		return
	}
	if len(entries) == 0 {
		return
	}

	logging.Info().Int("count", len(entries)).Msg("Fallback sweep re-attempting pending events")

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		t := entry.Trigger
		t.Channel = event.ChannelSweep
		t.Evidence = identity.Snapshot{}

		outcome := s.pipeline.Process(ctx, t)

		switch outcome.Status {
		case StatusSent, StatusDuplicate, StatusRejected:
			if err := s.ledger.Remove(ctx, entry.EventID); err != nil {
				logging.Warn().Err(err).Str("event_id", entry.EventID).Msg("Pending record removal failed")
			}
		case StatusFailed:
			// Parked again by the pipeline when retryable; permanent
			// failures fall off at expiry.
		case StatusAccepted:
		}
	}
}
