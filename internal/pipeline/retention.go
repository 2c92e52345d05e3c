// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package pipeline

import (
	"context"
	"time"

	"github.com/tomtom215/signalbridge/internal/logging"
)

// CleanupFunc purges expired state from one store and reports how many
// records were removed.
type CleanupFunc func(ctx context.Context) (int, error)

// namedCleanup pairs a cleanup with a label for logging.
type namedCleanup struct {
	name string
	fn   CleanupFunc
}

// RetentionService periodically purges expired records from every store:
// identity cache and table, both dedup tiers, pending ledger, and old
// funnel counters. Runs independently of request handling. Implements
// suture.Service.
type RetentionService struct {
	interval time.Duration
	cleanups []namedCleanup
}

// NewRetentionService creates the retention sweep.
func NewRetentionService(interval time.Duration) *RetentionService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RetentionService{interval: interval}
}

// Add registers a cleanup under a label.
func (s *RetentionService) Add(name string, fn CleanupFunc) {
	s.cleanups = append(s.cleanups, namedCleanup{name: name, fn: fn})
}

// AddSimple registers a cleanup that needs no context and cannot fail,
// such as an in-process cache purge.
func (s *RetentionService) AddSimple(name string, fn func() int) {
	s.Add(name, func(ctx context.Context) (int, error) {
		return fn(), nil
	})
}

// Serve runs the retention loop until the context is canceled.
func (s *RetentionService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *RetentionService) run(ctx context.Context) {
	for _, c := range s.cleanups {
		if ctx.Err() != nil {
			return
		}
		removed, err := c.fn(ctx)
		if err != nil {
			logging.Warn().Err(err).Str("store", c.name).Msg("Retention sweep failed")
			continue
		}
		if removed > 0 {
			logging.Debug().Str("store", c.name).Int("removed", removed).Msg("Retention sweep purged records")
		}
	}
}
