// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

// Package storage opens the shared BadgerDB instance backing every durable
// table: identity snapshots, the dedup ledger, pending events, and funnel
// counters.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/signalbridge/internal/logging"
)

// Config holds storage configuration.
type Config struct {
	Path       string
	InMemory   bool
	GCInterval time.Duration
}

// Open opens the badger database.
func Open(cfg Config) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithLogger(badgerLogger{})
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", cfg.Path, err)
	}
	return db, nil
}

// GCService runs badger value-log garbage collection periodically.
// Implements suture.Service.
type GCService struct {
	db       *badger.DB
	interval time.Duration
}

// NewGCService creates the GC service.
func NewGCService(db *badger.DB, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{db: db, interval: interval}
}

// Serve runs the GC loop until the context is canceled.
func (s *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Badger asks callers to loop GC until it reports nothing
			// more to collect.
			for {
				err := s.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						logging.Warn().Err(err).Msg("Badger value-log GC failed")
					}
					break
				}
			}
		}
	}
}

// badgerLogger routes badger's log lines through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Msgf(format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Msgf(format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Msgf(format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Msgf(format, args...)
}
