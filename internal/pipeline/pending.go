// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/signalbridge/internal/funnelmetrics"
)

// PendingEntry is one event that is ready but not yet confirmed sent.
type PendingEntry struct {
	EventID  string  `json:"event_id"`
	Trigger  Trigger `json:"trigger"`
	Attempts int     `json:"attempts"`

	ParkedAt  time.Time `json:"parked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingLedger is the badger-backed record of events whose delivery
// exhausted its retries. The fallback sweep re-runs them; entries are
// dropped on success, on permanent failure, or at expiry.
type PendingLedger struct {
	db     *badger.DB
	prefix []byte
	ttl    time.Duration
}

// NewPendingLedger creates the ledger on a shared badger instance. The key
// prefix is "pnd:".
func NewPendingLedger(db *badger.DB, ttl time.Duration) *PendingLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PendingLedger{
		db:     db,
		prefix: []byte("pnd:"),
		ttl:    ttl,
	}
}

func (l *PendingLedger) makeKey(eventID string) []byte {
	return append(append([]byte{}, l.prefix...), eventID...)
}

// Park records a trigger for later re-delivery. Re-parking the same event
// id keeps one record and bumps its attempt count.
func (l *PendingLedger) Park(ctx context.Context, t Trigger, eventID string) error {
	now := time.Now()
	key := l.makeKey(eventID)

	err := l.db.Update(func(txn *badger.Txn) error {
		entry := PendingEntry{
			EventID:   eventID,
			Trigger:   t,
			Attempts:  1,
			ParkedAt:  now,
			ExpiresAt: now.Add(l.ttl),
		}

		if item, err := txn.Get(key); err == nil {
			var existing PendingEntry
			if valErr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); valErr == nil {
				entry.Attempts = existing.Attempts + 1
				entry.ParkedAt = existing.ParkedAt
				entry.ExpiresAt = existing.ExpiresAt
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(key, data).WithTTL(l.ttl))
	})
	if err != nil {
		return fmt.Errorf("pending park: %w", err)
	}

	l.updateDepth()
	return nil
}

// Remove drops the pending record for the event id, if any.
func (l *PendingLedger) Remove(ctx context.Context, eventID string) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(l.makeKey(eventID))
	})
	if err != nil {
		return fmt.Errorf("pending remove: %w", err)
	}
	l.updateDepth()
	return nil
}

// List returns up to limit live pending entries, oldest key order.
func (l *PendingLedger) List(ctx context.Context, limit int) ([]PendingEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	now := time.Now()
	var out []PendingEntry

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = l.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(out) < limit; it.Next() {
			var entry PendingEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				continue
			}
			if now.After(entry.ExpiresAt) {
				continue
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pending list: %w", err)
	}

	return out, nil
}

// CleanupExpired deletes entries past expiry and returns how many were
// removed.
func (l *PendingLedger) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now()
	count := 0

	err := l.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = l.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var entry PendingEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				continue
			}
			if now.After(entry.ExpiresAt) {
				key := make([]byte, len(item.Key()))
				copy(key, item.Key())
				stale = append(stale, key)
			}
		}

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("pending cleanup: %w", err)
	}

	l.updateDepth()
	return count, nil
}

// updateDepth refreshes the pending-depth gauge with a cheap key-only scan.
func (l *PendingLedger) updateDepth() {
	depth := 0
	_ = l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = l.prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			depth++
		}
		return nil
	})
	funnelmetrics.PendingDepth.Set(float64(depth))
}
