// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Store is the durable identity storage consulted when the cache has no
// real-quality snapshot. It is the authoritative source across restarts.
type Store interface {
	// Get returns the stored snapshot for the user, with found=false when
	// the user is unknown or the record expired.
	Get(ctx context.Context, userID string) (Snapshot, bool, error)

	// Put stores the snapshot, replacing any existing record.
	Put(ctx context.Context, snap Snapshot) error

	// CleanupExpired purges records past their retention window and
	// returns how many were removed.
	CleanupExpired(ctx context.Context) (int, error)
}

// BadgerStore is the badger-backed implementation of Store. Records carry a
// badger TTL matching the configured retention window; CleanupExpired
// forces removal of anything compaction has not reclaimed yet.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	ttl    time.Duration
}

// NewBadgerStore creates a durable identity store on a shared badger
// instance. The default key prefix is "idn:".
func NewBadgerStore(db *badger.DB, ttl time.Duration) *BadgerStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &BadgerStore{
		db:     db,
		prefix: []byte("idn:"),
		ttl:    ttl,
	}
}

func (s *BadgerStore) makeKey(userID string) []byte {
	return append(append([]byte{}, s.prefix...), userID...)
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, userID string) (Snapshot, bool, error) {
	if userID == "" {
		return Snapshot{}, false, nil
	}

	var snap Snapshot
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &snap); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("identity store get: %w", err)
	}

	return snap, found, nil
}

// Put implements Store.
func (s *BadgerStore) Put(ctx context.Context, snap Snapshot) error {
	if snap.UserID == "" {
		return errors.New("identity store put: empty user id")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("identity store put: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(s.makeKey(snap.UserID), data).WithTTL(s.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("identity store put: %w", err)
	}
	return nil
}

// CleanupExpired implements Store. Badger drops TTL-expired records during
// compaction; this scan removes any stragglers eagerly so the retention
// window is observed even on a quiet database.
func (s *BadgerStore) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.ttl)
	count := 0

	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var snap Snapshot
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				continue
			}
			if snap.UpdatedAt.Before(cutoff) {
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
		return count, fmt.Errorf("identity store cleanup: %w", err)
	}

	return count, nil
}

// Verify interface implementation at compile time.
var _ Store = (*BadgerStore)(nil)
