// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// BadgerTier is the durable arbiter. The key is the event identifier alone,
// so claims are unique per logical event across every channel and process.
// Entries carry a badger TTL; CleanupExpired removes stragglers eagerly.
type BadgerTier struct {
	db     *badger.DB
	prefix []byte
	ttl    time.Duration
}

// NewBadgerTier creates the durable tier on a shared badger instance. The
// key prefix is "ddp:".
func NewBadgerTier(db *badger.DB, ttl time.Duration) *BadgerTier {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &BadgerTier{
		db:     db,
		prefix: []byte("ddp:"),
		ttl:    ttl,
	}
}

func (t *BadgerTier) makeKey(eventID string) []byte {
	return append(append([]byte{}, t.prefix...), eventID...)
}

// ClaimIfAbsent performs the insert-if-absent transaction. Returns true
// when this caller won the claim, false when a live claim already exists.
// An expired record still on disk is treated as absent and overwritten.
//
// Two claimers racing past the fast tier both read the key as absent and
// badger fails the second commit with ErrConflict. That loser is a
// duplicate, not an error: the transaction is re-run and the re-read
// observes the winner's entry.
func (t *BadgerTier) ClaimIfAbsent(ctx context.Context, c Claim) (bool, error) {
	if t.db.IsClosed() {
		return false, ErrStoreClosed
	}
	key := t.makeKey(c.EventID)

	for {
		claimed := false
		err := t.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err == nil {
				var existing Claim
				if valErr := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &existing)
				}); valErr == nil {
					if time.Now().Before(existing.ExpiresAt) {
						return nil // live claim held by someone else
					}
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			data, err := json.Marshal(c)
			if err != nil {
				return err
			}

			e := badger.NewEntry(key, data).WithTTL(t.ttl)
			if err := txn.SetEntry(e); err != nil {
				return err
			}
			claimed = true
			return nil
		})
		switch {
		case err == nil:
			return claimed, nil
		case errors.Is(err, badger.ErrConflict):
			continue
		case errors.Is(err, badger.ErrDBClosed):
			return false, ErrStoreClosed
		default:
			return false, fmt.Errorf("dedup durable claim: %w", err)
		}
	}
}

// Release deletes the claim for the event id.
func (t *BadgerTier) Release(ctx context.Context, eventID string) error {
	if t.db.IsClosed() {
		return ErrStoreClosed
	}
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(t.makeKey(eventID))
	})
	if err != nil {
		if errors.Is(err, badger.ErrDBClosed) {
			return ErrStoreClosed
		}
		return fmt.Errorf("dedup durable release: %w", err)
	}
	return nil
}

// CleanupExpired scans the prefix and deletes entries past expiry.
func (t *BadgerTier) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now()
	count := 0

	err := t.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = t.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var c Claim
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				continue
			}
			if now.After(c.ExpiresAt) {
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
		return count, fmt.Errorf("dedup durable cleanup: %w", err)
	}

	return count, nil
}
