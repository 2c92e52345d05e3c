// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package funnelmetrics

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// dayFormat is the UTC date key component.
const dayFormat = "2006-01-02"

// Counters is the durable (day, outcome, channel) -> count table.
// Append-only increments; the only delete is the retention sweep.
type Counters struct {
	db            *badger.DB
	prefix        []byte
	retentionDays int
}

// NewCounters creates the counter table on a shared badger instance. The
// key prefix is "cnt:".
func NewCounters(db *badger.DB, retentionDays int) *Counters {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Counters{
		db:            db,
		prefix:        []byte("cnt:"),
		retentionDays: retentionDays,
	}
}

// makeKey composes "cnt:{day}:{outcome}:{channel}".
func (c *Counters) makeKey(day time.Time, outcome, channel string) []byte {
	key := fmt.Sprintf("%s:%s:%s", day.UTC().Format(dayFormat), outcome, channel)
	return append(append([]byte{}, c.prefix...), key...)
}

// Increment adds one to the counter for the given day, outcome, and
// channel. Concurrent settles on the same key conflict under badger's
// transaction isolation; the losing increment re-reads and re-applies so
// no count is dropped.
func (c *Counters) Increment(ctx context.Context, day time.Time, outcome, channel string) error {
	key := c.makeKey(day, outcome, channel)

	for {
		err := c.db.Update(func(txn *badger.Txn) error {
			var count uint64
			item, err := txn.Get(key)
			if err == nil {
				if valErr := item.Value(func(val []byte) error {
					if len(val) == 8 {
						count = binary.BigEndian.Uint64(val)
					}
					return nil
				}); valErr != nil {
					return valErr
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, count+1)
			return txn.Set(key, buf)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("counter increment: %w", err)
		}
		return nil
	}
}

// ReadDay returns all counters for one UTC day keyed by "outcome:channel".
func (c *Counters) ReadDay(ctx context.Context, day time.Time) (map[string]uint64, error) {
	dayPrefix := append(append([]byte{}, c.prefix...), day.UTC().Format(dayFormat)+":"...)
	out := make(map[string]uint64)

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = dayPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			suffix := strings.TrimPrefix(string(item.Key()), string(dayPrefix))
			if err := item.Value(func(val []byte) error {
				if len(val) == 8 {
					out[suffix] = binary.BigEndian.Uint64(val)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("counter read: %w", err)
	}

	return out, nil
}

// CleanupExpired deletes counters older than the retention window and
// returns how many keys were removed.
func (c *Counters) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -c.retentionDays).Format(dayFormat)
	count := 0

	err := c.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = c.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			rest := strings.TrimPrefix(string(item.Key()), string(c.prefix))
			if len(rest) < len(dayFormat) {
				continue
			}
			if rest[:len(dayFormat)] < cutoff {
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
		return count, fmt.Errorf("counter cleanup: %w", err)
	}

	return count, nil
}
