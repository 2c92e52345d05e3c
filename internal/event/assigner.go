// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package event

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Assigner derives stable identifiers for logical events so that every
// trigger point observing the same real-world action produces the same id.
//
// Purchases key on the transaction id, which makes the id fully
// deterministic across process restarts. Checkout intents have no natural
// external key, so the id incorporates the user id and a time bucket: rapid
// re-signals inside one bucket collapse to one id, while a genuinely new
// attempt after the bucket boundary gets a fresh one.
type Assigner struct {
	bucket time.Duration
}

// NewAssigner creates an assigner with the given intent time-bucket width.
func NewAssigner(bucket time.Duration) *Assigner {
	if bucket <= 0 {
		bucket = 5 * time.Minute
	}
	return &Assigner{bucket: bucket}
}

// Assign returns the stable identifier for a logical event.
//
// The semantic key is the transaction id when one exists. Events without a
// semantic key and without a user id cannot be correlated across triggers
// at all; they get a random identifier so they are at least individually
// deliverable.
func (a *Assigner) Assign(kind Kind, semanticKey, userID string, occurredAt time.Time) string {
	if semanticKey != "" {
		return digest(string(kind) + ":tx:" + semanticKey)
	}
	if userID == "" {
		return digest(string(kind) + ":anon:" + uuid.NewString())
	}
	bucketStart := occurredAt.UTC().Truncate(a.bucket)
	return digest(string(kind) + ":usr:" + userID + ":" + bucketStart.Format(time.RFC3339))
}

// NormalizeTime collapses near-simultaneous cross-channel timestamps for
// bucketed events onto the bucket start, so two triggers reporting the same
// intent seconds apart also agree on event_time. Events with a semantic key
// keep their reported time untouched.
func (a *Assigner) NormalizeTime(semanticKey string, occurredAt time.Time) time.Time {
	if semanticKey != "" {
		return occurredAt
	}
	return occurredAt.UTC().Truncate(a.bucket)
}

// Bucket returns the configured time-bucket width.
func (a *Assigner) Bucket() time.Duration {
	return a.bucket
}

// digest returns the hex SHA-256 of the key material. Hashing keeps user
// ids and transaction ids off the wire while preserving determinism.
func digest(material string) string {
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
