// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package capi

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// hashedLength is the length of a hex-encoded SHA-256 digest. A value of
// this length consisting only of hex digits is treated as already hashed.
const hashedLength = 64

// HashField normalizes a personal field (trim, lower-case) and returns its
// hex SHA-256. Values already presented in hashed form pass through
// unchanged; empty values stay empty.
func HashField(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	if IsHashed(v) {
		return v
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// HashPhone normalizes a phone number to digits only before hashing, so
// "+55 (11) 91234-5678" and "5511912345678" agree on the digest.
func HashPhone(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if IsHashed(strings.ToLower(v)) {
		return strings.ToLower(v)
	}

	var digits strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(digits.String()))
	return hex.EncodeToString(sum[:])
}

// IsHashed reports whether the value already looks like a hex SHA-256
// digest.
func IsHashed(value string) bool {
	if len(value) != hashedLength {
		return false
	}
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
