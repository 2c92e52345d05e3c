// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks struct tags plus the cross-field rules the tags cannot
// express. Delivery credentials are deliberately not required here: the
// service can start without them, and the delivery client reports their
// absence as a permanent configuration error per attempt.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if len(c.Delivery.Backoff) < c.Delivery.Attempts-1 {
		return fmt.Errorf("config validation: delivery.backoff needs at least %d entries for %d attempts",
			c.Delivery.Attempts-1, c.Delivery.Attempts)
	}
	for i, d := range c.Delivery.Backoff {
		if d <= 0 {
			return fmt.Errorf("config validation: delivery.backoff[%d] must be positive", i)
		}
	}

	if c.Events.IntentBucket <= 0 {
		return fmt.Errorf("config validation: events.intent_bucket must be positive")
	}
	if c.Identity.CacheTTL <= 0 || c.Identity.DurableTTL <= 0 {
		return fmt.Errorf("config validation: identity TTLs must be positive")
	}
	if c.Identity.DurableTTL < c.Identity.CacheTTL {
		return fmt.Errorf("config validation: identity.durable_ttl must not be shorter than identity.cache_ttl")
	}
	if c.Dedup.FastTTL <= 0 || c.Dedup.DurableTTL <= 0 {
		return fmt.Errorf("config validation: dedup TTLs must be positive")
	}
	if c.Dedup.DurableTTL < c.Dedup.FastTTL {
		return fmt.Errorf("config validation: dedup.durable_ttl must not be shorter than dedup.fast_ttl")
	}

	if c.Delivery.RateLimit < 0 {
		return fmt.Errorf("config validation: delivery.rate_limit must not be negative")
	}

	return nil
}
