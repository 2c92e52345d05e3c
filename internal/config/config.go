// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

// Package config provides layered configuration for Signalbridge.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. Struct defaults (DefaultConfig)
//  2. Optional YAML file (CONFIG_PATH or the default search list)
//  3. Environment variables (SIGNALBRIDGE_ prefix, "__" for nesting)
//
// Example: SIGNALBRIDGE_DELIVERY__ACCESS_TOKEN overrides delivery.access_token.
package config

import (
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Storage  StorageConfig  `koanf:"storage"`
	Identity IdentityConfig `koanf:"identity"`
	Dedup    DedupConfig    `koanf:"dedup"`
	Events   EventsConfig   `koanf:"events"`
	Delivery DeliveryConfig `koanf:"delivery"`
	Pending  PendingConfig  `koanf:"pending"`
	Counters CountersConfig `koanf:"counters"`
}

// ServerConfig holds the HTTP trigger surface configuration.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// CORSAllowedOrigins lists origins allowed to call the browser track
	// endpoint. Empty by default so deployments must opt in explicitly.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// RateLimitRequests per RateLimitWindow, applied per client IP.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StorageConfig holds the embedded BadgerDB configuration. All durable
// state (identity snapshots, dedup ledger, pending events, counters)
// shares one database.
type StorageConfig struct {
	Path string `koanf:"path" validate:"required"`

	// InMemory runs badger without disk persistence. Testing only:
	// a restart loses the durable dedup tier's claims.
	InMemory bool `koanf:"in_memory"`

	// GCInterval controls how often badger value-log GC runs.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// IdentityConfig tunes the identity cache and durable identity store.
type IdentityConfig struct {
	// CacheCapacity bounds the number of tracked users in the in-process
	// cache; least-recently-touched entries are evicted beyond it.
	CacheCapacity int `koanf:"cache_capacity" validate:"min=1"`

	// CacheTTL is the fast-tier snapshot retention window.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// DurableTTL is the badger-tier snapshot retention window.
	DurableTTL time.Duration `koanf:"durable_ttl"`
}

// DedupConfig tunes the two-tier deduplication store.
type DedupConfig struct {
	// FastTTL is how long an (event id, channel) claim is held in the
	// in-process tier. Short: it only has to absorb near-simultaneous
	// double-fires.
	FastTTL      time.Duration `koanf:"fast_ttl"`
	FastCapacity int           `koanf:"fast_capacity" validate:"min=1"`

	// DurableTTL is how long a claim survives in badger. Long enough to
	// cover process restarts and the fallback sweep horizon.
	DurableTTL time.Duration `koanf:"durable_ttl"`

	// SweepInterval controls the expired-claim purge cadence.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// EventsConfig tunes event-id assignment and purchase validation.
type EventsConfig struct {
	// IntentBucket is the time-bucket width for events without a natural
	// external key. Tunable: wide enough to collapse re-signaled intents,
	// narrow enough not to merge distinct user actions.
	IntentBucket time.Duration `koanf:"intent_bucket"`

	// MaxPurchaseValue is the sanity ceiling for purchase values.
	MaxPurchaseValue float64 `koanf:"max_purchase_value" validate:"gt=0"`
}

// DeliveryConfig holds the outbound platform configuration.
type DeliveryConfig struct {
	// Endpoint is the platform API base URL.
	Endpoint string `koanf:"endpoint" validate:"required,url"`

	// PixelID is the platform-assigned destination id. Required for
	// delivery; its absence is a permanent configuration error.
	PixelID string `koanf:"pixel_id"`

	// AccessToken is the bearer credential. Same contract as PixelID.
	AccessToken string `koanf:"access_token"`

	// TestEventCode marks events as sandbox traffic when set. Never
	// inferred; only attached when explicitly configured.
	TestEventCode string `koanf:"test_event_code"`

	Timeout time.Duration `koanf:"timeout"`

	// Attempts is the total attempt count per delivery (first try
	// included). Backoff holds the waits between attempts.
	Attempts int             `koanf:"attempts" validate:"min=1"`
	Backoff  []time.Duration `koanf:"backoff"`

	// RateLimit caps outbound events per second (0 = unlimited).
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	// BreakerThreshold is consecutive failures before the circuit opens.
	BreakerThreshold uint32        `koanf:"breaker_threshold" validate:"min=1"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout"`
}

// PendingConfig tunes the ledger of events awaiting re-delivery.
type PendingConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	SweepBatch    int           `koanf:"sweep_batch" validate:"min=1"`
}

// CountersConfig tunes the durable per-day funnel counters.
type CountersConfig struct {
	RetentionDays int `koanf:"retention_days" validate:"min=1"`
}

// DefaultConfig returns a Config with all default values. These are
// applied first, then overridden by the config file and env vars.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               ":8080",
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       15 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			CORSAllowedOrigins: []string{},
			RateLimitRequests:  300,
			RateLimitWindow:    time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Path:       "/data/signalbridge",
			GCInterval: 10 * time.Minute,
		},
		Identity: IdentityConfig{
			CacheCapacity: 50000,
			CacheTTL:      24 * time.Hour,
			DurableTTL:    30 * 24 * time.Hour,
		},
		Dedup: DedupConfig{
			FastTTL:       10 * time.Minute,
			FastCapacity:  100000,
			DurableTTL:    48 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Events: EventsConfig{
			IntentBucket:     5 * time.Minute,
			MaxPurchaseValue: 1_000_000,
		},
		Delivery: DeliveryConfig{
			Endpoint: "https://graph.facebook.com/v19.0",
			Timeout:  4 * time.Second,
			Attempts: 3,
			Backoff: []time.Duration{
				200 * time.Millisecond,
				500 * time.Millisecond,
				1000 * time.Millisecond,
			},
			RateLimit:        50,
			RateBurst:        100,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Pending: PendingConfig{
			TTL:           24 * time.Hour,
			SweepInterval: 5 * time.Minute,
			SweepBatch:    100,
		},
		Counters: CountersConfig{
			RetentionDays: 90,
		},
	}
}
