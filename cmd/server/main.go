// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

// Package main is the entry point for the Signalbridge server.
//
// Signalbridge reconciles conversion events observed by multiple trigger
// points (browser pixel, payment webhook, chat bot) into exactly one
// delivery per logical event to the downstream conversions API.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional YAML file, environment variables (Koanf v2)
//  2. Storage: one embedded BadgerDB for identity snapshots, the dedup
//     ledger, pending events, and funnel counters
//  3. Pipeline: identity resolver, event-id assigner, two-tier dedup,
//     payload builder, delivery client
//  4. Supervisor tree: retention sweeps, badger GC, fallback sweep, HTTP server
//
// # Configuration
//
// Environment variables use the SIGNALBRIDGE_ prefix with "__" separating
// nesting levels:
//
//	export SIGNALBRIDGE_DELIVERY__PIXEL_ID=123456
//	export SIGNALBRIDGE_DELIVERY__ACCESS_TOKEN=EAAB...
//	export SIGNALBRIDGE_STORAGE__PATH=/data/signalbridge
//	./signalbridge
//
// A YAML file can be supplied via CONFIG_PATH.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// listener drains in-flight requests, background sweeps stop, and the
// database is closed last so no settled dedup claim is lost.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/tomtom215/signalbridge/internal/api"
	"github.com/tomtom215/signalbridge/internal/capi"
	"github.com/tomtom215/signalbridge/internal/config"
	"github.com/tomtom215/signalbridge/internal/dedup"
	"github.com/tomtom215/signalbridge/internal/delivery"
	"github.com/tomtom215/signalbridge/internal/event"
	"github.com/tomtom215/signalbridge/internal/funnelmetrics"
	"github.com/tomtom215/signalbridge/internal/identity"
	"github.com/tomtom215/signalbridge/internal/logging"
	"github.com/tomtom215/signalbridge/internal/pipeline"
	"github.com/tomtom215/signalbridge/internal/storage"
	"github.com/tomtom215/signalbridge/internal/supervisor"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("storage_path", cfg.Storage.Path).
		Bool("delivery_configured", cfg.Delivery.PixelID != "" && cfg.Delivery.AccessToken != "").
		Msg("Starting Signalbridge")

	if cfg.Delivery.PixelID == "" || cfg.Delivery.AccessToken == "" {
		logging.Warn().Msg("Delivery credentials not configured; events will be accepted but every delivery fails permanently")
	}

	db, err := storage.Open(storage.Config{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		GCInterval: cfg.Storage.GCInterval,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing storage")
		}
	}()

	// Identity layer: in-process LRU cache backed by a durable table.
	idCache := identity.NewCache(cfg.Identity.CacheCapacity, cfg.Identity.CacheTTL)
	idStore := identity.NewBadgerStore(db, cfg.Identity.DurableTTL)
	resolver := identity.NewResolver(idCache, idStore)

	// Dedup layer: fast in-process tier in front of the durable arbiter.
	fastTier := dedup.NewMemoryTier(cfg.Dedup.FastCapacity, cfg.Dedup.FastTTL)
	durableTier := dedup.NewBadgerTier(db, cfg.Dedup.DurableTTL)
	dedupStore := dedup.NewTwoTier(fastTier, durableTier, cfg.Dedup.DurableTTL)

	assigner := event.NewAssigner(cfg.Events.IntentBucket)
	builder := capi.NewBuilder(cfg.Delivery.TestEventCode, cfg.Events.MaxPurchaseValue)

	client := delivery.NewClient(delivery.Config{
		Endpoint:         cfg.Delivery.Endpoint,
		Timeout:          cfg.Delivery.Timeout,
		Attempts:         cfg.Delivery.Attempts,
		Backoff:          cfg.Delivery.Backoff,
		RateLimit:        cfg.Delivery.RateLimit,
		RateBurst:        cfg.Delivery.RateBurst,
		BreakerThreshold: cfg.Delivery.BreakerThreshold,
		BreakerTimeout:   cfg.Delivery.BreakerTimeout,
	})

	counters := funnelmetrics.NewCounters(db, cfg.Counters.RetentionDays)
	recorder := funnelmetrics.NewRecorder(counters)

	pending := pipeline.NewPendingLedger(db, cfg.Pending.TTL)

	pipe := pipeline.New(pipeline.Options{
		Resolver: resolver,
		Cache:    idCache,
		Assigner: assigner,
		Dedup:    dedupStore,
		Builder:  builder,
		Client:   client,
		Credentials: delivery.Credentials{
			PixelID:     cfg.Delivery.PixelID,
			AccessToken: cfg.Delivery.AccessToken,
		},
		Recorder: recorder,
		Pending:  pending,
		DedupTTL: cfg.Dedup.DurableTTL,
	})

	handler := api.NewHandler(pipe, db)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RateLimitRequests:  cfg.Server.RateLimitRequests,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
	})
	server := api.NewServer(router.Setup(), api.ServerConfig{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	retention := pipeline.NewRetentionService(cfg.Dedup.SweepInterval)
	retention.AddSimple("identity-cache", idCache.CleanupExpired)
	retention.Add("identity-store", idStore.CleanupExpired)
	retention.Add("dedup", dedupStore.CleanupExpired)
	retention.Add("pending-ledger", pending.CleanupExpired)
	retention.Add("funnel-counters", counters.CleanupExpired)

	tree.AddDataService(retention)
	tree.AddDataService(storage.NewGCService(db, cfg.Storage.GCInterval))
	tree.AddPipelineService(pipeline.NewSweepService(pipe, pending, cfg.Pending.SweepInterval, cfg.Pending.SweepBatch))
	tree.AddAPIService(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
	}

	logging.Info().Msg("Signalbridge stopped")
}
