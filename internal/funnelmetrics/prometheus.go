// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

// Package funnelmetrics records delivery outcomes for operational
// visibility: prometheus series for dashboards and alerting, plus durable
// per-day counters that survive restarts. Recording never fails the
// caller's critical path.
package funnelmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts pipeline outcomes by kind, channel, and outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_events_total",
			Help: "Total conversion events processed by outcome",
		},
		[]string{"kind", "channel", "outcome"},
	)

	// DeliveryDuration observes end-to-end delivery latency including
	// retries.
	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "funnel_delivery_duration_seconds",
			Help:    "Duration of delivery calls including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// DeliveryAttempts observes attempts used per delivery.
	DeliveryAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "funnel_delivery_attempts",
			Help:    "Attempts used per delivery call",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	// PendingDepth tracks the pending-ledger size.
	PendingDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "funnel_pending_events",
			Help: "Events parked for the fallback sweep",
		},
	)

	// IdentityCacheEntries tracks tracked users in the identity cache.
	IdentityCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "funnel_identity_cache_entries",
			Help: "Current number of cached identity snapshots",
		},
	)

	// CounterWriteFailures counts swallowed durable-counter errors.
	CounterWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "funnel_counter_write_failures_total",
			Help: "Durable counter increments that failed and were swallowed",
		},
	)
)

// RecordDelivery observes one completed delivery call.
func RecordDelivery(duration time.Duration, attempts int) {
	DeliveryDuration.Observe(duration.Seconds())
	DeliveryAttempts.Observe(float64(attempts))
}
