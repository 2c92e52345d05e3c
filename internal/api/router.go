// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

// Package api exposes the inbound trigger points over HTTP using the Chi
// router: the browser pixel call, the payment-gateway webhook, and the
// bot-originated trigger. The fallback sweep is an internal service, not
// an endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds the HTTP surface configuration.
type RouterConfig struct {
	// CORSAllowedOrigins lists origins for the browser track endpoint.
	// Empty means browser calls are effectively disabled, which is the
	// safe default.
	CORSAllowedOrigins []string

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Router assembles the HTTP surface.
type Router struct {
	handler *Handler
	cfg     RouterConfig
}

// NewRouter creates a router over the given handler.
func NewRouter(handler *Handler, cfg RouterConfig) *Router {
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 300
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &Router{handler: handler, cfg: cfg}
}

// Setup builds the route tree.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID())
	r.Use(chimiddleware.RealIP)
	r.Use(Recoverer())
	r.Use(RequestLogger())

	r.Get("/healthz", rt.handler.HealthLive)
	r.Get("/readyz", rt.handler.HealthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.cfg.RateLimitRequests, rt.cfg.RateLimitWindow))

		// Browser-facing pixel endpoint needs CORS preflight handling.
		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: rt.cfg.CORSAllowedOrigins,
				AllowedMethods: []string{http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Content-Type"},
				MaxAge:         86400,
			}))
			r.Post("/track", rt.handler.Track)
		})

		r.Post("/webhooks/payment", rt.handler.PaymentWebhook)
		r.Post("/bot/events", rt.handler.BotEvent)
	})

	return r
}
