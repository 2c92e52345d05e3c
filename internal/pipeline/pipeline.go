// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

// Package pipeline orchestrates the conversion-event flow: identity
// resolution, event-id assignment, dedup claim, payload construction,
// delivery, and outcome settlement. All success/failure handling funnels
// through one settlement point so dedup state and metrics are never
// updated inconsistently across call sites.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/signalbridge/internal/capi"
	"github.com/tomtom215/signalbridge/internal/dedup"
	"github.com/tomtom215/signalbridge/internal/delivery"
	"github.com/tomtom215/signalbridge/internal/event"
	"github.com/tomtom215/signalbridge/internal/funnelmetrics"
	"github.com/tomtom215/signalbridge/internal/identity"
	"github.com/tomtom215/signalbridge/internal/logging"
)

// Status classifies what happened to a trigger.
type Status string

const (
	// StatusAccepted means the claim was won and delivery is in flight
	// (async processing only).
	StatusAccepted Status = "accepted"

	StatusSent      Status = "sent"
	StatusDuplicate Status = "duplicate"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// Trigger is one observation of a conversion event by a trigger point.
type Trigger struct {
	Channel event.Channel `json:"channel"`
	Kind    event.Kind    `json:"kind"`

	UserID        string `json:"user_id"`
	TransactionID string `json:"transaction_id,omitempty"`

	Value    float64          `json:"value,omitempty"`
	Currency string           `json:"currency,omitempty"`
	Items    []event.LineItem `json:"items,omitempty"`

	SourceURL string `json:"source_url,omitempty"`

	// Evidence is the identity evidence attached to this trigger; may be
	// entirely empty (a sweep has none).
	Evidence identity.Snapshot `json:"evidence"`
	Contact  event.Contact     `json:"contact"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Outcome is the settled result of processing one trigger.
type Outcome struct {
	Status  Status `json:"status"`
	EventID string `json:"event_id,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Err     error  `json:"-"`
}

// Pipeline wires the pipeline components together. All stores are
// constructor-injected; there is no ambient global state.
type Pipeline struct {
	resolver *identity.Resolver
	cache    *identity.Cache
	assigner *event.Assigner
	dedup    dedup.Store
	builder  *capi.Builder
	client   *delivery.Client
	creds    delivery.Credentials
	recorder *funnelmetrics.Recorder
	pending  *PendingLedger

	dedupTTL time.Duration

	// deliveryBudget bounds async delivery including retries.
	deliveryBudget time.Duration
}

// Options carries the pipeline's collaborators.
type Options struct {
	Resolver    *identity.Resolver
	Cache       *identity.Cache
	Assigner    *event.Assigner
	Dedup       dedup.Store
	Builder     *capi.Builder
	Client      *delivery.Client
	Credentials delivery.Credentials
	Recorder    *funnelmetrics.Recorder
	Pending     *PendingLedger
	DedupTTL    time.Duration
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	ttl := opts.DedupTTL
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Pipeline{
		resolver:       opts.Resolver,
		cache:          opts.Cache,
		assigner:       opts.Assigner,
		dedup:          opts.Dedup,
		builder:        opts.Builder,
		client:         opts.Client,
		creds:          opts.Credentials,
		recorder:       opts.Recorder,
		pending:        opts.Pending,
		dedupTTL:       ttl,
		deliveryBudget: 30 * time.Second,
	}
}

// prepared holds the state between claim and delivery.
type prepared struct {
	trigger Trigger
	eventID string
	payload capi.Payload
}

// Process runs a trigger through the full pipeline synchronously and
// returns the settled outcome. Used by the fallback sweep and anywhere the
// caller wants the delivery result.
func (p *Pipeline) Process(ctx context.Context, t Trigger) Outcome {
	prep, outcome, done := p.prepare(ctx, t)
	if done {
		return outcome
	}
	return p.deliverAndSettle(ctx, prep)
}

// ProcessAsync resolves, claims, and validates synchronously, then runs
// delivery in the background. The caller gets the claim outcome
// immediately and is never blocked on the network; delivery results only
// affect the dedup store and metrics.
func (p *Pipeline) ProcessAsync(ctx context.Context, t Trigger) Outcome {
	prep, outcome, done := p.prepare(ctx, t)
	if done {
		return outcome
	}

	go func() {
		dctx, cancel := context.WithTimeout(context.Background(), p.deliveryBudget)
		defer cancel()
		p.deliverAndSettle(dctx, prep)
	}()

	return Outcome{Status: StatusAccepted, EventID: prep.eventID}
}

// prepare performs every local step: identity resolution, id assignment,
// dedup claim, and payload construction. done=true means the outcome is
// terminal (duplicate, rejection, or claim error) and no delivery runs.
func (p *Pipeline) prepare(ctx context.Context, t Trigger) (prepared, Outcome, bool) {
	if t.OccurredAt.IsZero() {
		t.OccurredAt = time.Now()
	}

	snapshot := p.resolver.Resolve(ctx, t.UserID, t.Evidence)
	funnelmetrics.IdentityCacheEntries.Set(float64(p.cache.Len()))

	eventID := p.assigner.Assign(t.Kind, t.TransactionID, t.UserID, t.OccurredAt)

	result, err := p.dedup.Claim(ctx, dedup.Claim{
		EventID:    eventID,
		Channel:    t.Channel,
		LogicalKey: t.TransactionID,
		Kind:       t.Kind,
		Value:      t.Value,
		Currency:   t.Currency,
		ExpiresAt:  time.Now().Add(p.dedupTTL),
	})
	if err != nil {
		logging.Error().Err(err).Str("event_id", eventID).Msg("Dedup claim failed")
		return prepared{}, p.settle(t, eventID, Outcome{Status: StatusFailed, EventID: eventID, Err: err}), true
	}
	if !result.Claimed {
		return prepared{}, p.settle(t, eventID, Outcome{
			Status:  StatusDuplicate,
			EventID: eventID,
			Reason:  result.Reason,
		}), true
	}

	ev := event.ConversionEvent{
		Kind:          t.Kind,
		Channel:       t.Channel,
		EventID:       eventID,
		OccurredAt:    p.assigner.NormalizeTime(t.TransactionID, t.OccurredAt),
		UserID:        t.UserID,
		TransactionID: t.TransactionID,
		Value:         t.Value,
		Currency:      t.Currency,
		Items:         t.Items,
		SourceURL:     t.SourceURL,
		Identity:      snapshot,
		Contact:       t.Contact,
	}

	payload, err := p.builder.Build(ev)
	if err != nil {
		// The input is unfit, but a later trigger may observe the same
		// logical event with richer evidence; free the claim for it.
		p.releaseClaim(ctx, eventID, t.Channel)

		var rej *capi.RejectionError
		reason := err.Error()
		if errors.As(err, &rej) {
			reason = rej.Reason
		}
		logging.Warn().
			Str("event_id", eventID).
			Str("kind", string(t.Kind)).
			Str("channel", string(t.Channel)).
			Str("reason", reason).
			Msg("Event rejected before delivery")
		return prepared{}, p.settle(t, eventID, Outcome{
			Status:  StatusRejected,
			EventID: eventID,
			Reason:  reason,
			Err:     err,
		}), true
	}

	return prepared{trigger: t, eventID: eventID, payload: payload}, Outcome{}, false
}

// deliverAndSettle performs the outbound call and settles the outcome:
// a successful delivery keeps the claim and clears any pending record; a
// failed one releases the claim, and transient failures are parked for the
// fallback sweep.
func (p *Pipeline) deliverAndSettle(ctx context.Context, prep prepared) Outcome {
	t := prep.trigger
	start := time.Now()

	res := p.client.Deliver(ctx, prep.payload, p.creds)
	funnelmetrics.RecordDelivery(time.Since(start), res.Attempts)

	if res.Success {
		if p.pending != nil {
			if err := p.pending.Remove(ctx, prep.eventID); err != nil {
				logging.Warn().Err(err).Str("event_id", prep.eventID).Msg("Pending record removal failed")
			}
		}
		logging.Info().
			Str("event_id", prep.eventID).
			Str("kind", string(t.Kind)).
			Str("channel", string(t.Channel)).
			Str("trace_id", res.TraceID).
			Int("attempts", res.Attempts).
			Msg("Event delivered")
		return p.settle(t, prep.eventID, Outcome{
			Status:  StatusSent,
			EventID: prep.eventID,
			TraceID: res.TraceID,
		})
	}

	// The claim must not outlive a failed delivery: a later trigger or
	// the sweep needs to be able to claim the event again.
	p.releaseClaim(ctx, prep.eventID, t.Channel)

	if res.Retryable && p.pending != nil && !errors.Is(res.Err, delivery.ErrMissingCredentials) {
		if err := p.pending.Park(ctx, t, prep.eventID); err != nil {
			logging.Error().Err(err).Str("event_id", prep.eventID).Msg("Parking event for sweep failed")
		}
	}

	logging.Error().
		Err(res.Err).
		Str("event_id", prep.eventID).
		Str("kind", string(t.Kind)).
		Str("channel", string(t.Channel)).
		Int("status_code", res.StatusCode).
		Int("attempts", res.Attempts).
		Bool("retryable", res.Retryable).
		Msg("Event delivery failed")

	return p.settle(t, prep.eventID, Outcome{
		Status:  StatusFailed,
		EventID: prep.eventID,
		Err:     res.Err,
	})
}

// settle is the single outcome-recording point.
func (p *Pipeline) settle(t Trigger, eventID string, o Outcome) Outcome {
	switch o.Status {
	case StatusSent:
		p.recorder.Record(funnelmetrics.OutcomeSent, t.Kind, t.Channel, t.OccurredAt)
	case StatusDuplicate:
		p.recorder.Record(funnelmetrics.OutcomeDuplicate, t.Kind, t.Channel, t.OccurredAt)
	case StatusRejected:
		p.recorder.Record(funnelmetrics.OutcomeRejected, t.Kind, t.Channel, t.OccurredAt)
	case StatusFailed:
		p.recorder.Record(funnelmetrics.OutcomeFailed, t.Kind, t.Channel, t.OccurredAt)
	case StatusAccepted:
		// Recorded when the async delivery settles.
	}
	return o
}

func (p *Pipeline) releaseClaim(ctx context.Context, eventID string, channel event.Channel) {
	if err := p.dedup.Release(ctx, eventID, channel); err != nil {
		logging.Error().Err(err).Str("event_id", eventID).Msg("Dedup release failed")
	}
}
