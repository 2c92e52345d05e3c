// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

// Package event defines the conversion-event vocabulary shared by the
// pipeline: event kinds, trigger channels, and the transient
// ConversionEvent value passed between components.
package event

import (
	"fmt"
	"time"

	"github.com/tomtom215/signalbridge/internal/identity"
)

// Kind is the closed set of conversion-event kinds. Wire values match the
// platform's standard event names.
type Kind string

const (
	KindPurchase         Kind = "Purchase"
	KindInitiateCheckout Kind = "InitiateCheckout"
	KindLead             Kind = "Lead"
)

// Valid reports whether the kind is one of the known variants.
func (k Kind) Valid() bool {
	switch k {
	case KindPurchase, KindInitiateCheckout, KindLead:
		return true
	default:
		return false
	}
}

// Channel is the closed set of trigger points that can observe an event.
type Channel string

const (
	// ChannelBrowser is a browser-reported pixel call.
	ChannelBrowser Channel = "browser"

	// ChannelWebhook is a payment-gateway webhook.
	ChannelWebhook Channel = "webhook"

	// ChannelBot is a bot-originated trigger.
	ChannelBot Channel = "bot"

	// ChannelSweep is the periodic fallback sweep.
	ChannelSweep Channel = "sweep"
)

// Valid reports whether the channel is one of the known variants.
func (c Channel) Valid() bool {
	switch c {
	case ChannelBrowser, ChannelWebhook, ChannelBot, ChannelSweep:
		return true
	default:
		return false
	}
}

// ActionSource maps the trigger channel to the wire-schema action_source
// field declaring where the event originated.
func (c Channel) ActionSource() string {
	switch c {
	case ChannelBrowser, ChannelWebhook:
		return "website"
	case ChannelBot:
		return "chat"
	case ChannelSweep:
		return "system_generated"
	default:
		return "website"
	}
}

// Contact carries the personal fields attached to a trigger. Values may
// arrive plain or already one-way hashed; the payload builder hashes
// whatever is still plain.
type Contact struct {
	Email      string
	Phone      string
	FirstName  string
	LastName   string
	DocumentID string
	ExternalID string
}

// LineItem is one purchased item.
type LineItem struct {
	ID       string  `json:"id"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"item_price,omitempty"`
}

// ConversionEvent is the transient, fully resolved event handed to the
// payload builder. It is never persisted in this form.
type ConversionEvent struct {
	Kind       Kind
	Channel    Channel
	EventID    string
	OccurredAt time.Time

	UserID        string
	TransactionID string

	// Purchase semantics. Value must be positive with at most two decimal
	// places; Currency a three-letter code.
	Value    float64
	Currency string
	Items    []LineItem

	SourceURL string

	Identity identity.Snapshot
	Contact  Contact
}

// Validate checks the structural invariants that hold for every kind.
// Kind-specific rules (purchase value, currency) live in the payload
// builder where rejection reasons are produced.
func (e *ConversionEvent) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if !e.Channel.Valid() {
		return fmt.Errorf("unknown channel %q", e.Channel)
	}
	if e.EventID == "" {
		return fmt.Errorf("missing event id")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("missing occurrence time")
	}
	return nil
}
