// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package capi

import (
	"fmt"
	"math"
	"strings"

	"github.com/tomtom215/signalbridge/internal/event"
)

// RejectionError names why an event was rejected before any network call.
// The input itself is unfit, so a rejection is never retried.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "event rejected: " + e.Reason
}

func rejectf(format string, args ...any) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}

// minIdentityFields is the floor below which an event cannot be matched by
// the platform. IP alone, for instance, is not deliverable.
const minIdentityFields = 2

// Builder maps canonical identities and event semantics onto the wire
// schema.
type Builder struct {
	// testEventCode, when non-empty, is attached to every payload.
	testEventCode string

	// maxValue is the sanity ceiling for purchase values.
	maxValue float64
}

// NewBuilder creates a payload builder. maxValue <= 0 disables the ceiling.
func NewBuilder(testEventCode string, maxValue float64) *Builder {
	return &Builder{
		testEventCode: testEventCode,
		maxValue:      maxValue,
	}
}

// Build validates the event and assembles the wire payload, or returns a
// *RejectionError naming why the event is unfit.
func (b *Builder) Build(ev event.ConversionEvent) (Payload, error) {
	if err := ev.Validate(); err != nil {
		return Payload{}, &RejectionError{Reason: err.Error()}
	}

	userData := b.buildUserData(ev)
	if n := userData.fieldCount(); n < minIdentityFields {
		return Payload{}, rejectf("insufficient identity fields: %d present, %d required", n, minIdentityFields)
	}

	customData, err := b.buildCustomData(ev)
	if err != nil {
		return Payload{}, err
	}

	wire := WireEvent{
		EventName:      string(ev.Kind),
		EventTime:      ev.OccurredAt.UTC().Unix(),
		EventID:        ev.EventID,
		ActionSource:   ev.Channel.ActionSource(),
		EventSourceURL: strings.TrimSpace(ev.SourceURL),
		UserData:       userData,
		CustomData:     customData,
	}
	if wire.EventSourceURL == "" {
		wire.EventSourceURL = strings.TrimSpace(ev.Identity.SourceURL)
	}

	return Payload{
		Data:          []WireEvent{wire},
		TestEventCode: b.testEventCode,
	}, nil
}

// buildUserData normalizes and hashes the personal fields and copies the
// browser evidence. Only non-empty fields end up on the wire.
func (b *Builder) buildUserData(ev event.ConversionEvent) UserData {
	return UserData{
		Email:      HashField(ev.Contact.Email),
		Phone:      HashPhone(ev.Contact.Phone),
		FirstName:  HashField(ev.Contact.FirstName),
		LastName:   HashField(ev.Contact.LastName),
		ExternalID: HashField(firstNonEmpty(ev.Contact.ExternalID, ev.Contact.DocumentID, ev.UserID)),
		ClientIP:   strings.TrimSpace(ev.Identity.ClientIP),
		UserAgent:  strings.TrimSpace(ev.Identity.UserAgent),
		ClickID:    strings.TrimSpace(ev.Identity.ClickID),
		BrowserID:  strings.TrimSpace(ev.Identity.BrowserID),
	}
}

// buildCustomData assembles kind-specific fields. Purchases must carry a
// positive value with at most two decimals, a three-letter currency, and at
// least one line item; a single fallback item is synthesized from the
// transaction id when the caller supplied none.
func (b *Builder) buildCustomData(ev event.ConversionEvent) (*CustomData, error) {
	cd := &CustomData{
		UTMSource:   ev.Identity.UTMSource,
		UTMMedium:   ev.Identity.UTMMedium,
		UTMCampaign: ev.Identity.UTMCampaign,
		UTMTerm:     ev.Identity.UTMTerm,
		UTMContent:  ev.Identity.UTMContent,
	}

	switch ev.Kind {
	case event.KindPurchase:
		if err := validateValue(ev.Value, b.maxValue); err != nil {
			return nil, err
		}
		currency := strings.ToUpper(strings.TrimSpace(ev.Currency))
		if err := validateCurrency(currency); err != nil {
			return nil, err
		}
		if ev.TransactionID == "" {
			return nil, rejectf("purchase without transaction id")
		}

		cd.Value = ev.Value
		cd.Currency = currency
		cd.OrderID = ev.TransactionID
		cd.ContentType = "product"
		cd.Contents = buildContents(ev)

	case event.KindInitiateCheckout:
		if ev.Value > 0 {
			if err := validateValue(ev.Value, b.maxValue); err != nil {
				return nil, err
			}
			cd.Value = ev.Value
			cd.Currency = strings.ToUpper(strings.TrimSpace(ev.Currency))
		}

	case event.KindLead:
		// Leads carry no monetary fields.
	}

	return cd, nil
}

// buildContents maps the caller's line items, synthesizing one from the
// transaction id when none were supplied.
func buildContents(ev event.ConversionEvent) []Content {
	if len(ev.Items) == 0 {
		return []Content{{
			ID:       ev.TransactionID,
			Quantity: 1,
			Price:    ev.Value,
		}}
	}

	contents := make([]Content, 0, len(ev.Items))
	for _, item := range ev.Items {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		contents = append(contents, Content{
			ID:       item.ID,
			Quantity: qty,
			Price:    item.Price,
		})
	}
	return contents
}

// validateValue enforces a positive amount with at most two decimal places
// within the configured ceiling.
func validateValue(value, maxValue float64) error {
	if value <= 0 {
		return rejectf("non-positive value %.4f", value)
	}
	if maxValue > 0 && value > maxValue {
		return rejectf("value %.2f exceeds ceiling %.2f", value, maxValue)
	}
	cents := value * 100
	if math.Abs(cents-math.Round(cents)) > 1e-6 {
		return rejectf("value %v has more than two decimal places", value)
	}
	return nil
}

// validateCurrency requires a three-letter alphabetic code.
func validateCurrency(currency string) error {
	if len(currency) != 3 {
		return rejectf("malformed currency %q", currency)
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return rejectf("malformed currency %q", currency)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
