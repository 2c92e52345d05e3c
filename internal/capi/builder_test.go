// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package capi

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/signalbridge/internal/event"
	"github.com/tomtom215/signalbridge/internal/identity"
)

func purchaseEvent() event.ConversionEvent {
	return event.ConversionEvent{
		Kind:          event.KindPurchase,
		Channel:       event.ChannelWebhook,
		EventID:       "ev-1",
		OccurredAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		UserID:        "u1",
		TransactionID: "tx-100",
		Value:         149.90,
		Currency:      "brl",
		Identity: identity.Snapshot{
			ClientIP:  "203.0.113.7",
			UserAgent: "agent",
		},
		Contact: event.Contact{
			Email: "maria@example.com",
		},
	}
}

func TestBuilder_PurchaseHappyPath(t *testing.T) {
	b := NewBuilder("", 1_000_000)

	payload, err := b.Build(purchaseEvent())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(payload.Data) != 1 {
		t.Fatalf("Data length = %d, want 1", len(payload.Data))
	}

	wire := payload.Data[0]
	if wire.EventName != "Purchase" {
		t.Errorf("EventName = %q, want Purchase", wire.EventName)
	}
	if wire.EventID != "ev-1" {
		t.Errorf("EventID = %q, want ev-1", wire.EventID)
	}
	if wire.ActionSource != "website" {
		t.Errorf("ActionSource = %q, want website", wire.ActionSource)
	}
	if wire.EventTime != time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Unix() {
		t.Errorf("EventTime = %d, want unix seconds of occurrence", wire.EventTime)
	}

	if wire.CustomData == nil {
		t.Fatal("CustomData missing on purchase")
	}
	if wire.CustomData.Currency != "BRL" {
		t.Errorf("Currency = %q, want upper-cased BRL", wire.CustomData.Currency)
	}
	if wire.CustomData.OrderID != "tx-100" {
		t.Errorf("OrderID = %q, want tx-100", wire.CustomData.OrderID)
	}
	if len(wire.CustomData.Contents) != 1 || wire.CustomData.Contents[0].ID != "tx-100" {
		t.Errorf("Contents = %+v, want one fallback item keyed on the transaction", wire.CustomData.Contents)
	}
}

func TestBuilder_PIIHashedOnWire(t *testing.T) {
	b := NewBuilder("", 0)

	payload, err := b.Build(purchaseEvent())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ud := payload.Data[0].UserData
	if ud.Email == "maria@example.com" {
		t.Error("email left plain on the wire")
	}
	if ud.Email != sha256hex("maria@example.com") {
		t.Errorf("Email = %s, want normalized digest", ud.Email)
	}
	if ud.ExternalID != sha256hex("u1") {
		t.Errorf("ExternalID = %s, want hashed user id fallback", ud.ExternalID)
	}
	// Weak fields ride plain.
	if ud.ClientIP != "203.0.113.7" {
		t.Errorf("ClientIP = %q, want plain", ud.ClientIP)
	}
}

func TestBuilder_ExternalIDPrecedence(t *testing.T) {
	ev := purchaseEvent()
	ev.Contact.DocumentID = "123.456.789-00"

	b := NewBuilder("", 0)
	payload, err := b.Build(ev)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if got := payload.Data[0].UserData.ExternalID; got != sha256hex("123.456.789-00") {
		t.Errorf("ExternalID = %s, want document id over user id", got)
	}
}

func TestBuilder_InsufficientIdentityRejected(t *testing.T) {
	ev := purchaseEvent()
	ev.Identity = identity.Snapshot{ClientIP: "203.0.113.7"}
	ev.Contact = event.Contact{}
	ev.UserID = ""

	b := NewBuilder("", 0)
	_, err := b.Build(ev)

	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want *RejectionError", err)
	}
	if !strings.Contains(rej.Reason, "insufficient identity") {
		t.Errorf("Reason = %q, want insufficient-identity rejection", rej.Reason)
	}
}

func TestBuilder_PurchaseValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*event.ConversionEvent)
	}{
		{"zero value", func(e *event.ConversionEvent) { e.Value = 0 }},
		{"negative value", func(e *event.ConversionEvent) { e.Value = -10 }},
		{"value over ceiling", func(e *event.ConversionEvent) { e.Value = 2_000_000 }},
		{"three decimal places", func(e *event.ConversionEvent) { e.Value = 9.999 }},
		{"short currency", func(e *event.ConversionEvent) { e.Currency = "R$" }},
		{"numeric currency", func(e *event.ConversionEvent) { e.Currency = "986" }},
		{"missing transaction id", func(e *event.ConversionEvent) { e.TransactionID = "" }},
	}

	b := NewBuilder("", 1_000_000)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := purchaseEvent()
			tt.mutate(&ev)

			_, err := b.Build(ev)

			var rej *RejectionError
			if !errors.As(err, &rej) {
				t.Errorf("err = %v, want *RejectionError", err)
			}
		})
	}
}

func TestBuilder_LineItemsPreserved(t *testing.T) {
	ev := purchaseEvent()
	ev.Items = []event.LineItem{
		{ID: "sku-1", Quantity: 2, Price: 50},
		{ID: "sku-2", Quantity: 0, Price: 49.90},
	}

	b := NewBuilder("", 0)
	payload, err := b.Build(ev)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	contents := payload.Data[0].CustomData.Contents
	if len(contents) != 2 {
		t.Fatalf("Contents length = %d, want 2", len(contents))
	}
	if contents[0].ID != "sku-1" || contents[0].Quantity != 2 {
		t.Errorf("Contents[0] = %+v", contents[0])
	}
	// Zero quantity is normalized to one.
	if contents[1].Quantity != 1 {
		t.Errorf("Contents[1].Quantity = %d, want 1", contents[1].Quantity)
	}
}

func TestBuilder_CheckoutOptionalValue(t *testing.T) {
	ev := purchaseEvent()
	ev.Kind = event.KindInitiateCheckout
	ev.TransactionID = ""
	ev.Value = 0
	ev.Currency = ""

	b := NewBuilder("", 0)
	payload, err := b.Build(ev)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if cd := payload.Data[0].CustomData; cd.Value != 0 || cd.Currency != "" {
		t.Errorf("CustomData = %+v, want no monetary fields", cd)
	}
}

func TestBuilder_LeadCarriesNoMoney(t *testing.T) {
	ev := purchaseEvent()
	ev.Kind = event.KindLead
	ev.Value = 500 // Ignored for leads.

	b := NewBuilder("", 0)
	payload, err := b.Build(ev)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if payload.Data[0].CustomData.Value != 0 {
		t.Errorf("Value = %v, want 0 for lead", payload.Data[0].CustomData.Value)
	}
}

func TestBuilder_CampaignTagsOnWire(t *testing.T) {
	ev := purchaseEvent()
	ev.Identity.UTMSource = "google"
	ev.Identity.UTMCampaign = "spring"

	b := NewBuilder("", 0)
	payload, err := b.Build(ev)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	cd := payload.Data[0].CustomData
	if cd.UTMSource != "google" || cd.UTMCampaign != "spring" {
		t.Errorf("campaign tags = source=%q campaign=%q", cd.UTMSource, cd.UTMCampaign)
	}
}

func TestBuilder_TestEventCode(t *testing.T) {
	b := NewBuilder("TEST12345", 0)
	payload, err := b.Build(purchaseEvent())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if payload.TestEventCode != "TEST12345" {
		t.Errorf("TestEventCode = %q, want TEST12345", payload.TestEventCode)
	}

	b = NewBuilder("", 0)
	payload, _ = b.Build(purchaseEvent())
	if payload.TestEventCode != "" {
		t.Errorf("TestEventCode = %q, want empty when not configured", payload.TestEventCode)
	}
}

func TestBuilder_EmptyFieldsOmittedFromJSON(t *testing.T) {
	ev := purchaseEvent()
	ev.Contact = event.Contact{Email: "maria@example.com"}

	b := NewBuilder("", 0)
	payload, err := b.Build(ev)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// Absent identity fields must be omitted entirely, not serialized as
	// empty strings or nulls.
	for _, key := range []string{`"ph"`, `"fn"`, `"ln"`, `"fbc"`, `"fbp"`, `"test_event_code"`} {
		if strings.Contains(string(raw), key) {
			t.Errorf("payload JSON contains %s for an absent field: %s", key, raw)
		}
	}
}
