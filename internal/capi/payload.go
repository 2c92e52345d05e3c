// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

// Package capi builds the wire payloads for the advertising platform's
// conversions API: field normalization, one-way hashing of personal data,
// and kind-specific validation. Rejections are returned as values so the
// caller decides whether to log-and-drop or retry upstream.
package capi

// Payload is the body of one outbound POST. One event per request.
type Payload struct {
	Data []WireEvent `json:"data"`

	// TestEventCode marks the batch as sandbox traffic. Only set when
	// explicitly configured, never inferred.
	TestEventCode string `json:"test_event_code,omitempty"`
}

// WireEvent is one conversion event in the platform schema.
type WireEvent struct {
	EventName    string `json:"event_name"`
	EventTime    int64  `json:"event_time"`
	EventID      string `json:"event_id"`
	ActionSource string `json:"action_source"`

	EventSourceURL string `json:"event_source_url,omitempty"`

	UserData   UserData    `json:"user_data"`
	CustomData *CustomData `json:"custom_data,omitempty"`
}

// UserData carries the identity fields. Absent fields are omitted, not
// null: the downstream API treats an explicit null differently from a
// missing key. Hashed fields hold hex SHA-256 of the normalized value.
type UserData struct {
	Email      string `json:"em,omitempty"`
	Phone      string `json:"ph,omitempty"`
	FirstName  string `json:"fn,omitempty"`
	LastName   string `json:"ln,omitempty"`
	ExternalID string `json:"external_id,omitempty"`

	ClientIP  string `json:"client_ip_address,omitempty"`
	UserAgent string `json:"client_user_agent,omitempty"`

	// ClickID and BrowserID ride unhashed per the platform contract.
	ClickID   string `json:"fbc,omitempty"`
	BrowserID string `json:"fbp,omitempty"`
}

// fieldCount returns how many independent identity fields are present.
func (u UserData) fieldCount() int {
	n := 0
	for _, v := range []string{
		u.Email, u.Phone, u.FirstName, u.LastName, u.ExternalID,
		u.ClientIP, u.UserAgent, u.ClickID, u.BrowserID,
	} {
		if v != "" {
			n++
		}
	}
	return n
}

// CustomData carries event-kind-specific fields plus campaign tags.
type CustomData struct {
	Value    float64 `json:"value,omitempty"`
	Currency string  `json:"currency,omitempty"`
	OrderID  string  `json:"order_id,omitempty"`

	Contents    []Content `json:"contents,omitempty"`
	ContentType string    `json:"content_type,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
}

// Content is one line item in a purchase.
type Content struct {
	ID       string  `json:"id"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"item_price,omitempty"`
}
