// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package api

import (
	"net"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tomtom215/signalbridge/internal/event"
	"github.com/tomtom215/signalbridge/internal/identity"
	"github.com/tomtom215/signalbridge/internal/pipeline"
)

// Handler serves the trigger endpoints.
type Handler struct {
	pipeline *pipeline.Pipeline
	validate *validator.Validate
	db       *badger.DB
}

// NewHandler creates the handler. db is only used for readiness checks.
func NewHandler(p *pipeline.Pipeline, db *badger.DB) *Handler {
	return &Handler{
		pipeline: p,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		db:       db,
	}
}

// trackRequest is the browser-reported event body.
type trackRequest struct {
	EventName string `json:"event_name" validate:"required,oneof=Purchase InitiateCheckout Lead"`
	UserID    string `json:"user_id" validate:"required"`
	EventTime int64  `json:"event_time"`

	TransactionID string  `json:"transaction_id"`
	Value         float64 `json:"value"`
	Currency      string  `json:"currency" validate:"omitempty,len=3"`

	SourceURL string `json:"source_url" validate:"omitempty,url"`

	ClickID   string `json:"fbc"`
	BrowserID string `json:"fbp"`

	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMTerm     string `json:"utm_term"`
	UTMContent  string `json:"utm_content"`

	Email string `json:"email"`
	Phone string `json:"phone"`
}

// webhookRequest is the payment-gateway notification body. The gateway
// integration upstream has already verified the signature.
type webhookRequest struct {
	TransactionID string  `json:"transaction_id" validate:"required"`
	UserID        string  `json:"user_id" validate:"required"`
	Amount        float64 `json:"amount" validate:"gt=0"`
	Currency      string  `json:"currency" validate:"required,len=3"`
	PaidAt        int64   `json:"paid_at"`

	Customer struct {
		Email     string `json:"email"`
		Phone     string `json:"phone"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Document  string `json:"document"`
	} `json:"customer"`

	Items []struct {
		ID       string  `json:"id"`
		Quantity int     `json:"quantity"`
		Price    float64 `json:"price"`
	} `json:"items"`

	ClientIP string `json:"client_ip"`
}

// botRequest is the bot-originated trigger body, carrying whatever
// evidence the chat session has accumulated.
type botRequest struct {
	EventName string `json:"event_name" validate:"required,oneof=Purchase InitiateCheckout Lead"`
	UserID    string `json:"user_id" validate:"required"`
	EventTime int64  `json:"event_time"`

	TransactionID string  `json:"transaction_id"`
	Value         float64 `json:"value"`
	Currency      string  `json:"currency" validate:"omitempty,len=3"`

	ClickID   string `json:"fbc"`
	BrowserID string `json:"fbp"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent"`

	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMTerm     string `json:"utm_term"`
	UTMContent  string `json:"utm_content"`

	Email string `json:"email"`
	Phone string `json:"phone"`
}

// outcomeResponse is the JSON body for every trigger endpoint.
type outcomeResponse struct {
	Outcome string `json:"outcome"`
	EventID string `json:"event_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Track handles the browser-reported event. The pixel call carries the
// strongest identity evidence: both cookies plus campaign tags.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !h.decode(w, r, &req) {
		return
	}

	t := pipeline.Trigger{
		Channel:       event.ChannelBrowser,
		Kind:          event.Kind(req.EventName),
		UserID:        req.UserID,
		TransactionID: req.TransactionID,
		Value:         req.Value,
		Currency:      req.Currency,
		SourceURL:     req.SourceURL,
		OccurredAt:    unixOrNow(req.EventTime),
		Evidence: identity.Snapshot{
			ClickID:     req.ClickID,
			BrowserID:   req.BrowserID,
			ClientIP:    clientIP(r),
			UserAgent:   r.UserAgent(),
			UTMSource:   req.UTMSource,
			UTMMedium:   req.UTMMedium,
			UTMCampaign: req.UTMCampaign,
			UTMTerm:     req.UTMTerm,
			UTMContent:  req.UTMContent,
			SourceURL:   req.SourceURL,
		},
		Contact: event.Contact{
			Email: req.Email,
			Phone: req.Phone,
		},
	}

	h.respond(w, h.pipeline.ProcessAsync(r.Context(), t))
}

// PaymentWebhook handles the gateway notification: an authoritative
// transaction id and amount, usually with weak identity evidence.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !h.decode(w, r, &req) {
		return
	}

	items := make([]event.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, event.LineItem{
			ID:       it.ID,
			Quantity: it.Quantity,
			Price:    it.Price,
		})
	}

	t := pipeline.Trigger{
		Channel:       event.ChannelWebhook,
		Kind:          event.KindPurchase,
		UserID:        req.UserID,
		TransactionID: req.TransactionID,
		Value:         req.Amount,
		Currency:      req.Currency,
		Items:         items,
		OccurredAt:    unixOrNow(req.PaidAt),
		Evidence: identity.Snapshot{
			ClientIP: req.ClientIP,
		},
		Contact: event.Contact{
			Email:      req.Customer.Email,
			Phone:      req.Customer.Phone,
			FirstName:  req.Customer.FirstName,
			LastName:   req.Customer.LastName,
			DocumentID: req.Customer.Document,
		},
	}

	h.respond(w, h.pipeline.ProcessAsync(r.Context(), t))
}

// BotEvent handles the bot-originated trigger.
func (h *Handler) BotEvent(w http.ResponseWriter, r *http.Request) {
	var req botRequest
	if !h.decode(w, r, &req) {
		return
	}

	t := pipeline.Trigger{
		Channel:       event.ChannelBot,
		Kind:          event.Kind(req.EventName),
		UserID:        req.UserID,
		TransactionID: req.TransactionID,
		Value:         req.Value,
		Currency:      req.Currency,
		OccurredAt:    unixOrNow(req.EventTime),
		Evidence: identity.Snapshot{
			ClickID:     req.ClickID,
			BrowserID:   req.BrowserID,
			ClientIP:    req.ClientIP,
			UserAgent:   req.UserAgent,
			UTMSource:   req.UTMSource,
			UTMMedium:   req.UTMMedium,
			UTMCampaign: req.UTMCampaign,
			UTMTerm:     req.UTMTerm,
			UTMContent:  req.UTMContent,
		},
		Contact: event.Contact{
			Email: req.Email,
			Phone: req.Phone,
		},
	}

	h.respond(w, h.pipeline.ProcessAsync(r.Context(), t))
}

// HealthLive is the liveness probe.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady is the readiness probe; it fails when the durable store is
// unavailable, since the at-most-once guarantee depends on it.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.db == nil || h.db.IsClosed() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "storage unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode parses and validates the request body, writing the error response
// itself. Returns false when the request was rejected.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, outcomeResponse{Outcome: "error", Reason: "malformed JSON: " + err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, outcomeResponse{Outcome: "error", Reason: err.Error()})
		return false
	}
	return true
}

// respond maps a pipeline outcome onto an HTTP status.
func (h *Handler) respond(w http.ResponseWriter, o pipeline.Outcome) {
	resp := outcomeResponse{
		Outcome: string(o.Status),
		EventID: o.EventID,
		Reason:  o.Reason,
	}

	switch o.Status {
	case pipeline.StatusAccepted, pipeline.StatusSent:
		writeJSON(w, http.StatusAccepted, resp)
	case pipeline.StatusDuplicate:
		writeJSON(w, http.StatusOK, resp)
	case pipeline.StatusRejected:
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	default:
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// unixOrNow converts a unix-seconds timestamp, defaulting to now.
func unixOrNow(ts int64) time.Time {
	if ts <= 0 {
		return time.Now()
	}
	return time.Unix(ts, 0)
}

// clientIP strips the port from RemoteAddr; RealIP middleware has already
// substituted any forwarded address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
