// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

// Package delivery performs the outbound call to the advertising platform
// with bounded retries, failure classification, and circuit breaking.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/signalbridge/internal/capi"
	"github.com/tomtom215/signalbridge/internal/logging"
)

// ErrMissingCredentials is the permanent configuration error for an absent
// bearer token or destination id.
var ErrMissingCredentials = errors.New("delivery credentials missing")

// Credentials authenticate against the platform. Both fields are required;
// the absence of either is a configuration error, never retried.
type Credentials struct {
	// PixelID is the platform-assigned destination id.
	PixelID string

	// AccessToken is the bearer credential.
	AccessToken string
}

// Complete reports whether both credential halves are present.
func (c Credentials) Complete() bool {
	return c.PixelID != "" && c.AccessToken != ""
}

// Result is the outcome of one Deliver call, after all retries.
type Result struct {
	Success bool

	// TraceID is the platform's acknowledgement id, for audit logging.
	TraceID string

	// EventsReceived is the platform's accepted-event count.
	EventsReceived int

	// StatusCode is the last HTTP status observed (0 for network errors).
	StatusCode int

	// Attempts is how many attempts were made.
	Attempts int

	// Retryable reports whether a later re-attempt could succeed. False
	// for 4xx, malformed responses, and configuration errors.
	Retryable bool

	Err error
}

// Config tunes the client.
type Config struct {
	// Endpoint is the platform API base URL.
	Endpoint string

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// Attempts is the total attempt budget (first try included).
	Attempts int

	// Backoff holds the waits between attempts; Backoff[i] follows
	// attempt i+1.
	Backoff []time.Duration

	// RateLimit caps outbound requests per second. 0 disables limiting.
	RateLimit float64
	RateBurst int

	// BreakerThreshold is consecutive failures before the circuit opens;
	// BreakerTimeout how long it stays open.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

// Client is the outbound delivery client. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*platformResponse]
}

// platformResponse is the platform's reply body for both success and error
// cases.
type platformResponse struct {
	EventsReceived int    `json:"events_received"`
	TraceID        string `json:"fbtrace_id"`

	Error *platformError `json:"error"`

	statusCode int
}

type platformError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// NewClient creates a delivery client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	settings := gobreaker.Settings{
		Name:    "conversions-api",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Delivery circuit breaker state change")
		},
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		breaker: gobreaker.NewCircuitBreaker[*platformResponse](settings),
	}
}

// Deliver posts the payload, retrying transient failures up to the attempt
// budget with the configured backoff. Permanent failures (4xx, bad
// configuration) return immediately with Retryable=false. On success the
// Result carries the platform's acknowledgement id.
func (c *Client) Deliver(ctx context.Context, payload capi.Payload, creds Credentials) Result {
	if !creds.Complete() {
		return Result{Success: false, Retryable: false, Err: ErrMissingCredentials}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Success: false, Retryable: false, Err: fmt.Errorf("marshaling payload: %w", err)}
	}

	endpoint, err := c.buildURL(creds)
	if err != nil {
		return Result{Success: false, Retryable: false, Err: err}
	}

	var last Result
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if ctx.Err() != nil {
			last.Err = ctx.Err()
			last.Attempts = attempt - 1
			return last
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				last.Err = err
				last.Attempts = attempt - 1
				return last
			}
		}

		last = c.attempt(ctx, endpoint, body)
		last.Attempts = attempt

		if last.Success || !last.Retryable {
			return last
		}

		if attempt < c.cfg.Attempts {
			delay := c.backoffFor(attempt - 1)
			logging.Warn().
				Err(last.Err).
				Int("attempt", attempt).
				Int("max_attempts", c.cfg.Attempts).
				Dur("delay", delay).
				Msg("Delivery attempt failed, backing off")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				last.Err = ctx.Err()
				return last
			}
		}
	}

	return last
}

// attempt performs one POST through the circuit breaker and classifies the
// outcome.
func (c *Client) attempt(ctx context.Context, endpoint string, body []byte) Result {
	resp, err := c.breaker.Execute(func() (*platformResponse, error) {
		return c.post(ctx, endpoint, body)
	})
	if err != nil {
		var httpErr *httpError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			// Open breaker: upstream is known bad; retry later.
			return Result{Retryable: true, Err: err}
		case errors.As(err, &httpErr):
			return Result{
				StatusCode: httpErr.statusCode,
				Retryable:  retryableStatus(httpErr.statusCode),
				Err:        err,
			}
		default:
			// Network-level failure or timeout.
			return Result{Retryable: true, Err: err}
		}
	}

	return Result{
		Success:        true,
		TraceID:        resp.TraceID,
		EventsReceived: resp.EventsReceived,
		StatusCode:     resp.statusCode,
	}
}

// httpError carries a non-2xx response through the breaker.
type httpError struct {
	statusCode int
	detail     string
}

func (e *httpError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("platform returned %d: %s", e.statusCode, e.detail)
	}
	return fmt.Sprintf("platform returned %d", e.statusCode)
}

// post performs the HTTP exchange. Non-2xx statuses return *httpError so
// the breaker counts them as failures.
func (c *Client) post(ctx context.Context, endpoint string, body []byte) (*platformResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var parsed platformResponse
	if len(raw) > 0 {
		// Tolerate unparseable bodies; status classification decides.
		_ = json.Unmarshal(raw, &parsed)
	}
	parsed.statusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := ""
		if parsed.Error != nil {
			detail = parsed.Error.Message
		}
		return nil, &httpError{statusCode: resp.StatusCode, detail: detail}
	}

	return &parsed, nil
}

// buildURL composes {endpoint}/{pixel_id}/events?access_token=...
func (c *Client) buildURL(creds Credentials) (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("malformed delivery endpoint: %w", err)
	}
	u = u.JoinPath(creds.PixelID, "events")
	q := u.Query()
	q.Set("access_token", creds.AccessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// backoffFor returns the wait after the given zero-based attempt index,
// falling back to doubling the last configured delay when the schedule is
// shorter than the attempt budget.
func (c *Client) backoffFor(idx int) time.Duration {
	if len(c.cfg.Backoff) == 0 {
		return 200 * time.Millisecond << idx
	}
	if idx < len(c.cfg.Backoff) {
		return c.cfg.Backoff[idx]
	}
	return c.cfg.Backoff[len(c.cfg.Backoff)-1] * 2
}

// retryableStatus classifies HTTP statuses: 5xx and 429 are transient,
// anything else in the 4xx range is permanent.
func retryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	return code == http.StatusTooManyRequests
}
