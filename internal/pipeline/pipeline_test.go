// Signalbridge - Conversion Event Reconciliation and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalbridge

package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/signalbridge/internal/capi"
	"github.com/tomtom215/signalbridge/internal/dedup"
	"github.com/tomtom215/signalbridge/internal/delivery"
	"github.com/tomtom215/signalbridge/internal/event"
	"github.com/tomtom215/signalbridge/internal/funnelmetrics"
	"github.com/tomtom215/signalbridge/internal/identity"
)

// testRig is a full pipeline against an in-memory database and a stub
// platform server.
type testRig struct {
	pipeline *Pipeline
	pending  *PendingLedger
	dedup    dedup.Store
	calls    *atomic.Int32
}

func newTestRig(t *testing.T, platformStatus int) *testRig {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("Failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close badger: %v", err)
		}
	})

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if platformStatus != http.StatusOK {
			w.WriteHeader(platformStatus)
			return
		}
		_, _ = w.Write([]byte(`{"events_received":1,"fbtrace_id":"trace-t"}`))
	}))
	t.Cleanup(srv.Close)

	cache := identity.NewCache(1000, time.Minute)
	store := identity.NewBadgerStore(db, time.Hour)
	resolver := identity.NewResolver(cache, store)

	fast := dedup.NewMemoryTier(1000, time.Minute)
	durable := dedup.NewBadgerTier(db, time.Hour)
	dedupStore := dedup.NewTwoTier(fast, durable, time.Hour)

	client := delivery.NewClient(delivery.Config{
		Endpoint:         srv.URL,
		Timeout:          time.Second,
		Attempts:         2,
		Backoff:          []time.Duration{time.Millisecond},
		BreakerThreshold: 1000,
		BreakerTimeout:   time.Second,
	})

	pending := NewPendingLedger(db, time.Hour)

	p := New(Options{
		Resolver:    resolver,
		Cache:       cache,
		Assigner:    event.NewAssigner(5 * time.Minute),
		Dedup:       dedupStore,
		Builder:     capi.NewBuilder("", 1_000_000),
		Client:      client,
		Credentials: delivery.Credentials{PixelID: "12345", AccessToken: "token"},
		Recorder:    funnelmetrics.NewRecorder(nil),
		Pending:     pending,
		DedupTTL:    time.Hour,
	})

	return &testRig{pipeline: p, pending: pending, dedup: dedupStore, calls: &calls}
}

func purchaseTrigger(txID string, channel event.Channel) Trigger {
	return Trigger{
		Channel:       channel,
		Kind:          event.KindPurchase,
		UserID:        "u1",
		TransactionID: txID,
		Value:         149.90,
		Currency:      "BRL",
		OccurredAt:    time.Now(),
		Evidence: identity.Snapshot{
			ClientIP:  "203.0.113.7",
			UserAgent: "agent",
		},
		Contact: event.Contact{Email: "maria@example.com"},
	}
}

func TestPipeline_PurchaseDelivered(t *testing.T) {
	rig := newTestRig(t, http.StatusOK)

	outcome := rig.pipeline.Process(context.Background(), purchaseTrigger("tx-1", event.ChannelWebhook))

	if outcome.Status != StatusSent {
		t.Fatalf("Status = %q (%v), want sent", outcome.Status, outcome.Err)
	}
	if outcome.TraceID != "trace-t" {
		t.Errorf("TraceID = %q, want trace-t", outcome.TraceID)
	}
	if rig.calls.Load() != 1 {
		t.Errorf("platform calls = %d, want 1", rig.calls.Load())
	}
}

func TestPipeline_CrossChannelDuplicateSuppressed(t *testing.T) {
	rig := newTestRig(t, http.StatusOK)
	ctx := context.Background()

	first := rig.pipeline.Process(ctx, purchaseTrigger("tx-1", event.ChannelBrowser))
	second := rig.pipeline.Process(ctx, purchaseTrigger("tx-1", event.ChannelWebhook))

	if first.Status != StatusSent {
		t.Fatalf("first Status = %q, want sent", first.Status)
	}
	if second.Status != StatusDuplicate {
		t.Errorf("second Status = %q, want duplicate", second.Status)
	}
	if first.EventID != second.EventID {
		t.Errorf("event ids differ across channels: %s vs %s", first.EventID, second.EventID)
	}
	if rig.calls.Load() != 1 {
		t.Errorf("platform calls = %d, want exactly 1", rig.calls.Load())
	}
}

func TestPipeline_ConcurrentTriggersOneDelivery(t *testing.T) {
	rig := newTestRig(t, http.StatusOK)
	ctx := context.Background()

	channels := []event.Channel{
		event.ChannelBrowser, event.ChannelWebhook, event.ChannelBot,
	}

	const n = 12
	var sent atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := rig.pipeline.Process(ctx, purchaseTrigger("tx-race", channels[i%len(channels)]))
			if outcome.Status == StatusSent {
				sent.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := sent.Load(); got != 1 {
		t.Errorf("sent outcomes = %d, want exactly 1", got)
	}
	if rig.calls.Load() != 1 {
		t.Errorf("platform calls = %d, want exactly 1", rig.calls.Load())
	}
}

func TestPipeline_RejectionBeforeNetwork(t *testing.T) {
	rig := newTestRig(t, http.StatusOK)

	trigger := purchaseTrigger("tx-bad", event.ChannelWebhook)
	trigger.Value = -5

	outcome := rig.pipeline.Process(context.Background(), trigger)

	if outcome.Status != StatusRejected {
		t.Fatalf("Status = %q, want rejected", outcome.Status)
	}
	if outcome.Reason == "" {
		t.Error("rejection must carry a reason")
	}
	if rig.calls.Load() != 0 {
		t.Errorf("platform calls = %d, want 0 for rejected event", rig.calls.Load())
	}
}

func TestPipeline_RejectionReleasesClaim(t *testing.T) {
	rig := newTestRig(t, http.StatusOK)
	ctx := context.Background()

	bad := purchaseTrigger("tx-1", event.ChannelBot)
	bad.Value = -5
	if outcome := rig.pipeline.Process(ctx, bad); outcome.Status != StatusRejected {
		t.Fatalf("Status = %q, want rejected", outcome.Status)
	}

	// A later trigger with sound data must be deliverable, not blocked
	// behind the rejected attempt's claim.
	good := purchaseTrigger("tx-1", event.ChannelWebhook)
	if outcome := rig.pipeline.Process(ctx, good); outcome.Status != StatusSent {
		t.Errorf("Status = %q after rejection, want sent", outcome.Status)
	}
}

func TestPipeline_TransientFailureParksForSweep(t *testing.T) {
	rig := newTestRig(t, http.StatusInternalServerError)
	ctx := context.Background()

	outcome := rig.pipeline.Process(ctx, purchaseTrigger("tx-1", event.ChannelWebhook))

	if outcome.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", outcome.Status)
	}

	entries, err := rig.pending.List(ctx, 10)
	if err != nil {
		t.Fatalf("pending List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("pending entries = %d, want 1", len(entries))
	}
	if entries[0].EventID != outcome.EventID {
		t.Errorf("parked event id = %q, want %q", entries[0].EventID, outcome.EventID)
	}

	// The claim was released, so a retry is possible.
	res, err := rig.dedup.Claim(ctx, dedup.Claim{
		EventID: outcome.EventID,
		Channel: event.ChannelSweep,
		Kind:    event.KindPurchase,
	})
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if !res.Claimed {
		t.Error("claim still held after failed delivery")
	}
}

func TestPipeline_ProcessAsyncReturnsBeforeDelivery(t *testing.T) {
	rig := newTestRig(t, http.StatusOK)

	outcome := rig.pipeline.ProcessAsync(context.Background(), purchaseTrigger("tx-1", event.ChannelBrowser))

	if outcome.Status != StatusAccepted {
		t.Fatalf("Status = %q, want accepted", outcome.Status)
	}
	if outcome.EventID == "" {
		t.Error("accepted outcome must carry the event id")
	}

	// Delivery settles in the background.
	deadline := time.Now().Add(2 * time.Second)
	for rig.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rig.calls.Load() != 1 {
		t.Errorf("platform calls = %d, want 1 after async settle", rig.calls.Load())
	}
}

func TestPipeline_ProcessAsyncDuplicateIsSynchronous(t *testing.T) {
	rig := newTestRig(t, http.StatusOK)
	ctx := context.Background()

	if outcome := rig.pipeline.Process(ctx, purchaseTrigger("tx-1", event.ChannelBrowser)); outcome.Status != StatusSent {
		t.Fatalf("seed Status = %q, want sent", outcome.Status)
	}

	outcome := rig.pipeline.ProcessAsync(ctx, purchaseTrigger("tx-1", event.ChannelWebhook))
	if outcome.Status != StatusDuplicate {
		t.Errorf("Status = %q, want duplicate reported synchronously", outcome.Status)
	}
}

func TestPipeline_SuccessfulDeliveryClearsPending(t *testing.T) {
	rig := newTestRig(t, http.StatusOK)
	ctx := context.Background()

	// Seed a pending record as if a prior delivery had failed.
	trigger := purchaseTrigger("tx-1", event.ChannelWebhook)
	outcome := rig.pipeline.Process(ctx, trigger)
	if outcome.Status != StatusSent {
		t.Fatalf("Status = %q, want sent", outcome.Status)
	}

	_ = rig.pending.Park(ctx, trigger, outcome.EventID)

	// Release and re-process; on success the pending record must go.
	_ = rig.dedup.Release(ctx, outcome.EventID, event.ChannelWebhook)
	if o := rig.pipeline.Process(ctx, trigger); o.Status != StatusSent {
		t.Fatalf("re-process Status = %q, want sent", o.Status)
	}

	entries, _ := rig.pending.List(ctx, 10)
	if len(entries) != 0 {
		t.Errorf("pending entries = %d after successful delivery, want 0", len(entries))
	}
}

func TestSweepService_RedeliversPendingEvents(t *testing.T) {
	rig := newTestRig(t, http.StatusOK)
	ctx := context.Background()

	// Park a trigger whose delivery never got confirmed.
	trigger := purchaseTrigger("tx-sweep", event.ChannelWebhook)
	eventID := "ev-parked"
	if err := rig.pending.Park(ctx, trigger, eventID); err != nil {
		t.Fatalf("Park failed: %v", err)
	}

	sweep := NewSweepService(rig.pipeline, rig.pending, 10*time.Millisecond, 10)

	runCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = sweep.Serve(runCtx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for rig.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if rig.calls.Load() == 0 {
		t.Fatal("sweep never attempted delivery")
	}

	entries, _ := rig.pending.List(ctx, 10)
	if len(entries) != 0 {
		t.Errorf("pending entries = %d after sweep success, want 0", len(entries))
	}
}
