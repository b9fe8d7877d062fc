package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stagefront/poscore/internal/kvstore"
	"github.com/stagefront/poscore/internal/models"
	"github.com/stagefront/poscore/internal/queue"
)

type stubProber struct {
	online bool
	calls  int
}

func (p *stubProber) Probe(ctx context.Context) bool {
	p.calls++
	return p.online
}

type stubUploader struct {
	calls []string // queue IDs in upload order
	err   error
}

func (u *stubUploader) SubmitOrder(ctx context.Context, token string, order models.QueuedOrder) error {
	u.calls = append(u.calls, order.QueueID)
	return u.err
}

type testRig struct {
	engine   *Engine
	queue    *queue.Queue
	store    *kvstore.MemoryStore
	prober   *stubProber
	uploader *stubUploader
	sleeps   []time.Duration
}

func newRig(online bool, uploadErr error) *testRig {
	store := kvstore.NewMemoryStore(0)
	q := queue.New(store, nil)
	prober := &stubProber{online: online}
	uploader := &stubUploader{err: uploadErr}

	rig := &testRig{
		engine:   New(q, uploader, prober, store, nil, nil),
		queue:    q,
		store:    store,
		prober:   prober,
		uploader: uploader,
	}
	rig.engine.sleep = func(ctx context.Context, d time.Duration) {
		rig.sleeps = append(rig.sleeps, d)
	}
	return rig
}

func TestSyncSkipsWhenOffline(t *testing.T) {
	rig := newRig(false, nil)
	rig.queue.Enqueue("T1", json.RawMessage(`{}`))

	run := rig.engine.SyncPendingOrders(context.Background(), "T1", "tok", nil)

	if run.Success {
		t.Error("expected failure result when offline")
	}
	if run.Message != "no connection" {
		t.Errorf("expected 'no connection', got %q", run.Message)
	}
	if len(rig.uploader.calls) != 0 {
		t.Errorf("expected zero uploads, got %d", len(rig.uploader.calls))
	}

	got := rig.queue.List("T1")[0]
	if got.SyncStatus != models.SyncStatusPending || got.RetryCount != 0 {
		t.Errorf("queue must not be mutated: %+v", got)
	}
	if rig.engine.LastSyncTime("T1") != 0 {
		t.Error("lastSyncTime must not be recorded on a skipped pass")
	}
}

func TestSyncSuccessEndToEnd(t *testing.T) {
	rig := newRig(false, nil)
	rig.queue.Enqueue("T1", json.RawMessage(`{"customer":"ada"}`))

	// Connectivity flips to online; one pass drains the queue.
	rig.prober.online = true
	run := rig.engine.SyncPendingOrders(context.Background(), "T1", "tok", nil)

	if !run.Success {
		t.Fatalf("expected success, got %+v", run)
	}
	if run.SyncedCount != 1 || run.FailedCount != 0 {
		t.Errorf("expected 1 synced / 0 failed, got %+v", run)
	}
	if got := len(rig.queue.List("T1")); got != 0 {
		t.Errorf("expected empty queue, got %d", got)
	}
	if rig.queue.PendingCount("T1") != 0 {
		t.Error("expected zero pending orders")
	}
	if rig.engine.LastSyncTime("T1") == 0 {
		t.Error("expected lastSyncTime to be recorded")
	}
}

func TestSyncAllFailSequential(t *testing.T) {
	rig := newRig(true, errors.New("network error"))

	var ids []string
	for i := 0; i < 3; i++ {
		o, _ := rig.queue.Enqueue("T1", json.RawMessage(`{}`))
		ids = append(ids, o.QueueID)
	}

	run := rig.engine.SyncPendingOrders(context.Background(), "T1", "tok", nil)

	if run.Success {
		t.Error("expected failure result")
	}
	if run.FailedCount != 3 || run.SyncedCount != 0 {
		t.Errorf("expected 3 failed / 0 synced, got %+v", run)
	}

	orders := rig.queue.List("T1")
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders retained, got %d", len(orders))
	}
	for _, o := range orders {
		if o.SyncStatus != models.SyncStatusFailed {
			t.Errorf("expected failed status, got %s", o.SyncStatus)
		}
		if o.RetryCount != 1 {
			t.Errorf("expected retry count 1, got %d", o.RetryCount)
		}
		if o.SyncError == "" {
			t.Error("expected sync error recorded")
		}
	}

	// Uploads strictly in enqueue order.
	for i, id := range ids {
		if rig.uploader.calls[i] != id {
			t.Errorf("upload %d out of order: %s vs %s", i, rig.uploader.calls[i], id)
		}
	}

	// First-attempt failures back off 2s each; no wait after the last order.
	if len(rig.sleeps) != 2 {
		t.Fatalf("expected 2 backoff waits, got %d", len(rig.sleeps))
	}
	for _, d := range rig.sleeps {
		if d != 2*time.Second {
			t.Errorf("expected 2s backoff, got %s", d)
		}
	}

	if rig.engine.LastSyncTime("T1") == 0 {
		t.Error("lastSyncTime recorded regardless of outcome")
	}
}

func TestBackoffIndexedByPreFailureRetryCount(t *testing.T) {
	rig := newRig(true, errors.New("still down"))

	a, _ := rig.queue.Enqueue("T1", json.RawMessage(`{}`))
	rig.queue.Enqueue("T1", json.RawMessage(`{}`))

	// First order already failed once before this pass.
	rig.queue.UpdateStatus("T1", a.QueueID, models.SyncStatusFailed, "earlier")

	rig.engine.SyncPendingOrders(context.Background(), "T1", "tok", nil)

	// a fails at retryCount 1 -> 4s wait before the next order.
	if len(rig.sleeps) != 1 {
		t.Fatalf("expected 1 backoff wait, got %d", len(rig.sleeps))
	}
	if rig.sleeps[0] != 4*time.Second {
		t.Errorf("expected 4s backoff for second attempt, got %s", rig.sleeps[0])
	}
}

func TestDeadLetterExcludedFromSync(t *testing.T) {
	rig := newRig(true, nil)

	o, _ := rig.queue.Enqueue("T1", json.RawMessage(`{}`))
	for i := 0; i < queue.MaxRetries; i++ {
		rig.queue.UpdateStatus("T1", o.QueueID, models.SyncStatusFailed, "boom")
	}

	run := rig.engine.SyncPendingOrders(context.Background(), "T1", "tok", nil)

	if len(rig.uploader.calls) != 0 {
		t.Errorf("dead-letter order must not be uploaded, got %d calls", len(rig.uploader.calls))
	}
	if !run.Success {
		t.Error("a pass with only dead-letter orders should not report failure")
	}

	got := rig.queue.List("T1")[0]
	if got.SyncStatus != models.SyncStatusFailed {
		t.Errorf("expected failed status, got %s", got.SyncStatus)
	}
	if got.SyncError != "Max retries exceeded" {
		t.Errorf("expected terminal message, got %q", got.SyncError)
	}
	if got.RetryCount != queue.MaxRetries {
		t.Errorf("retry count must not increment past %d, got %d", queue.MaxRetries, got.RetryCount)
	}
}

func TestRetryFailedReparksDeadLetter(t *testing.T) {
	rig := newRig(true, nil)

	o, _ := rig.queue.Enqueue("T1", json.RawMessage(`{}`))
	for i := 0; i < queue.MaxRetries; i++ {
		rig.queue.UpdateStatus("T1", o.QueueID, models.SyncStatusFailed, "boom")
	}
	rig.engine.SyncPendingOrders(context.Background(), "T1", "tok", nil)

	// Manual retry flips the order to pending; the next pass must park it
	// again rather than leave it pending forever.
	rig.engine.RetryFailedOrders(context.Background(), "T1", "tok", nil)

	got := rig.queue.List("T1")[0]
	if got.SyncStatus != models.SyncStatusFailed {
		t.Errorf("expected dead-letter order re-parked as failed, got %s", got.SyncStatus)
	}
	if got.SyncError != "Max retries exceeded" {
		t.Errorf("expected terminal message, got %q", got.SyncError)
	}
	if got.RetryCount != queue.MaxRetries {
		t.Errorf("retry count must stay at %d, got %d", queue.MaxRetries, got.RetryCount)
	}
	if len(rig.uploader.calls) != 0 {
		t.Errorf("dead-letter order must never be uploaded, got %d calls", len(rig.uploader.calls))
	}
	if rig.queue.PendingCount("T1") != 1 {
		t.Error("parked order should still be counted as awaiting operator action")
	}
}

func TestRetryFailedOrders(t *testing.T) {
	rig := newRig(true, errors.New("down"))

	o, _ := rig.queue.Enqueue("T1", json.RawMessage(`{}`))
	rig.engine.SyncPendingOrders(context.Background(), "T1", "tok", nil)

	got := rig.queue.List("T1")[0]
	if got.SyncStatus != models.SyncStatusFailed || got.RetryCount != 1 {
		t.Fatalf("setup failed: %+v", got)
	}

	// Backend recovers; manual retry flushes the order.
	rig.uploader.err = nil
	run := rig.engine.RetryFailedOrders(context.Background(), "T1", "tok", nil)

	if !run.Success || run.SyncedCount != 1 {
		t.Errorf("expected 1 synced, got %+v", run)
	}
	if got := len(rig.queue.List("T1")); got != 0 {
		t.Errorf("expected empty queue, got %d", got)
	}
	_ = o
}

func TestProgressCallback(t *testing.T) {
	rig := newRig(true, nil)
	rig.queue.Enqueue("T1", json.RawMessage(`{}`))
	rig.queue.Enqueue("T1", json.RawMessage(`{}`))

	var indexes []int
	var totals []int
	rig.engine.SyncPendingOrders(context.Background(), "T1", "tok",
		func(index, total int, order models.QueuedOrder) {
			indexes = append(indexes, index)
			totals = append(totals, total)
		})

	if len(indexes) != 2 || indexes[0] != 0 || indexes[1] != 1 {
		t.Errorf("unexpected progress indexes: %v", indexes)
	}
	for _, total := range totals {
		if total != 2 {
			t.Errorf("expected total 2, got %d", total)
		}
	}
}

func TestEmptyQueuePass(t *testing.T) {
	rig := newRig(true, nil)

	run := rig.engine.SyncPendingOrders(context.Background(), "T1", "tok", nil)

	if !run.Success || run.SyncedCount != 0 || run.FailedCount != 0 {
		t.Errorf("expected trivially successful pass, got %+v", run)
	}
	if len(rig.uploader.calls) != 0 {
		t.Error("expected no uploads for an empty queue")
	}
}

func TestConcurrentPassSkipped(t *testing.T) {
	rig := newRig(true, nil)

	lock := rig.engine.theaterLock("T1")
	lock.Lock()
	defer lock.Unlock()

	run, ran := rig.engine.trySync(context.Background(), "T1", "tok", nil)
	if ran {
		t.Fatal("expected tick to be skipped while a pass holds the lock")
	}
	if run.Success {
		t.Error("skipped tick must not report success")
	}
}

func TestStatusReport(t *testing.T) {
	rig := newRig(true, nil)

	a, _ := rig.queue.Enqueue("T1", json.RawMessage(`{}`))
	rig.queue.Enqueue("T1", json.RawMessage(`{}`))
	rig.queue.UpdateStatus("T1", a.QueueID, models.SyncStatusFailed, "x")

	report := rig.engine.Status("T1", true, models.ConnectivityOnline)
	if report.Total != 2 || report.Pending != 1 || report.Failed != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if !report.IsOnline {
		t.Error("expected online report")
	}
}
