// Package syncer drives queue-to-server reconciliation: periodic, manual and
// retry-failed flushes of the offline order queue, with sequential uploads,
// exponential backoff and dead-letter handling.
package syncer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stagefront/poscore/internal/events"
	"github.com/stagefront/poscore/internal/kvstore"
	"github.com/stagefront/poscore/internal/metrics"
	"github.com/stagefront/poscore/internal/models"
	"github.com/stagefront/poscore/internal/queue"
)

// DefaultSyncInterval is how often the auto-sync timer fires.
const DefaultSyncInterval = 5 * time.Second

// retryDelays is the backoff schedule, indexed by an order's retry count as
// it stood before the failed attempt. The delay throttles the whole batch,
// not just the failed item, to spare a struggling backend.
var retryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Prober gates sync passes on real backend reachability.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Uploader submits one queued order to the backend. A nil return means the
// server confirmed the order; any error counts as a failed attempt.
type Uploader interface {
	SubmitOrder(ctx context.Context, token string, order models.QueuedOrder) error
}

// ProgressFunc reports per-order progress to the UI. index is zero-based
// within the attempted set of the current pass.
type ProgressFunc func(index, total int, order models.QueuedOrder)

// CompleteFunc receives the result of an auto-sync pass.
type CompleteFunc func(run models.SyncRun)

// Engine orchestrates flushes of the offline order queue. All state shared
// between triggers is serialized per theater: periodic ticks skip when a pass
// is already running, manual triggers wait their turn.
type Engine struct {
	queue    *queue.Queue
	uploader Uploader
	prober   Prober
	store    kvstore.Store
	hub      *events.Hub // optional
	log      *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-theater pass serialization

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New creates an Engine. hub may be nil when no UI event stream is attached.
func New(q *queue.Queue, uploader Uploader, prober Prober, store kvstore.Store, hub *events.Hub, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		queue:    q,
		uploader: uploader,
		prober:   prober,
		store:    store,
		hub:      hub,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (e *Engine) theaterLock(theaterID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[theaterID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[theaterID] = l
	}
	return l
}

func lastSyncKey(theaterID string) string {
	return "offline_last_sync_time_" + theaterID
}

// LastSyncTime returns the unix-ms timestamp of the last completed pass for
// the theater, or 0 if none is recorded.
func (e *Engine) LastSyncTime(theaterID string) int64 {
	raw, ok := e.store.Get(lastSyncKey(theaterID))
	if !ok {
		return 0
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

func (e *Engine) publish(eventType string, data map[string]interface{}) {
	if e.hub != nil {
		e.hub.Publish(eventType, data)
	}
}

// SyncPendingOrders runs one flush pass for the theater. Blocks until any
// concurrent pass for the same theater finishes. Uploads are strictly
// sequential in queue order; delivery is at-least-once, with duplicate
// suppression delegated to the backend's queueId idempotency contract.
func (e *Engine) SyncPendingOrders(ctx context.Context, theaterID, token string, onProgress ProgressFunc) models.SyncRun {
	lock := e.theaterLock(theaterID)
	lock.Lock()
	defer lock.Unlock()
	return e.syncLocked(ctx, theaterID, token, onProgress)
}

// trySync runs one pass unless another pass for the theater is already in
// flight, in which case it reports SYNC_IN_PROGRESS without touching the
// queue. Used by the auto-sync timer so ticks never pile up.
func (e *Engine) trySync(ctx context.Context, theaterID, token string, onProgress ProgressFunc) (models.SyncRun, bool) {
	lock := e.theaterLock(theaterID)
	if !lock.TryLock() {
		return models.SyncRun{Success: false, Message: "sync already in progress"}, false
	}
	defer lock.Unlock()
	return e.syncLocked(ctx, theaterID, token, onProgress), true
}

func (e *Engine) syncLocked(ctx context.Context, theaterID, token string, onProgress ProgressFunc) models.SyncRun {
	metrics.SyncRuns.Inc()

	if !e.prober.Probe(ctx) {
		metrics.SyncSkippedOffline.Inc()
		e.log.Debug("sync skipped, backend unreachable", zap.String("theater_id", theaterID))
		return models.SyncRun{Success: false, Message: "no connection"}
	}

	var attempt []models.QueuedOrder
	var exhausted []models.QueuedOrder
	for _, o := range e.queue.List(theaterID) {
		if o.SyncStatus != models.SyncStatusPending && o.SyncStatus != models.SyncStatusFailed {
			continue
		}
		if o.RetryCount >= queue.MaxRetries {
			exhausted = append(exhausted, o)
			continue
		}
		attempt = append(attempt, o)
	}

	// Park dead-letter orders without another retry increment. They stay
	// queryable until the operator retries or clears them, and they do not
	// poison the pass result. A manual retry flips them back to pending, so
	// the status has to be checked here too or they would stay pending.
	for _, o := range exhausted {
		if o.SyncStatus != models.SyncStatusFailed || o.SyncError != "Max retries exceeded" {
			e.queue.MarkRetriesExhausted(theaterID, o.QueueID)
			e.log.Warn("order exceeded max retries",
				zap.String("theater_id", theaterID),
				zap.String("queue_id", o.QueueID),
				zap.Int("retry_count", o.RetryCount))
		}
	}

	if len(attempt) == 0 {
		e.recordLastSync(theaterID)
		msg := "no pending orders"
		if len(exhausted) > 0 {
			msg = fmt.Sprintf("no syncable orders (%d require manual retry)", len(exhausted))
		}
		return models.SyncRun{Success: true, Message: msg}
	}

	e.log.Info("sync pass starting",
		zap.String("theater_id", theaterID),
		zap.Int("orders", len(attempt)))
	e.publish(events.EventSyncStarted, map[string]interface{}{
		"theaterId": theaterID,
		"total":     len(attempt),
	})

	synced := 0
	failed := 0
	total := len(attempt)

	for i, order := range attempt {
		if onProgress != nil {
			onProgress(i, total, order)
		}
		e.publish(events.EventSyncProgress, map[string]interface{}{
			"theaterId": theaterID,
			"index":     i,
			"total":     total,
			"queueId":   order.QueueID,
		})

		e.queue.UpdateStatus(theaterID, order.QueueID, models.SyncStatusSyncing, "")

		err := e.uploader.SubmitOrder(ctx, token, order)
		if err == nil {
			// Removal is the synced transition; the status itself is
			// never persisted.
			e.queue.Remove(theaterID, order.QueueID)
			metrics.OrdersSynced.Inc()
			synced++
			e.log.Info("order synced",
				zap.String("theater_id", theaterID),
				zap.String("queue_id", order.QueueID))
			continue
		}

		preRetry := order.RetryCount
		e.queue.UpdateStatus(theaterID, order.QueueID, models.SyncStatusFailed, err.Error())
		metrics.OrdersSyncFailed.Inc()
		failed++
		e.log.Warn("order upload failed",
			zap.String("theater_id", theaterID),
			zap.String("queue_id", order.QueueID),
			zap.Int("retry_count", preRetry+1),
			zap.Error(err))

		// Backoff before the next order in the batch, indexed by the retry
		// count as it stood before this failure.
		delay := retryDelays[len(retryDelays)-1]
		if preRetry < len(retryDelays) {
			delay = retryDelays[preRetry]
		}
		if i < total-1 {
			e.sleep(ctx, delay)
		}
	}

	e.recordLastSync(theaterID)

	run := models.SyncRun{
		Success:     failed == 0,
		SyncedCount: synced,
		FailedCount: failed,
		Message:     fmt.Sprintf("synced %d, failed %d", synced, failed),
	}

	eventType := events.EventSyncCompleted
	if failed > 0 {
		eventType = events.EventSyncFailed
	}
	e.publish(eventType, map[string]interface{}{
		"theaterId":   theaterID,
		"syncedCount": synced,
		"failedCount": failed,
	})
	e.log.Info("sync pass finished",
		zap.String("theater_id", theaterID),
		zap.Int("synced", synced),
		zap.Int("failed", failed))

	return run
}

func (e *Engine) recordLastSync(theaterID string) {
	e.store.Set(lastSyncKey(theaterID), strconv.FormatInt(e.now().UnixMilli(), 10))
}

// RetryFailedOrders resets every failed order to pending and runs a pass.
// Retry counts are deliberately preserved, so repeated manual retries still
// converge on the dead-letter threshold.
func (e *Engine) RetryFailedOrders(ctx context.Context, theaterID, token string, onProgress ProgressFunc) models.SyncRun {
	reset := e.queue.ResetFailed(theaterID)
	e.log.Info("failed orders reset for retry",
		zap.String("theater_id", theaterID),
		zap.Int("count", reset))
	return e.SyncPendingOrders(ctx, theaterID, token, onProgress)
}

// Status summarizes the theater's queue and connectivity for the UI.
func (e *Engine) Status(theaterID string, isOnline bool, state models.ConnectivityState) models.SyncStatusReport {
	report := models.SyncStatusReport{
		IsOnline:     isOnline,
		State:        state,
		LastSyncTime: e.LastSyncTime(theaterID),
	}
	for _, o := range e.queue.List(theaterID) {
		report.Total++
		switch o.SyncStatus {
		case models.SyncStatusPending:
			report.Pending++
		case models.SyncStatusSyncing:
			report.Syncing++
		case models.SyncStatusFailed:
			report.Failed++
		}
	}
	return report
}
