// Package queue provides the durable offline order queue: an ordered list of
// orders pending upload, persisted whole under one key per theater, with a
// per-order sync state machine and retry bookkeeping.
package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagefront/poscore/internal/kvstore"
	"github.com/stagefront/poscore/internal/metrics"
	"github.com/stagefront/poscore/internal/models"
)

const (
	// MaxQueueSize caps a theater's queue; the oldest entry is evicted to
	// make room for a new one. Losing the oldest unsynced order at the cap
	// is an accepted trade against blocking order capture.
	MaxQueueSize = 100

	// MaxRetries is the dead-letter threshold: a failed order at this retry
	// count is excluded from automatic sync until manually cleared.
	MaxRetries = 3
)

// Queue manages one store's offline order queues, keyed by theater ID. The
// store has no partial-update primitive, so every mutation is a whole-list
// read-modify-write; the mutex serializes those sequences so a timer tick and
// a manual trigger cannot interleave on the same key.
type Queue struct {
	store kvstore.Store
	log   *zap.Logger
	mu    sync.Mutex
	now   func() time.Time
}

// New creates a Queue over the given adapter.
func New(store kvstore.Store, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

func storageKey(theaterID string) string {
	return "offline_orders_queue_" + theaterID
}

// newQueueID generates a client-side order identifier. The backend is expected
// to treat it as an idempotency key for duplicate-upload suppression.
func (q *Queue) newQueueID() string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("offline_%d_%s", q.now().UnixMilli(), random)
}

// load reads and parses a theater's queue. Any read or parse failure is
// treated as an empty queue so queue operations never block order capture.
func (q *Queue) load(theaterID string) []models.QueuedOrder {
	raw, ok := q.store.Get(storageKey(theaterID))
	if !ok {
		return nil
	}
	var orders []models.QueuedOrder
	if err := json.Unmarshal([]byte(raw), &orders); err != nil {
		q.log.Warn("queue parse failed, treating as empty",
			zap.String("theater_id", theaterID), zap.Error(err))
		return nil
	}
	return orders
}

func (q *Queue) persist(theaterID string, orders []models.QueuedOrder) bool {
	data, err := json.Marshal(orders)
	if err != nil {
		q.log.Error("queue serialize failed", zap.String("theater_id", theaterID), zap.Error(err))
		return false
	}
	if !q.store.Set(storageKey(theaterID), string(data)) {
		q.log.Warn("queue persist failed", zap.String("theater_id", theaterID))
		return false
	}
	return true
}

// Enqueue captures an order into the theater's queue with a fresh queue ID,
// pending status and zero retries. At capacity the oldest entry is evicted
// first. The order is returned even when persistence fails, so the current
// session's UI can still display it; the bool reports whether it was written.
func (q *Queue) Enqueue(theaterID string, payload json.RawMessage) (models.QueuedOrder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	order := models.QueuedOrder{
		QueueID:    q.newQueueID(),
		Payload:    payload,
		QueuedAt:   q.now().UnixMilli(),
		SyncStatus: models.SyncStatusPending,
		RetryCount: 0,
	}

	orders := q.load(theaterID)
	if len(orders) >= MaxQueueSize {
		evicted := orders[0]
		orders = orders[1:]
		metrics.OrdersEvicted.Inc()
		q.log.Warn("queue at capacity, evicting oldest order",
			zap.String("theater_id", theaterID),
			zap.String("evicted_queue_id", evicted.QueueID))
	}
	orders = append(orders, order)

	ok := q.persist(theaterID, orders)
	if ok {
		metrics.OrdersEnqueued.Inc()
		q.log.Info("order queued",
			zap.String("theater_id", theaterID),
			zap.String("queue_id", order.QueueID),
			zap.Int("queue_len", len(orders)))
	}
	return order, ok
}

// List returns the theater's queue in insertion order.
func (q *Queue) List(theaterID string) []models.QueuedOrder {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(theaterID)
}

// Remove deletes the order with the given queue ID. Removing an absent ID is
// a no-op; removal after a confirmed upload IS the synced transition.
func (q *Queue) Remove(theaterID, queueID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	orders := q.load(theaterID)
	kept := orders[:0]
	for _, o := range orders {
		if o.QueueID != queueID {
			kept = append(kept, o)
		}
	}
	if len(kept) == len(orders) {
		return true
	}
	return q.persist(theaterID, kept)
}

// UpdateStatus sets an order's sync status and stamps lastSyncAttempt. A
// non-empty syncErr records the error and increments retryCount; a status
// change without an error never touches the retry count.
func (q *Queue) UpdateStatus(theaterID, queueID string, status models.SyncStatus, syncErr string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	orders := q.load(theaterID)
	found := false
	for i := range orders {
		if orders[i].QueueID != queueID {
			continue
		}
		orders[i].SyncStatus = status
		orders[i].LastSyncAttempt = q.now().UnixMilli()
		if syncErr != "" {
			orders[i].SyncError = syncErr
			orders[i].RetryCount++
		}
		found = true
		break
	}
	if !found {
		return false
	}
	return q.persist(theaterID, orders)
}

// MarkRetriesExhausted parks an order as failed with a terminal message
// without incrementing its retry count. Dead-letter orders stay visible in
// the queue until removed or cleared.
func (q *Queue) MarkRetriesExhausted(theaterID, queueID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	orders := q.load(theaterID)
	found := false
	for i := range orders {
		if orders[i].QueueID != queueID {
			continue
		}
		orders[i].SyncStatus = models.SyncStatusFailed
		orders[i].SyncError = "Max retries exceeded"
		orders[i].LastSyncAttempt = q.now().UnixMilli()
		found = true
		break
	}
	if !found {
		return false
	}
	metrics.OrdersDeadLettered.Inc()
	return q.persist(theaterID, orders)
}

// ResetFailed flips every failed order back to pending for a manual retry.
// Retry counts are preserved, so repeated manual retries still converge on
// the dead-letter threshold. Returns the number of orders reset.
func (q *Queue) ResetFailed(theaterID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	orders := q.load(theaterID)
	count := 0
	for i := range orders {
		if orders[i].SyncStatus == models.SyncStatusFailed {
			orders[i].SyncStatus = models.SyncStatusPending
			count++
		}
	}
	if count > 0 && !q.persist(theaterID, orders) {
		return 0
	}
	return count
}

// PendingCount returns the number of orders awaiting upload (pending or failed).
func (q *Queue) PendingCount(theaterID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, o := range q.load(theaterID) {
		if o.SyncStatus == models.SyncStatusPending || o.SyncStatus == models.SyncStatusFailed {
			count++
		}
	}
	return count
}

// Clear drops the theater's entire queue.
func (q *Queue) Clear(theaterID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.store.Remove(storageKey(theaterID))
	q.log.Info("queue cleared", zap.String("theater_id", theaterID))
}
