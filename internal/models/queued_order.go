// Package models provides data model definitions for the poscore terminal.
package models

import "encoding/json"

// SyncStatus represents the sync state of a queued order.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
	// SyncStatusSynced is terminal: a synced order is removed from the queue
	// and the status is never persisted.
	SyncStatusSynced SyncStatus = "synced"
)

// QueuedOrder represents an order captured while the backend was unreachable,
// held durably until the sync engine uploads it.
type QueuedOrder struct {
	QueueID         string          `json:"queueId"`
	Payload         json.RawMessage `json:"payload"`
	QueuedAt        int64           `json:"queuedAt"` // unix ms
	SyncStatus      SyncStatus      `json:"syncStatus"`
	RetryCount      int             `json:"retryCount"`
	LastSyncAttempt int64           `json:"lastSyncAttempt,omitempty"` // unix ms, 0 = never
	SyncError       string          `json:"syncError,omitempty"`
}
