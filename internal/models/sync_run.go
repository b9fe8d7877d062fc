package models

// SyncRun is the aggregate result of one queue flush attempt.
// It is returned to callers and logged, never persisted.
type SyncRun struct {
	Success     bool   `json:"success"`
	SyncedCount int    `json:"syncedCount"`
	FailedCount int    `json:"failedCount"`
	Message     string `json:"message,omitempty"`
}

// ConnectivityState is the derived online/offline state of the terminal,
// combining the link-layer signal with the reachability probe.
type ConnectivityState string

const (
	ConnectivityOnline  ConnectivityState = "online"
	ConnectivityOffline ConnectivityState = "offline"
)

// SyncStatusReport summarizes a theater's queue for the UI.
type SyncStatusReport struct {
	Total        int               `json:"total"`
	Pending      int               `json:"pending"`
	Syncing      int               `json:"syncing"`
	Failed       int               `json:"failed"`
	IsOnline     bool              `json:"isOnline"`
	State        ConnectivityState `json:"state"`
	LastSyncTime int64             `json:"lastSyncTime,omitempty"` // unix ms, 0 = never
}
