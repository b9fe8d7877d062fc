package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poscore_orders_enqueued_total",
		Help: "Total orders captured into the offline queue.",
	})
	OrdersEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poscore_orders_evicted_total",
		Help: "Total orders dropped by FIFO eviction at queue capacity.",
	})
	OrdersSynced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poscore_orders_synced_total",
		Help: "Total orders uploaded and removed from the queue.",
	})
	OrdersSyncFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poscore_orders_sync_failed_total",
		Help: "Total failed order upload attempts.",
	})
	OrdersDeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poscore_orders_dead_lettered_total",
		Help: "Total orders parked after exhausting retries.",
	})

	SyncRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poscore_sync_runs_total",
		Help: "Total queue flush passes attempted.",
	})
	SyncSkippedOffline = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poscore_sync_skipped_offline_total",
		Help: "Total flush passes skipped because the backend was unreachable.",
	})

	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poscore_cache_hits_total",
		Help: "Cache hits by tier (memory, disk, kv).",
	}, []string{"tier"})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poscore_cache_misses_total",
		Help: "Reads that missed every cache tier.",
	})

	ConnectivityOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "poscore_connectivity_online",
		Help: "1 when the backend is reachable, 0 otherwise.",
	})
)

func Register() {
	prometheus.MustRegister(
		OrdersEnqueued, OrdersEvicted, OrdersSynced, OrdersSyncFailed, OrdersDeadLettered,
		SyncRuns, SyncSkippedOffline,
		CacheHits, CacheMisses,
		ConnectivityOnline,
	)
}
