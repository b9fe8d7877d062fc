// Package janitor runs scheduled maintenance passes: purging expired cache
// entries and reporting queue depths. Cached values are only lazily
// invalidated on read, so without these passes expired entries would occupy
// the store until overwritten.
package janitor

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/stagefront/poscore/internal/mlcache"
	"github.com/stagefront/poscore/internal/queue"
)

// Janitor owns the cron schedule for maintenance work.
type Janitor struct {
	cron     *cron.Cron
	cache    *mlcache.Manager
	queue    *queue.Queue
	theaters []string
	log      *zap.Logger
}

// New creates a Janitor that will clean the given cache manager and report
// depth for the listed theaters' queues.
func New(cache *mlcache.Manager, q *queue.Queue, theaters []string, log *zap.Logger) *Janitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Janitor{
		cron:     cron.New(),
		cache:    cache,
		queue:    q,
		theaters: theaters,
		log:      log,
	}
}

// Start schedules the cleanup pass with the given cron spec (e.g.
// "@every 10m") and begins running.
func (j *Janitor) Start(spec string) error {
	if _, err := j.cron.AddFunc(spec, j.runOnce); err != nil {
		return err
	}
	j.cron.Start()
	j.log.Info("maintenance schedule started", zap.String("spec", spec))
	return nil
}

// Stop halts the schedule. A pass already running completes.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Janitor) runOnce() {
	j.cache.Cleanup()

	for _, theaterID := range j.theaters {
		pending := j.queue.PendingCount(theaterID)
		if pending > 0 {
			j.log.Info("orders awaiting sync",
				zap.String("theater_id", theaterID),
				zap.Int("pending", pending))
		}
	}
}
