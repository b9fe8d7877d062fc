package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LinkChecker is the cheap connectivity signal consulted every tick before
// the expensive reachability probe, satisfied by connectivity.Monitor.
type LinkChecker interface {
	LinkUp() bool
}

// AutoSync is a running periodic flush loop for one theater. Stop cancels
// the timer; an upload already in flight runs to completion.
type AutoSync struct {
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// StartAutoSync begins flushing the theater's queue on a fixed interval.
// Each tick checks the link flag first; only when it is up does the pass
// (and its probe) run. Ticks that land while a pass is still running are
// skipped rather than queued.
func (e *Engine) StartAutoSync(theaterID, token string, link LinkChecker, interval time.Duration, onComplete CompleteFunc, onProgress ProgressFunc) *AutoSync {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	a := &AutoSync{stopCh: make(chan struct{})}
	a.wg.Add(1)

	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
				if link != nil && !link.LinkUp() {
					continue
				}
				run, ran := e.trySync(context.Background(), theaterID, token, onProgress)
				if !ran {
					continue
				}
				if onComplete != nil {
					onComplete(run)
				}
			}
		}
	}()

	e.log.Info("auto-sync started",
		zap.String("theater_id", theaterID),
		zap.Duration("interval", interval))
	return a
}

// Stop cancels the periodic timer and waits for the loop to exit.
func (a *AutoSync) Stop() {
	a.once.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}
