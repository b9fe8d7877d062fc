// Package connectivity derives the terminal's online/offline state from two
// signals: a cheap link-layer check over the host's network interfaces, and
// an active reachability probe against the backend health endpoint. The link
// flag alone only decides whether probing is worth the network round trip.
package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stagefront/poscore/internal/metrics"
	"github.com/stagefront/poscore/internal/models"
)

// DefaultProbeTimeout bounds one reachability probe.
const DefaultProbeTimeout = 3 * time.Second

// HealthChecker is the reachability probe target, satisfied by backend.Client.
type HealthChecker interface {
	Health(ctx context.Context) bool
}

// Monitor polls backend reachability on a fixed interval and exposes the
// derived state. The offline-to-online transition fires the registered
// callback, which the sync engine uses as its flush trigger.
type Monitor struct {
	checker      HealthChecker
	probeTimeout time.Duration
	log          *zap.Logger

	mu       sync.RWMutex
	online   bool
	onOnline func()

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// linkUp is swappable for tests; defaults to an interface scan.
	linkUp func() bool
}

// NewMonitor creates a Monitor. probeTimeout <= 0 selects the default.
func NewMonitor(checker HealthChecker, probeTimeout time.Duration, log *zap.Logger) *Monitor {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		checker:      checker,
		probeTimeout: probeTimeout,
		log:          log,
		stopCh:       make(chan struct{}),
		linkUp:       interfacesUp,
	}
}

// interfacesUp reports whether any non-loopback interface is up with an
// address assigned. Cheap and instantaneous, but says nothing about whether
// the backend is actually reachable.
func interfacesUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		// Fail open: let the probe decide.
		return true
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// LinkUp is the cheap link-layer signal.
func (m *Monitor) LinkUp() bool {
	return m.linkUp()
}

// Probe tests real backend reachability with a hard timeout. A timeout or
// transport error reads as unreachable. The derived state is updated as a
// side effect, so ad-hoc probes keep Status fresh.
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	reachable := m.checker.Health(probeCtx)
	m.setOnline(reachable)
	return reachable
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	callback := m.onOnline
	m.mu.Unlock()

	if online {
		metrics.ConnectivityOnline.Set(1)
	} else {
		metrics.ConnectivityOnline.Set(0)
	}

	if wasOnline != online {
		m.log.Info("connectivity changed",
			zap.Bool("was_online", wasOnline),
			zap.Bool("is_online", online))
		if online && callback != nil {
			callback()
		}
	}
}

// OnOnline registers the offline-to-online transition callback.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	m.onOnline = fn
	m.mu.Unlock()
}

// IsOnline returns the last derived reachability state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// State returns the derived connectivity state.
func (m *Monitor) State() models.ConnectivityState {
	if m.IsOnline() {
		return models.ConnectivityOnline
	}
	return models.ConnectivityOffline
}

// Start begins the periodic two-tier check: every tick the link flag is
// consulted first, and only when it is up is the probe issued.
func (m *Monitor) Start(interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				if !m.linkUp() {
					m.setOnline(false)
					continue
				}
				m.Probe(context.Background())
			}
		}
	}()
}

// Stop halts the periodic check and waits for the loop to exit. Safe to
// call more than once.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}
