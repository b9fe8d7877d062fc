// Package mlcache provides the multi-layer read-through cache for keyed API
// responses: an in-process memory tier, an on-disk tier, and the persistent
// KV tier, checked in that order on read and written best-effort on write.
// Managers are explicit instances with no package-level default, so tests
// and callers control their own lifecycle.
package mlcache

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/stagefront/poscore/internal/kvstore"
	"github.com/stagefront/poscore/internal/metrics"
)

const (
	// DefaultMemoryCapacity caps the memory tier's entry count.
	DefaultMemoryCapacity = 500

	// DefaultMaxPersistBytes gates the KV tier: larger entries are not
	// persisted there, to keep the quota for the order queue.
	DefaultMaxPersistBytes = 500 * 1024

	kvPrefix = "cache_"
)

// Config configures a Manager.
type Config struct {
	MemoryCapacity  int
	MaxPersistBytes int
	DiskDir         string // empty disables the disk tier
}

type memoryEntry struct {
	value     json.RawMessage
	storedAt  int64 // unix ms, insertion order for eviction
	expiresAt int64 // unix ms
}

type kvEnvelope struct {
	Value     json.RawMessage `json:"value"`
	StoredAt  int64           `json:"storedAt"`
	ExpiresAt int64           `json:"expiresAt"`
}

// Manager composes the three cache tiers.
type Manager struct {
	cfg   Config
	store kvstore.Store
	disk  *diskTier // nil when disabled
	log   *zap.Logger

	mu  sync.Mutex
	mem map[string]memoryEntry

	sf  singleflight.Group
	now func() time.Time
}

// New creates a Manager over the given KV adapter. Zero config fields take
// their defaults; an empty DiskDir disables the disk tier.
func New(cfg Config, store kvstore.Store, log *zap.Logger) *Manager {
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = DefaultMemoryCapacity
	}
	if cfg.MaxPersistBytes <= 0 {
		cfg.MaxPersistBytes = DefaultMaxPersistBytes
	}
	if log == nil {
		log = zap.NewNop()
	}

	m := &Manager{
		cfg:   cfg,
		store: store,
		log:   log,
		mem:   make(map[string]memoryEntry),
		now:   time.Now,
	}
	if cfg.DiskDir != "" {
		disk, err := newDiskTier(cfg.DiskDir)
		if err != nil {
			// Cache writes are best-effort; run without the disk tier.
			log.Warn("disk cache tier disabled", zap.Error(err))
		} else {
			m.disk = disk
		}
	}
	return m
}

// Get checks the tiers in order, promoting lower-tier hits into memory. An
// expired entry at any tier is a miss for that tier and is not deleted on
// read. Returns false when every tier misses.
func (m *Manager) Get(key string, out interface{}) bool {
	nowMs := m.now().UnixMilli()

	m.mu.Lock()
	if e, ok := m.mem[key]; ok && nowMs < e.expiresAt {
		m.mu.Unlock()
		metrics.CacheHits.WithLabelValues("memory").Inc()
		return json.Unmarshal(e.value, out) == nil
	}
	m.mu.Unlock()

	if m.disk != nil {
		if env, ok := m.disk.read(key); ok && nowMs < env.ExpiresAt {
			metrics.CacheHits.WithLabelValues("disk").Inc()
			m.promote(key, env.Value, env.StoredAt, env.ExpiresAt)
			return json.Unmarshal(env.Value, out) == nil
		}
	}

	if raw, ok := m.store.Get(kvPrefix + key); ok {
		var env kvEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err == nil && nowMs < env.ExpiresAt {
			metrics.CacheHits.WithLabelValues("kv").Inc()
			m.promote(key, env.Value, env.StoredAt, env.ExpiresAt)
			return json.Unmarshal(env.Value, out) == nil
		}
	}

	metrics.CacheMisses.Inc()
	return false
}

// Set writes to all tiers. Failures in any individual tier are logged and
// swallowed: cache writes are best-effort.
func (m *Manager) Set(key string, value interface{}, ttl time.Duration) {
	m.set(key, value, ttl, true)
}

// SetNoPersist writes to the memory and disk tiers only, for values the
// caller does not want occupying the KV quota.
func (m *Manager) SetNoPersist(key string, value interface{}, ttl time.Duration) {
	m.set(key, value, ttl, false)
}

func (m *Manager) set(key string, value interface{}, ttl time.Duration, persist bool) {
	raw, err := json.Marshal(value)
	if err != nil {
		m.log.Warn("cache value marshal failed", zap.String("key", key), zap.Error(err))
		return
	}

	storedAt := m.now().UnixMilli()
	expiresAt := storedAt + ttl.Milliseconds()

	m.promote(key, raw, storedAt, expiresAt)

	env := kvEnvelope{Value: raw, StoredAt: storedAt, ExpiresAt: expiresAt}

	if m.disk != nil {
		if err := m.disk.write(key, env); err != nil {
			m.log.Warn("disk cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	if persist {
		data, err := json.Marshal(env)
		if err == nil && len(data) <= m.cfg.MaxPersistBytes {
			m.store.Set(kvPrefix+key, string(data))
		}
	}
}

// promote installs a value into the memory tier, evicting if over capacity.
func (m *Manager) promote(key string, raw json.RawMessage, storedAt, expiresAt int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.mem[key]; !exists && len(m.mem) >= m.cfg.MemoryCapacity {
		m.evictLocked()
	}
	m.mem[key] = memoryEntry{value: raw, storedAt: storedAt, expiresAt: expiresAt}
}

// evictLocked removes expired entries first; if the tier is still at
// capacity it drops the oldest 20% by insertion timestamp.
func (m *Manager) evictLocked() {
	nowMs := m.now().UnixMilli()
	for k, e := range m.mem {
		if nowMs >= e.expiresAt {
			delete(m.mem, k)
		}
	}
	if len(m.mem) < m.cfg.MemoryCapacity {
		return
	}

	type aged struct {
		key      string
		storedAt int64
	}
	entries := make([]aged, 0, len(m.mem))
	for k, e := range m.mem {
		entries = append(entries, aged{k, e.storedAt})
	}
	// Oldest first.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].storedAt < entries[j-1].storedAt; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}

	drop := len(entries) / 5
	if drop < 1 {
		drop = 1
	}
	for _, e := range entries[:drop] {
		delete(m.mem, e.key)
	}
}

// Invalidate removes a key from every tier.
func (m *Manager) Invalidate(key string) {
	m.mu.Lock()
	delete(m.mem, key)
	m.mu.Unlock()

	if m.disk != nil {
		m.disk.remove(key)
	}
	m.store.Remove(kvPrefix + key)
}

// InvalidatePattern removes keys matching the regular expression from the
// memory and KV tiers. The disk tier stores hashed file names and cannot be
// pattern-matched; its stale entries age out via expiry and cleanup passes.
func (m *Manager) InvalidatePattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for k := range m.mem {
		if re.MatchString(k) {
			delete(m.mem, k)
		}
	}
	m.mu.Unlock()

	for _, stored := range m.store.Keys() {
		if !strings.HasPrefix(stored, kvPrefix) {
			continue
		}
		if re.MatchString(strings.TrimPrefix(stored, kvPrefix)) {
			m.store.Remove(stored)
		}
	}
	return nil
}

// GetOrLoad returns the cached value for key, or invokes loader and caches
// its result. Concurrent loads for the same key are collapsed into one
// loader call.
func (m *Manager) GetOrLoad(key string, ttl time.Duration, loader func() (interface{}, error)) (json.RawMessage, error) {
	var cached json.RawMessage
	if m.Get(key, &cached) {
		return cached, nil
	}

	v, err, _ := m.sf.Do(key, func() (interface{}, error) {
		// Another caller may have filled the cache while we queued.
		var raw json.RawMessage
		if m.Get(key, &raw) {
			return raw, nil
		}

		value, err := loader()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		m.Set(key, json.RawMessage(data), ttl)
		return json.RawMessage(data), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// Cleanup purges expired entries from the memory and KV tiers and delegates
// the disk tier to its own sweep. Run from the maintenance scheduler.
func (m *Manager) Cleanup() {
	nowMs := m.now().UnixMilli()

	m.mu.Lock()
	for k, e := range m.mem {
		if nowMs >= e.expiresAt {
			delete(m.mem, k)
		}
	}
	m.mu.Unlock()

	for _, stored := range m.store.Keys() {
		if !strings.HasPrefix(stored, kvPrefix) {
			continue
		}
		raw, ok := m.store.Get(stored)
		if !ok {
			continue
		}
		var env kvEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil || nowMs >= env.ExpiresAt {
			m.store.Remove(stored)
		}
	}

	if m.disk != nil {
		m.disk.sweep(nowMs)
	}
}

// MemoryLen returns the memory tier's entry count.
func (m *Manager) MemoryLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mem)
}
