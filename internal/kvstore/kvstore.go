// Package kvstore provides the persistent key-value store adapter backing the
// offline order queue and caches. All implementations are fail-open: a storage
// failure (quota exhausted, disk denied, corrupt row) surfaces as a miss or a
// false result, never as a panic or an error past the adapter boundary, so
// callers degrade to cache-miss behavior instead of crashing the terminal.
package kvstore

import "sync"

// Store is the adapter contract. Operations are synchronous and total:
// Get returns ("", false) on absence or any failure, Set returns false on
// any failure (quota included), Remove is idempotent.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) bool
	Remove(key string)
	Keys() []string
}

// MemoryStore is a map-backed Store. It is used in tests and as the degraded
// fallback when the terminal's data directory cannot be opened.
type MemoryStore struct {
	mu         sync.RWMutex
	data       map[string]string
	quotaBytes int64
	usedBytes  int64
}

// NewMemoryStore creates a MemoryStore. quotaBytes <= 0 disables the quota.
func NewMemoryStore(quotaBytes int64) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]string),
		quotaBytes: quotaBytes,
	}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := int64(len(key) + len(value))
	if old, ok := s.data[key]; ok {
		delta -= int64(len(key) + len(old))
	}
	if s.quotaBytes > 0 && s.usedBytes+delta > s.quotaBytes {
		return false
	}

	s.data[key] = value
	s.usedBytes += delta
	return true
}

func (s *MemoryStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.data[key]; ok {
		s.usedBytes -= int64(len(key) + len(old))
		delete(s.data, key)
	}
}

func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}
