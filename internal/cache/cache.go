// Package cache provides the TTL-aware entry store for per-theater domain
// data (product lists, category lists, images), built atop the kvstore
// adapter. Freshness is decided at read time: the TTL is supplied by the
// caller on Get, so the same stored value can be reinterpreted under
// different freshness policies without rewriting.
package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stagefront/poscore/internal/kvstore"
)

// EntryStore caches serialized values under namespaced, theater-scoped keys.
type EntryStore struct {
	store kvstore.Store
	log   *zap.Logger
	now   func() time.Time
}

// New creates an EntryStore over the given adapter.
func New(store kvstore.Store, log *zap.Logger) *EntryStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &EntryStore{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// dataKey builds "offline_<ns>_cache_<theaterID>[_<subkey>]".
func dataKey(namespace, theaterID, subkey string) string {
	key := fmt.Sprintf("offline_%s_cache_%s", namespace, theaterID)
	if subkey != "" {
		key += "_" + subkey
	}
	return key
}

// timestampKey builds "offline_cache_timestamp_<theaterID>_<ns>[_<subkey>]".
func timestampKey(namespace, theaterID, subkey string) string {
	key := fmt.Sprintf("offline_cache_timestamp_%s_%s", theaterID, namespace)
	if subkey != "" {
		key += "_" + subkey
	}
	return key
}

// Set serializes value and writes it with a parallel storedAt timestamp key.
// Returns false if either write is refused by the store.
func (s *EntryStore) Set(namespace, theaterID, subkey string, value interface{}) bool {
	data, err := json.Marshal(value)
	if err != nil {
		s.log.Warn("cache serialize failed",
			zap.String("namespace", namespace),
			zap.String("theater_id", theaterID),
			zap.Error(err))
		return false
	}

	storedAt := s.now().UnixMilli()
	if !s.store.Set(dataKey(namespace, theaterID, subkey), string(data)) {
		return false
	}
	if !s.store.Set(timestampKey(namespace, theaterID, subkey), strconv.FormatInt(storedAt, 10)) {
		// Orphaned data without a timestamp reads as a miss, which is safe.
		return false
	}
	return true
}

// Get reads a cached value if it is younger than ttl, deserializing into out.
// A missing or expired timestamp, or a parse failure, is a miss. Expired
// entries are not deleted on read; they are superseded on the next Set or
// purged by an explicit cleanup pass.
func (s *EntryStore) Get(namespace, theaterID, subkey string, ttl time.Duration, out interface{}) bool {
	raw, ok := s.store.Get(timestampKey(namespace, theaterID, subkey))
	if !ok {
		return false
	}
	storedAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	age := s.now().UnixMilli() - storedAt
	if age >= ttl.Milliseconds() {
		return false
	}

	data, ok := s.store.Get(dataKey(namespace, theaterID, subkey))
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		s.log.Warn("cache deserialize failed",
			zap.String("namespace", namespace),
			zap.String("theater_id", theaterID),
			zap.Error(err))
		return false
	}
	return true
}

// Invalidate removes every key for the namespace/theater combination,
// including sub-keyed entries and their timestamps. Other theaters' keys
// under the same namespace are untouched.
func (s *EntryStore) Invalidate(namespace, theaterID string) {
	dataPrefix := dataKey(namespace, theaterID, "")
	tsPrefix := timestampKey(namespace, theaterID, "")

	for _, key := range s.store.Keys() {
		if key == dataPrefix || key == tsPrefix ||
			strings.HasPrefix(key, dataPrefix+"_") || strings.HasPrefix(key, tsPrefix+"_") {
			s.store.Remove(key)
		}
	}
}

// SetImage caches image bytes under "offline_image_<hash>". Image entries
// carry no timestamp: they persist until quota-evicted or explicitly cleared.
func (s *EntryStore) SetImage(hash string, data []byte) bool {
	return s.store.Set("offline_image_"+hash, string(data))
}

// GetImage returns cached image bytes, or nil on a miss.
func (s *EntryStore) GetImage(hash string) []byte {
	v, ok := s.store.Get("offline_image_" + hash)
	if !ok {
		return nil
	}
	return []byte(v)
}

// ClearImages removes all cached images.
func (s *EntryStore) ClearImages() {
	for _, key := range s.store.Keys() {
		if strings.HasPrefix(key, "offline_image_") {
			s.store.Remove(key)
		}
	}
}
