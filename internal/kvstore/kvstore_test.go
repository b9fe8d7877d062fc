package kvstore

import (
	"sort"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore(0)

	if _, ok := s.Get("missing"); ok {
		t.Error("expected miss for absent key")
	}
	if !s.Set("a", "1") {
		t.Fatal("expected set to succeed")
	}
	if v, ok := s.Get("a"); !ok || v != "1" {
		t.Errorf("round trip mismatch: %q %v", v, ok)
	}

	s.Remove("a")
	if _, ok := s.Get("a"); ok {
		t.Error("expected miss after remove")
	}
	s.Remove("a") // idempotent
}

func TestMemoryStoreQuota(t *testing.T) {
	s := NewMemoryStore(10)

	if !s.Set("ab", "cdef") { // 6 bytes
		t.Fatal("expected under-quota set to succeed")
	}
	if s.Set("xy", "zzzzzzzz") { // would total 16
		t.Error("expected over-quota set to fail")
	}
	// Overwriting frees the old value's bytes first.
	if !s.Set("ab", "cdefgh") { // 8 bytes total
		t.Error("expected overwrite within quota to succeed")
	}
	// Removal releases quota.
	s.Remove("ab")
	if !s.Set("xy", "zzzzzzzz") {
		t.Error("expected set to succeed after removal")
	}
}

func TestMemoryStoreKeys(t *testing.T) {
	s := NewMemoryStore(0)
	s.Set("b", "2")
	s.Set("a", "1")

	keys := s.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("unexpected keys: %v", keys)
	}
}
