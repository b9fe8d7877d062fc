package cache

import (
	"testing"
	"time"

	"github.com/stagefront/poscore/internal/kvstore"
)

type product struct {
	Name  string `json:"name"`
	Price int    `json:"price"`
}

func testStore() (*EntryStore, *kvstore.MemoryStore) {
	kv := kvstore.NewMemoryStore(0)
	return New(kv, nil), kv
}

func TestSetGetRoundTrip(t *testing.T) {
	s, _ := testStore()

	in := []product{{Name: "popcorn", Price: 150}, {Name: "soda", Price: 90}}
	if !s.Set("products", "T1", "", in) {
		t.Fatal("expected set to succeed")
	}

	var out []product
	if !s.Get("products", "T1", "", time.Minute, &out) {
		t.Fatal("expected cache hit")
	}
	if len(out) != 2 || out[0].Name != "popcorn" || out[1].Price != 90 {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestTTLExpiry(t *testing.T) {
	s, _ := testStore()

	base := time.Now()
	s.now = func() time.Time { return base }
	s.Set("products", "T1", "", []product{{Name: "popcorn"}})

	var out []product

	// 999ms after the write, a 1000ms TTL still hits.
	s.now = func() time.Time { return base.Add(999 * time.Millisecond) }
	if !s.Get("products", "T1", "", time.Second, &out) {
		t.Error("expected hit at 999ms")
	}

	// 1001ms after the write, the same TTL misses.
	s.now = func() time.Time { return base.Add(1001 * time.Millisecond) }
	if s.Get("products", "T1", "", time.Second, &out) {
		t.Error("expected miss at 1001ms")
	}
}

func TestExpiredEntryNotDeletedOnRead(t *testing.T) {
	s, kv := testStore()

	base := time.Now()
	s.now = func() time.Time { return base }
	s.Set("products", "T1", "", []product{{Name: "popcorn"}})

	s.now = func() time.Time { return base.Add(time.Hour) }
	var out []product
	if s.Get("products", "T1", "", time.Second, &out) {
		t.Fatal("expected expired entry to miss")
	}

	// Lazy invalidation: the stored value survives the expired read.
	if _, ok := kv.Get(dataKey("products", "T1", "")); !ok {
		t.Error("expired entry should not be deleted on read")
	}

	// A longer TTL at read time reinterprets the same entry as fresh.
	if !s.Get("products", "T1", "", 2*time.Hour, &out) {
		t.Error("expected hit under a longer read-time TTL")
	}
}

func TestInvalidateScope(t *testing.T) {
	s, _ := testStore()

	s.Set("products", "theaterA", "", []product{{Name: "a"}})
	s.Set("products", "theaterA", "combo", []product{{Name: "a-combo"}})
	s.Set("products", "theaterB", "", []product{{Name: "b"}})
	s.Set("categories", "theaterA", "", []string{"snacks"})

	s.Invalidate("products", "theaterA")

	var out []product
	if s.Get("products", "theaterA", "", time.Minute, &out) {
		t.Error("theaterA products should be invalidated")
	}
	if s.Get("products", "theaterA", "combo", time.Minute, &out) {
		t.Error("theaterA sub-keyed products should be invalidated")
	}
	if !s.Get("products", "theaterB", "", time.Minute, &out) {
		t.Error("theaterB products should survive")
	}
	var cats []string
	if !s.Get("categories", "theaterA", "", time.Minute, &cats) {
		t.Error("theaterA categories (other namespace) should survive")
	}
}

func TestParseFailureIsMiss(t *testing.T) {
	s, kv := testStore()

	s.Set("products", "T1", "", []product{{Name: "a"}})
	kv.Set(dataKey("products", "T1", ""), "{corrupt")

	var out []product
	if s.Get("products", "T1", "", time.Minute, &out) {
		t.Error("expected parse failure to read as a miss")
	}
}

func TestImageCache(t *testing.T) {
	s, _ := testStore()

	data := []byte{0x89, 0x50, 0x4e, 0x47}
	if !s.SetImage("abc123", data) {
		t.Fatal("expected image set to succeed")
	}
	got := s.GetImage("abc123")
	if string(got) != string(data) {
		t.Errorf("image round trip mismatch: %v", got)
	}
	if s.GetImage("missing") != nil {
		t.Error("expected nil for missing image")
	}

	s.ClearImages()
	if s.GetImage("abc123") != nil {
		t.Error("expected images cleared")
	}
}
