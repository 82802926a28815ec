package cache

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// countingStore wraps a Store and counts writes.
type countingStore struct {
	Store
	writes atomic.Int64
}

func (s *countingStore) Write(key string, data []byte) error {
	err := s.Store.Write(key, data)
	if err == nil {
		s.writes.Add(1)
	}
	return err
}

type pick struct {
	Market string  `json:"market"`
	Prob   float64 `json:"prob"`
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPutDebounceCoalescing(t *testing.T) {
	store := &countingStore{Store: NewMemoryStore(0)}
	c := New(store, WithDebounce(50*time.Millisecond))

	notified := make(chan json.RawMessage, 10)
	c.Subscribe("picks-42", func(v json.RawMessage) { notified <- v })

	c.Put("picks-42", []pick{{Market: "winner", Prob: 0.8}})
	c.Put("picks-42", []pick{{Market: "winner", Prob: 0.9}})

	select {
	case raw := <-notified:
		var got []pick
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("notification not parseable: %v", err)
		}
		if len(got) != 1 || got[0].Prob != 0.9 {
			t.Fatalf("notified with %+v, want the last written value", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no subscriber notification")
	}

	if n := store.writes.Load(); n != 1 {
		t.Fatalf("got %d persisted writes, want exactly 1", n)
	}

	var got []pick
	if !c.Get("picks-42", &got) {
		t.Fatal("expected a cache hit after flush")
	}
	if got[0].Prob != 0.9 {
		t.Fatalf("Get returned prob %v, want 0.9 (last write wins)", got[0].Prob)
	}

	select {
	case <-notified:
		t.Fatal("expected exactly one notification for a coalesced burst")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGetMissOnAbsentKey(t *testing.T) {
	c := New(NewMemoryStore(0))
	var out []pick
	if c.Get("nope", &out) {
		t.Fatal("absent key should be a miss")
	}
}

func TestGetMissOnCorruptEntry(t *testing.T) {
	store := NewMemoryStore(0)
	c := New(store)

	// Corrupt envelope.
	store.Write(keyPrefix+"bad", []byte("{not json"))
	var out []pick
	if c.Get("bad", &out) {
		t.Fatal("corrupt envelope should be a miss, not an error")
	}

	// Valid envelope, mismatched payload shape.
	store.Write(keyPrefix+"shape", []byte(`{"value":"a string","storedAt":1}`))
	if c.Get("shape", &out) {
		t.Fatal("mismatched payload should be a miss")
	}
}

func TestRemoveNotifiesNil(t *testing.T) {
	c := New(NewMemoryStore(0), WithDebounce(0))
	c.Put("k", "v")

	notified := make(chan json.RawMessage, 1)
	c.Subscribe("k", func(v json.RawMessage) { notified <- v })

	c.Remove("k")
	select {
	case v := <-notified:
		if v != nil {
			t.Fatalf("remove notified with %s, want nil", v)
		}
	case <-time.After(time.Second):
		t.Fatal("remove did not notify")
	}

	var out string
	if c.Get("k", &out) {
		t.Fatal("removed key should be a miss")
	}
}

func TestUnsubscribeReleasesPendingTimer(t *testing.T) {
	store := &countingStore{Store: NewMemoryStore(0)}
	c := New(store, WithDebounce(30*time.Millisecond))

	unsub := c.Subscribe("k", func(json.RawMessage) {})
	c.Put("k", "v")
	unsub()

	time.Sleep(80 * time.Millisecond)
	if n := store.writes.Load(); n != 0 {
		t.Fatalf("pending write survived last unsubscribe: %d writes", n)
	}
}

func TestEvictionAndRetryOnCapacity(t *testing.T) {
	store := NewMemoryStore(130)
	c := New(store, WithDebounce(0))

	// A stale entry old enough to be evicted.
	old := envelope{Value: json.RawMessage(`"old"`), StoredAt: time.Now().Add(-60 * 24 * time.Hour).UnixMilli()}
	raw, _ := json.Marshal(old)
	if err := store.Write(keyPrefix+"stale", raw); err != nil {
		t.Fatalf("seeding stale entry: %v", err)
	}

	// Large enough that it only fits once the stale entry is gone.
	big := make([]string, 8)
	for i := range big {
		big[i] = fmt.Sprintf("entry-%d", i)
	}
	c.Put("fresh", big)

	var out []string
	if !c.Get("fresh", &out) {
		t.Fatal("write should have succeeded after eviction and retry")
	}
	var stale string
	if c.Get("stale", &stale) {
		t.Fatal("stale entry should have been evicted")
	}
}

func TestWriteFailureDoesNotPanic(t *testing.T) {
	// Quota too small for anything, and nothing evictable.
	c := New(NewMemoryStore(1), WithDebounce(0))
	c.Put("k", "value that cannot fit")

	var out string
	if c.Get("k", &out) {
		t.Fatal("abandoned write should leave a miss")
	}
}

func TestPutUnmarshalableValueIsDropped(t *testing.T) {
	store := &countingStore{Store: NewMemoryStore(0)}
	c := New(store, WithDebounce(0))
	c.Put("k", func() {}) // not JSON-serializable
	if n := store.writes.Load(); n != 0 {
		t.Fatalf("unserializable value was written %d times", n)
	}
}

func TestExternalMutationNotifiesSubscribers(t *testing.T) {
	store := NewMemoryStore(0)
	c := New(store, WithDebounce(0))

	c.Put("shared", "ours")
	c.scanExternal() // baseline pass

	notified := make(chan json.RawMessage, 1)
	c.Subscribe("shared", func(v json.RawMessage) { notified <- v })

	// Another process rewrites the key.
	ext := envelope{Value: json.RawMessage(`"theirs"`), StoredAt: time.Now().UnixMilli()}
	raw, _ := json.Marshal(ext)
	time.Sleep(5 * time.Millisecond) // ensure a newer mod time
	if err := store.Write(keyPrefix+"shared", raw); err != nil {
		t.Fatalf("external write: %v", err)
	}

	c.scanExternal()
	select {
	case v := <-notified:
		var got string
		if err := json.Unmarshal(v, &got); err != nil || got != "theirs" {
			t.Fatalf("notified with %s, want the external value", v)
		}
	case <-time.After(time.Second):
		t.Fatal("external mutation did not notify subscribers")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	c := New(store, WithDebounce(0))

	c.Put("leagues", []string{"premier-league", "la-liga"})

	var out []string
	if !c.Get("leagues", &out) {
		t.Fatal("expected a hit from the file store")
	}
	if len(out) != 2 || out[1] != "la-liga" {
		t.Fatalf("got %v", out)
	}

	if _, ok := c.StoredAt("leagues"); !ok {
		t.Fatal("StoredAt should be set after a flush")
	}
}

func TestFileStoreQuota(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), 64)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write("a", make([]byte, 40)); err != nil {
		t.Fatalf("first write: %v", err)
	}
	err = store.Write("b", make([]byte, 40))
	if !IsCapacityError(err) {
		t.Fatalf("got %v, want a capacity error", err)
	}
	// Overwriting the existing key stays within quota.
	if err := store.Write("a", make([]byte, 60)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}
