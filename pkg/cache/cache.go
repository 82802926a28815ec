// Package cache provides a persistent key-value cache with debounced
// writes, per-key subscriptions, and age-based eviction when the backing
// store runs out of space. Serialization and storage failures never reach
// the caller; they are logged and degrade to cache misses.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultDebounce coalesces bursts of Put calls for the same key into
	// a single persisted write.
	DefaultDebounce = 500 * time.Millisecond

	// DefaultMaxEntryAge is the age past which entries are evicted when
	// the store reports capacity exhaustion.
	DefaultMaxEntryAge = 30 * 24 * time.Hour

	// keyVersion namespaces persisted keys. Bumping it orphans all
	// previously written entries, forcing a clean cache across deployments.
	keyVersion = "v2"

	keyPrefix = "betsync." + keyVersion + "."
)

// envelope is the persisted shape of every entry.
type envelope struct {
	Value    json.RawMessage `json:"value"`
	StoredAt int64           `json:"storedAt"`
}

type pendingWrite struct {
	timer *time.Timer
	data  json.RawMessage
}

// Option configures a Cache.
type Option func(*Cache)

// WithDebounce overrides the debounce window. Zero makes Put synchronous.
func WithDebounce(d time.Duration) Option {
	return func(c *Cache) { c.debounce = d }
}

// WithMaxEntryAge overrides the eviction age.
func WithMaxEntryAge(age time.Duration) Option {
	return func(c *Cache) { c.maxAge = age }
}

// WithEventObserver registers a callback for cache events
// ("hit", "miss", "write", "evict", "corrupt", "write_error"). Used to feed
// metrics.
func WithEventObserver(fn func(event string)) Option {
	return func(c *Cache) { c.onEvent = fn }
}

// Cache is a debounced write-behind cache over a Store.
type Cache struct {
	store    Store
	debounce time.Duration
	maxAge   time.Duration
	onEvent  func(string)

	mu      sync.Mutex
	pending map[string]*pendingWrite
	subs    map[string]map[int]func(json.RawMessage)
	nextSub int
	// lastSeen tracks store mod times so the watcher can tell external
	// mutations apart from our own writes.
	lastSeen map[string]time.Time

	now func() time.Time
}

// New creates a cache over the given store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		debounce: DefaultDebounce,
		maxAge:   DefaultMaxEntryAge,
		pending:  make(map[string]*pendingWrite),
		subs:     make(map[string]map[int]func(json.RawMessage)),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put schedules a debounced write of value under key. A second Put for the
// same key inside the window replaces the pending one, so only the last
// value of a burst is ever persisted. Serialization failures are logged and
// the write is abandoned; Put never panics or errors.
func (c *Cache) Put(key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[CACHE] marshal %s failed, write dropped: %v", key, err)
		c.event("write_error")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[key]; ok {
		p.timer.Stop()
	}

	if c.debounce <= 0 {
		c.pending[key] = &pendingWrite{data: data}
		c.flushLocked(key)
		return
	}

	p := &pendingWrite{data: data}
	p.timer = time.AfterFunc(c.debounce, func() { c.flushPending(key, p) })
	c.pending[key] = p
}

// flushPending runs on the debounce timer. It re-checks ownership so a
// replaced or cancelled write never persists.
func (c *Cache) flushPending(key string, p *pendingWrite) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[key] != p {
		return
	}
	c.flushLocked(key)
}

func (c *Cache) flushLocked(key string) {
	p := c.pending[key]
	delete(c.pending, key)

	env := envelope{Value: p.data, StoredAt: c.now().UnixMilli()}
	raw, err := json.Marshal(env)
	if err != nil {
		log.Printf("[CACHE] marshal envelope %s failed: %v", key, err)
		c.event("write_error")
		return
	}

	nsKey := keyPrefix + key
	err = c.store.Write(nsKey, raw)
	if IsCapacityError(err) {
		evicted := c.evictExpiredLocked()
		log.Printf("[CACHE] store full writing %s, evicted %d stale entries, retrying", key, evicted)
		err = c.store.Write(nsKey, raw)
	}
	if err != nil {
		// Abandoned on purpose: a full or broken store must not crash
		// the caller.
		log.Printf("[CACHE] write %s failed, entry dropped: %v", key, err)
		c.event("write_error")
		return
	}
	c.event("write")

	if mod, statErr := c.store.Stat(nsKey); statErr == nil {
		c.lastSeen[nsKey] = mod
	}
	c.notifyLocked(key, p.data)
}

// Get reads key into out and reports whether a usable entry existed.
// Absent or corrupt entries are misses, never errors.
func (c *Cache) Get(key string, out any) bool {
	raw, err := c.store.Read(keyPrefix + key)
	if err != nil {
		c.event("miss")
		return false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("[CACHE] corrupt entry %s treated as miss: %v", key, err)
		c.event("corrupt")
		return false
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		log.Printf("[CACHE] corrupt payload %s treated as miss: %v", key, err)
		c.event("corrupt")
		return false
	}
	c.event("hit")
	return true
}

// StoredAt returns the persist time of an entry, if present.
func (c *Cache) StoredAt(key string) (time.Time, bool) {
	raw, err := c.store.Read(keyPrefix + key)
	if err != nil {
		return time.Time{}, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(env.StoredAt), true
}

// Remove deletes key, cancels any pending write for it, and notifies
// subscribers with nil.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[key]; ok {
		p.timer.Stop()
		delete(c.pending, key)
	}
	nsKey := keyPrefix + key
	if err := c.store.Delete(nsKey); err != nil {
		log.Printf("[CACHE] delete %s failed: %v", key, err)
	}
	delete(c.lastSeen, nsKey)
	c.notifyLocked(key, nil)
}

// Subscribe registers fn for writes and removals of key and returns an
// unsubscribe function. When the last subscriber for a key unsubscribes,
// any pending debounce timer for that key is released.
func (c *Cache) Subscribe(key string, fn func(value json.RawMessage)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs[key] == nil {
		c.subs[key] = make(map[int]func(json.RawMessage))
	}
	id := c.nextSub
	c.nextSub++
	c.subs[key][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[key], id)
		if len(c.subs[key]) == 0 {
			delete(c.subs, key)
			if p, ok := c.pending[key]; ok {
				p.timer.Stop()
				delete(c.pending, key)
			}
		}
	}
}

// FlushAll persists every pending write immediately. Called on shutdown.
func (c *Cache) FlushAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, p := range c.pending {
		p.timer.Stop()
		c.flushLocked(key)
	}
}

// Watch polls the store for mutations made by another process and notifies
// subscribers of affected keys with the freshly parsed value. Blocks until
// ctx is done.
func (c *Cache) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.scanExternal()
		}
	}
}

func (c *Cache) scanExternal() {
	keys, err := c.store.Keys()
	if err != nil {
		return
	}
	for _, nsKey := range keys {
		if !strings.HasPrefix(nsKey, keyPrefix) {
			continue
		}
		mod, err := c.store.Stat(nsKey)
		if err != nil {
			continue
		}

		c.mu.Lock()
		seen, known := c.lastSeen[nsKey]
		c.lastSeen[nsKey] = mod
		c.mu.Unlock()

		// First sighting establishes the baseline, it is not a mutation.
		if !known || !mod.After(seen) {
			continue
		}

		raw, err := c.store.Read(nsKey)
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		key := strings.TrimPrefix(nsKey, keyPrefix)
		c.mu.Lock()
		c.notifyLocked(key, env.Value)
		c.mu.Unlock()
	}
}

// evictExpiredLocked removes entries whose persisted timestamp is older
// than the eviction age, returning the count removed. Corrupt entries are
// removed as well since they can never be read back.
func (c *Cache) evictExpiredLocked() int {
	keys, err := c.store.Keys()
	if err != nil {
		return 0
	}
	cutoff := c.now().Add(-c.maxAge).UnixMilli()
	evicted := 0
	for _, nsKey := range keys {
		if !strings.HasPrefix(nsKey, keyPrefix) {
			continue
		}
		raw, err := c.store.Read(nsKey)
		if err != nil {
			continue
		}
		var env envelope
		stale := false
		if err := json.Unmarshal(raw, &env); err != nil {
			stale = true
		} else if env.StoredAt < cutoff {
			stale = true
		}
		if !stale {
			continue
		}
		if err := c.store.Delete(nsKey); err == nil {
			delete(c.lastSeen, nsKey)
			evicted++
			c.event("evict")
		}
	}
	return evicted
}

// notifyLocked snapshots subscribers under the lock and invokes them on a
// fresh goroutine so a slow subscriber cannot stall a write path.
func (c *Cache) notifyLocked(key string, value json.RawMessage) {
	subs := c.subs[key]
	if len(subs) == 0 {
		return
	}
	fns := make([]func(json.RawMessage), 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	go func() {
		for _, fn := range fns {
			fn(value)
		}
	}()
}

func (c *Cache) event(name string) {
	if c.onEvent != nil {
		c.onEvent(name)
	}
}
