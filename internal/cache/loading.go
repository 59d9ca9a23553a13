// Package cache provides a generic loading cache with LRU size bounds and
// idle-time expiry.
package cache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/tinytelemetry/tideline/internal/metrics"
)

// LoaderFunc computes the value for a key on a miss.
type LoaderFunc[K, V any] func(ctx context.Context, key K) (V, error)

// Config controls the bounds of one cache.
type Config struct {
	// Name labels the cache in logs and metrics.
	Name string
	// MaxSize caps the number of entries; the least recently used entry is
	// evicted first. Values below 1 are treated as 1.
	MaxSize int
	// ExpireAfterAccess drops entries not read for this long. Zero disables expiry.
	ExpireAfterAccess time.Duration
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Loads      uint64
	LoadErrors uint64
	Evictions  uint64
	Entries    int
}

type entry[V any] struct {
	value    V
	accessed atomic.Int64 // unix nanos of the last read
}

// Loading is a thread-safe cache that calls its loader on a miss.
//
// Keys are mapped to strings by keyOf so that values which are not
// comparable in Go (zoom states holding filter trees) can still be keyed by
// structural identity. Concurrent misses for one key share a single loader
// call. Loader errors are returned to every waiting caller and never cached.
type Loading[K, V any] struct {
	name  string
	keyOf func(K) string
	load  LoaderFunc[K, V]
	idle  time.Duration
	now   func() time.Time

	// mu orders stores against invalidations; lookups on the hit path skip it.
	mu      sync.Mutex
	epoch   uint64
	entries *lru.Cache[string, *entry[V]]
	group   singleflight.Group

	hits, misses, loads, loadErrors, evictions atomic.Uint64
}

// New creates a loading cache.
func New[K, V any](cfg Config, keyOf func(K) string, load LoaderFunc[K, V]) *Loading[K, V] {
	size := cfg.MaxSize
	if size < 1 {
		size = 1
	}
	entries, err := lru.New[string, *entry[V]](size)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Loading[K, V]{
		name:    cfg.Name,
		keyOf:   keyOf,
		load:    load,
		idle:    cfg.ExpireAfterAccess,
		now:     now,
		entries: entries,
	}
}

// Int64Key is a keyOf function for int64 keys.
func Int64Key(k int64) string { return strconv.FormatInt(k, 10) }

// Name returns the configured cache name.
func (c *Loading[K, V]) Name() string { return c.name }

// Get returns the cached value for key, loading it on a miss.
func (c *Loading[K, V]) Get(ctx context.Context, key K) (V, error) {
	k := c.keyOf(key)
	if v, ok := c.lookup(k); ok {
		c.hits.Add(1)
		metrics.CacheRequests.WithLabelValues(c.name, "hit").Inc()
		return v, nil
	}
	c.misses.Add(1)
	metrics.CacheRequests.WithLabelValues(c.name, "miss").Inc()

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	// The epoch is part of the flight key so a caller arriving after an
	// invalidation never joins a load that started before it.
	res, err, _ := c.group.Do(strconv.FormatUint(epoch, 10)+"/"+k, func() (any, error) {
		c.loads.Add(1)
		v, err := c.load(ctx, key)
		if err != nil {
			c.loadErrors.Add(1)
			metrics.CacheLoads.WithLabelValues(c.name, "error").Inc()
			return nil, err
		}
		metrics.CacheLoads.WithLabelValues(c.name, "ok").Inc()
		c.storeIfCurrent(k, v, epoch)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Put stores a value computed outside the loader.
func (c *Loading[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(c.keyOf(key), value)
}

// Epoch returns the invalidation counter. A value computed outside the loader
// should capture it before reading the source and store through PutIfCurrent.
func (c *Loading[K, V]) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// PutIfCurrent stores value unless the cache was invalidated after epoch was
// taken. It reports whether the value was stored.
func (c *Loading[K, V]) PutIfCurrent(key K, value V, epoch uint64) bool {
	return c.storeIfCurrent(c.keyOf(key), value, epoch)
}

// Contains reports whether an unexpired value is cached for key without
// refreshing its access time.
func (c *Loading[K, V]) Contains(key K) bool {
	e, ok := c.entries.Peek(c.keyOf(key))
	return ok && !c.expired(e)
}

// Invalidate drops the given keys. Loads already in flight will not store
// their result.
func (c *Loading[K, V]) Invalidate(keys ...K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	for _, key := range keys {
		c.entries.Remove(c.keyOf(key))
	}
	metrics.CacheInvalidations.WithLabelValues(c.name, "keys").Inc()
}

// InvalidateAll drops every entry.
func (c *Loading[K, V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries.Purge()
	metrics.CacheInvalidations.WithLabelValues(c.name, "all").Inc()
}

// Len returns the number of entries, including ones that expired but have
// not been looked up since.
func (c *Loading[K, V]) Len() int {
	return c.entries.Len()
}

// Stats returns the cache counters.
func (c *Loading[K, V]) Stats() Stats {
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Loads:      c.loads.Load(),
		LoadErrors: c.loadErrors.Load(),
		Evictions:  c.evictions.Load(),
		Entries:    c.entries.Len(),
	}
}

func (c *Loading[K, V]) lookup(k string) (V, bool) {
	e, ok := c.entries.Get(k)
	if !ok {
		var zero V
		return zero, false
	}
	if c.expired(e) {
		c.mu.Lock()
		if cur, ok := c.entries.Peek(k); ok && cur == e {
			c.entries.Remove(k)
			c.evictions.Add(1)
			metrics.CacheEvictions.WithLabelValues(c.name, "idle").Inc()
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	e.accessed.Store(c.now().UnixNano())
	return e.value, true
}

func (c *Loading[K, V]) expired(e *entry[V]) bool {
	if c.idle <= 0 {
		return false
	}
	return c.now().UnixNano()-e.accessed.Load() > int64(c.idle)
}

func (c *Loading[K, V]) storeIfCurrent(k string, v V, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.add(k, v)
	return true
}

// add requires c.mu.
func (c *Loading[K, V]) add(k string, v V) {
	e := &entry[V]{value: v}
	e.accessed.Store(c.now().UnixNano())
	if evicted := c.entries.Add(k, e); evicted {
		c.evictions.Add(1)
		metrics.CacheEvictions.WithLabelValues(c.name, "size").Inc()
	}
}
