// Package cache provides a bounded, key-sharded TTL cache shared by the tenancy
// resolver and the rate limiter.
//
// Entries expire lazily: an expired entry is never returned, and it is removed the
// next time it is touched (or by Purge). When the cache is full, inserting a new key
// evicts the entry with the soonest expiry rather than the least recently used one.
package cache

import (
	"container/heap"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"
)

const defaultShards = 16

// EvictReason explains why an entry left the cache.
type EvictReason int

const (
	EvictExpired EvictReason = iota + 1
	EvictCapacity
	EvictDeleted
	EvictReplaced
	EvictCleared
)

func (r EvictReason) String() string {
	switch r {
	case EvictExpired:
		return "expired"
	case EvictCapacity:
		return "capacity"
	case EvictDeleted:
		return "deleted"
	case EvictReplaced:
		return "replaced"
	case EvictCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Options configures a Cache.
type Options[K comparable, V any] struct {
	// Name labels the cache in metrics.
	Name string
	// TTL is the default time-to-live used by Set. Zero means entries never expire.
	TTL time.Duration
	// MaxSize bounds the number of live entries across all shards. Zero means unbounded.
	MaxSize int
	// Shards is the number of independently locked partitions. Defaults to 16.
	Shards int
	// NoUpdateTTL keeps the original expiry when an existing key is set again.
	NoUpdateTTL bool
	// RefreshOnGet pushes an entry's expiry forward by its TTL on every successful Get.
	RefreshOnGet bool
	// Clock is the time source. Defaults to the wall clock.
	Clock clock.Clock
	// Hasher maps keys to shards. Defaults to xxhash over the key.
	Hasher func(K) uint64
	// OnEvict is invoked outside any lock for every entry that leaves the cache.
	OnEvict func(key K, value V, reason EvictReason)
	// Metrics records evictions when set.
	Metrics *Metrics
}

// Cache is a generic TTL cache safe for concurrent use.
type Cache[K comparable, V any] struct {
	opts   Options[K, V]
	clock  clock.Clock
	hasher func(K) uint64
	shards []*shard[K, V]
	size   atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	writers   sync.WaitGroup
}

type eviction[K comparable, V any] struct {
	key    K
	value  V
	reason EvictReason
}

// New constructs a Cache.
func New[K comparable, V any](opts Options[K, V]) *Cache[K, V] {
	if opts.Shards <= 0 {
		opts.Shards = defaultShards
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Hasher == nil {
		opts.Hasher = defaultHasher[K]
	}

	c := &Cache[K, V]{
		opts:   opts,
		clock:  opts.Clock,
		hasher: opts.Hasher,
		shards: make([]*shard[K, V], opts.Shards),
		done:   make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = newShard[K, V]()
	}
	return c
}

// Set stores value under key using the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.opts.TTL)
}

// SetWithTTL stores value under key with its own TTL. A non-positive ttl never expires.
// Replacing a live entry reports the previous value to OnEvict with EvictReplaced.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.upsert(key, ttl, func(V, bool) V { return value }, true)
}

// Update atomically replaces the value under key with fn(old, found). The new value is
// stored with ttl when the key is absent or expired; for a live key the TTL is reset
// unless NoUpdateTTL is set. The stored value is returned.
func (c *Cache[K, V]) Update(key K, ttl time.Duration, fn func(old V, found bool) V) V {
	return c.upsert(key, ttl, fn, false)
}

// Get returns the live value stored under key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lookup(key, c.opts.RefreshOnGet)
}

// Has reports whether key holds a live entry. It never refreshes the entry.
func (c *Cache[K, V]) Has(key K) bool {
	_, ok := c.lookup(key, false)
	return ok
}

// Expiry returns the expiry of a live entry. The zero time means it never expires.
func (c *Cache[K, V]) Expiry(key K) (time.Time, bool) {
	s := c.shardFor(key)
	now := c.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok || e.expiredAt(now) {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

// Delete removes key and reports whether a live entry was removed.
func (c *Cache[K, V]) Delete(key K) bool {
	s := c.shardFor(key)
	now := c.clock.Now()

	s.mu.Lock()
	e, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.remove(e)
	c.size.Add(-1)
	s.mu.Unlock()

	reason := EvictDeleted
	if e.expiredAt(now) {
		reason = EvictExpired
	}
	c.notify([]eviction[K, V]{{key: key, value: e.value, reason: reason}})
	return reason == EvictDeleted
}

// DeleteFunc removes every entry for which match returns true and returns how many
// were removed. match runs under the shard lock and must not call back into the cache.
func (c *Cache[K, V]) DeleteFunc(match func(key K, value V) bool) int {
	var evicted []eviction[K, V]
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if match(k, e.value) {
				s.remove(e)
				c.size.Add(-1)
				evicted = append(evicted, eviction[K, V]{key: k, value: e.value, reason: EvictDeleted})
			}
		}
		s.mu.Unlock()
	}
	c.notify(evicted)
	return len(evicted)
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	var evicted []eviction[K, V]
	for _, s := range c.shards {
		s.mu.Lock()
		for _, e := range s.heap {
			evicted = append(evicted, eviction[K, V]{key: e.key, value: e.value, reason: EvictCleared})
		}
		c.size.Add(-int64(len(s.items)))
		s.reset()
		s.mu.Unlock()
	}
	c.notify(evicted)
}

// Purge physically removes every expired entry and returns how many were removed.
func (c *Cache[K, V]) Purge() int {
	now := c.clock.Now()
	var evicted []eviction[K, V]
	for _, s := range c.shards {
		s.mu.Lock()
		for len(s.heap) > 0 && s.heap[0].expiredAt(now) {
			e := s.heap[0]
			s.remove(e)
			c.size.Add(-1)
			evicted = append(evicted, eviction[K, V]{key: e.key, value: e.value, reason: EvictExpired})
		}
		s.mu.Unlock()
	}
	c.notify(evicted)
	return len(evicted)
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *Cache[K, V]) Len() int {
	return int(c.size.Load())
}

func (c *Cache[K, V]) lookup(key K, refresh bool) (V, bool) {
	var zero V
	s := c.shardFor(key)
	now := c.clock.Now()

	s.mu.Lock()
	e, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		return zero, false
	}
	if e.expiredAt(now) {
		s.remove(e)
		c.size.Add(-1)
		s.mu.Unlock()
		c.notify([]eviction[K, V]{{key: key, value: e.value, reason: EvictExpired}})
		return zero, false
	}
	if refresh && e.ttl > 0 {
		e.expiresAt = now.Add(e.ttl)
		heap.Fix(&s.heap, e.index)
	}
	v := e.value
	s.mu.Unlock()
	return v, true
}

func (c *Cache[K, V]) upsert(key K, ttl time.Duration, fn func(V, bool) V, notifyReplace bool) V {
	s := c.shardFor(key)
	var evicted []eviction[K, V]
	reserved := false

	for {
		now := c.clock.Now()
		s.mu.Lock()
		if e, ok := s.items[key]; ok {
			if !e.expiredAt(now) {
				old := e.value
				e.value = fn(old, true)
				if !c.opts.NoUpdateTTL {
					e.ttl = ttl
					e.expiresAt = expiry(now, ttl)
					heap.Fix(&s.heap, e.index)
				}
				v := e.value
				s.mu.Unlock()
				if reserved {
					c.size.Add(-1)
				}
				if notifyReplace {
					evicted = append(evicted, eviction[K, V]{key: key, value: old, reason: EvictReplaced})
				}
				c.notify(evicted)
				return v
			}
			s.remove(e)
			c.size.Add(-1)
			evicted = append(evicted, eviction[K, V]{key: key, value: e.value, reason: EvictExpired})
		}

		if reserved || c.opts.MaxSize <= 0 {
			var zero V
			e := &entry[K, V]{key: key, value: fn(zero, false), ttl: ttl, expiresAt: expiry(now, ttl)}
			s.insert(e)
			if !reserved {
				c.size.Add(1)
			}
			v := e.value
			s.mu.Unlock()
			c.notify(evicted)
			return v
		}
		s.mu.Unlock()

		// The slot is reserved before the shard lock is retaken so eviction can lock
		// other shards without holding this one.
		evicted = append(evicted, c.reserve()...)
		reserved = true
	}
}

// reserve claims one slot of MaxSize, evicting the soonest-expiring entries while full.
func (c *Cache[K, V]) reserve() []eviction[K, V] {
	var evicted []eviction[K, V]
	limit := int64(c.opts.MaxSize)
	for {
		n := c.size.Load()
		if n < limit {
			if c.size.CompareAndSwap(n, n+1) {
				return evicted
			}
			continue
		}
		if ev, ok := c.evictSoonest(); ok {
			evicted = append(evicted, ev)
			continue
		}
		// Every slot is held by an in-flight insert.
		runtime.Gosched()
	}
}

func (c *Cache[K, V]) evictSoonest() (eviction[K, V], bool) {
	var target *shard[K, V]
	var best *entry[K, V]
	for _, s := range c.shards {
		s.mu.Lock()
		if len(s.heap) > 0 && (best == nil || s.heap[0].before(best)) {
			target, best = s, s.heap[0]
		}
		s.mu.Unlock()
	}
	if target == nil {
		return eviction[K, V]{}, false
	}

	now := c.clock.Now()
	target.mu.Lock()
	if len(target.heap) == 0 {
		target.mu.Unlock()
		return eviction[K, V]{}, false
	}
	e := target.heap[0]
	target.remove(e)
	c.size.Add(-1)
	target.mu.Unlock()

	reason := EvictCapacity
	if e.expiredAt(now) {
		reason = EvictExpired
	}
	return eviction[K, V]{key: e.key, value: e.value, reason: reason}, true
}

func (c *Cache[K, V]) notify(evicted []eviction[K, V]) {
	for _, ev := range evicted {
		if c.opts.Metrics != nil {
			c.opts.Metrics.evictions.WithLabelValues(c.opts.Name, ev.reason.String()).Inc()
		}
		if c.opts.OnEvict != nil {
			c.opts.OnEvict(ev.key, ev.value, ev.reason)
		}
	}
}

func (c *Cache[K, V]) shardFor(key K) *shard[K, V] {
	return c.shards[c.hasher(key)%uint64(len(c.shards))]
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func defaultHasher[K comparable](key K) uint64 {
	switch v := any(key).(type) {
	case string:
		return xxhash.Sum64String(v)
	case uint64:
		return v
	case int:
		return uint64(v)
	case int64:
		return uint64(v)
	case uint32:
		return uint64(v)
	default:
		return xxhash.Sum64String(fmt.Sprint(v))
	}
}
