package cache

import (
	"container/heap"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key       K
	value     V
	ttl       time.Duration
	expiresAt time.Time // zero never expires
	index     int
}

func (e *entry[K, V]) expiredAt(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// before orders entries by expiry; entries that never expire sort last.
func (e *entry[K, V]) before(o *entry[K, V]) bool {
	switch {
	case e.expiresAt.IsZero():
		return false
	case o.expiresAt.IsZero():
		return true
	default:
		return e.expiresAt.Before(o.expiresAt)
	}
}

type expiryHeap[K comparable, V any] []*entry[K, V]

func (h expiryHeap[K, V]) Len() int           { return len(h) }
func (h expiryHeap[K, V]) Less(i, j int) bool { return h[i].before(h[j]) }

func (h expiryHeap[K, V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap[K, V]) Push(x any) {
	e := x.(*entry[K, V])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap[K, V]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

type shard[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]*entry[K, V]
	heap  expiryHeap[K, V]

	writerOnce sync.Once
	writes     chan write[K, V]
}

func newShard[K comparable, V any]() *shard[K, V] {
	return &shard[K, V]{
		items:  make(map[K]*entry[K, V]),
		writes: make(chan write[K, V], 64),
	}
}

// insert and remove require s.mu.
func (s *shard[K, V]) insert(e *entry[K, V]) {
	s.items[e.key] = e
	heap.Push(&s.heap, e)
}

func (s *shard[K, V]) remove(e *entry[K, V]) {
	delete(s.items, e.key)
	if e.index >= 0 {
		heap.Remove(&s.heap, e.index)
	}
}

func (s *shard[K, V]) reset() {
	s.items = make(map[K]*entry[K, V])
	s.heap = nil
}
