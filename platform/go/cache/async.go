package cache

import "time"

type write[K comparable, V any] struct {
	key     K
	value   V
	ttl     time.Duration
	barrier chan struct{}
}

// SetAsync stores value under key with the default TTL without waiting for the write.
// Writes to the same key are applied in call order. After Close the write is applied
// synchronously.
func (c *Cache[K, V]) SetAsync(key K, value V) {
	s := c.shardFor(key)
	w := write[K, V]{key: key, value: value, ttl: c.opts.TTL}

	select {
	case <-c.done:
		c.SetWithTTL(key, value, w.ttl)
		return
	default:
	}

	c.startWriter(s)
	select {
	case s.writes <- w:
	case <-c.done:
		c.SetWithTTL(key, value, w.ttl)
	}
}

// Flush blocks until every SetAsync issued before the call has been applied.
func (c *Cache[K, V]) Flush() {
	barriers := make([]chan struct{}, 0, len(c.shards))
	for _, s := range c.shards {
		b := make(chan struct{})
		c.startWriter(s)
		select {
		case s.writes <- write[K, V]{barrier: b}:
			barriers = append(barriers, b)
		case <-c.done:
		}
	}
	for _, b := range barriers {
		select {
		case <-b:
		case <-c.done:
		}
	}
}

// Close stops the async writers after applying queued writes. The cache stays usable
// for synchronous calls; entries are not evicted.
func (c *Cache[K, V]) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.writers.Wait()
}

func (c *Cache[K, V]) startWriter(s *shard[K, V]) {
	s.writerOnce.Do(func() {
		c.writers.Add(1)
		go c.runWriter(s)
	})
}

func (c *Cache[K, V]) runWriter(s *shard[K, V]) {
	defer c.writers.Done()
	for {
		select {
		case w := <-s.writes:
			c.apply(w)
		case <-c.done:
			for {
				select {
				case w := <-s.writes:
					c.apply(w)
				default:
					return
				}
			}
		}
	}
}

func (c *Cache[K, V]) apply(w write[K, V]) {
	if w.barrier != nil {
		close(w.barrier)
		return
	}
	c.SetWithTTL(w.key, w.value, w.ttl)
}
