// Package chunkcache provides a bounded, deduplicating cache for values that
// are expensive to fetch, such as chunks of a remote array or of a nested
// containment list.
//
// Concurrent requests for a key that is not resident share a single fill.
// Resident values are evicted in least-recently-used order once the number
// of entries exceeds the capacity.  Failed fills are not cached.
package chunkcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/log"
	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 100

// FillFunc produces the value for a key that is not resident.  The context
// is cancelled once every caller waiting for the key has given up.
type FillFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Stats counts cache activity since construction.
type Stats struct {
	Hits, Misses, Fills, Evictions int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// flight tracks the callers waiting for one in-progress fill.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Cache is a single-flight LRU cache.  It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	capacity int
	fill     FillFunc[K, V]
	group    singleflight.Group

	mu      sync.Mutex
	items   map[K]*list.Element
	order   *list.List // front is most recently used
	flights map[K]*flight

	hits, misses, fills, evictions atomic.Int64
}

// New creates a cache holding at most capacity resident values.
func New[K comparable, V any](capacity int, fill FillFunc[K, V]) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[K, V]{
		capacity: capacity,
		fill:     fill,
		items:    make(map[K]*list.Element),
		order:    list.New(),
		flights:  make(map[K]*flight),
	}
}

// Get returns the value for key, filling it if it is not resident.  A fill
// already in progress for key is shared rather than repeated.  If ctx is done
// before the value is available, Get returns ctx.Err(); the fill keeps running
// as long as another caller still waits for it and is cancelled otherwise.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		v := elem.Value.(*entry[K, V]).value
		c.mu.Unlock()
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)
	f := c.flights[key]
	if f == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	c.mu.Unlock()

	sk := flightKey(key)
	ch := c.group.DoChan(sk, func() (any, error) {
		// A fill that completed between our miss and this call already
		// inserted the value.
		c.mu.Lock()
		if elem, ok := c.items[key]; ok {
			v := elem.Value.(*entry[K, V]).value
			if c.flights[key] == f {
				delete(c.flights, key)
			}
			c.mu.Unlock()
			f.cancel()
			return v, nil
		}
		c.mu.Unlock()
		c.fills.Add(1)
		v, err := c.fill(f.ctx, key)
		c.mu.Lock()
		if err == nil {
			c.insertLocked(key, v)
		}
		if c.flights[key] == f {
			delete(c.flights, key)
		}
		c.mu.Unlock()
		f.cancel()
		return v, err
	})
	var zero V
	select {
	case res := <-ch:
		c.release(key, sk, f, false)
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		c.release(key, sk, f, true)
		return zero, ctx.Err()
	}
}

// release drops one waiter of f.  When the last waiter abandons the fill, the
// fill is cancelled and forgotten so that the next Get starts afresh.
func (c *Cache[K, V]) release(key K, sk string, f *flight, abandoned bool) {
	c.mu.Lock()
	f.waiters--
	cancel := abandoned && f.waiters == 0
	if cancel && c.flights[key] == f {
		delete(c.flights, key)
		c.group.Forget(sk)
	}
	c.mu.Unlock()
	if cancel {
		if log.At(log.Debug) {
			log.Debug.Printf("chunkcache: cancelling abandoned fill of %v", key)
		}
		f.cancel()
	}
}

// insertLocked adds or replaces key and evicts least-recently-used entries
// beyond capacity.  REQUIRES: c.mu is held.
func (c *Cache[K, V]) insertLocked(key K, v V) {
	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry[K, V]).value = v
		c.order.MoveToFront(elem)
		return
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: v})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		e := c.order.Remove(oldest).(*entry[K, V])
		delete(c.items, e.key)
		c.evictions.Add(1)
		if log.At(log.Debug) {
			log.Debug.Printf("chunkcache: evicted %v", e.key)
		}
	}
}

// Contains reports whether key is resident, without refreshing its recency.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Len returns the number of resident values.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the maximum number of resident values.
func (c *Cache[K, V]) Capacity() int { return c.capacity }

// Stats returns a snapshot of the activity counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Fills:     c.fills.Load(),
		Evictions: c.evictions.Load(),
	}
}

func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%#v", key)
}
