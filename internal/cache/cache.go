// Package cache is the shared in-memory job cache: per-job records and the
// aggregate history view, read by every dashboard surface in the process.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Cache is safe for concurrent use.
//
// Every Set, Invalidate and Remove bumps the key's generation. A fetch
// stores its result only when the generation it started under is still
// current, so a slow fetch never overwrites a newer write or resurrects an
// evicted key.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*item
	gens    map[string]uint64
	seq     uint64
	flights map[string]*flight
	group   singleflight.Group
}

type item struct {
	value any
	stale bool
}

// flight is one outstanding fetch and the callers waiting on it.
type flight struct {
	gen       uint64
	waiters   int
	abandoned bool
}

// ErrAbandoned is returned by a fetch function that noticed, through
// Abandoned, that nobody is waiting for its result any more.
var ErrAbandoned = errors.New("cache: fetch abandoned")

type flightKey struct{}

type flightRef struct {
	c *Cache
	f *flight
}

func New() *Cache {
	return &Cache{
		items:   make(map[string]*item),
		gens:    make(map[string]uint64),
		flights: make(map[string]*flight),
	}
}

// Get returns the value under key unless it is absent or invalidated.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok || it.stale {
		return nil, false
	}
	return it.value, true
}

// Peek returns the value under key even when it has been invalidated.
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return it.value, true
}

func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bump(key)
	c.items[key] = &item{value: value}
}

// Gen returns the current generation of key, for a later SetIfGen.
func (c *Cache) Gen(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key]
}

// SetIfGen stores value only if key has not been written, invalidated or
// removed since gen was read. It reports whether value was stored.
func (c *Cache) SetIfGen(key string, gen uint64, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return false
	}
	c.bump(key)
	c.items[key] = &item{value: value}
	return true
}

// SetIf stores value unless keep, given the value currently under key,
// returns false. keep is not called when key is absent.
func (c *Cache) SetIf(key string, value any, keep func(cur any) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok && !keep(it.value) {
		return false
	}
	c.bump(key)
	c.items[key] = &item{value: value}
	return true
}

// Invalidate keeps the value for Peek but forces the next Fetch to refetch.
// Callers already waiting on an outstanding fetch still receive its result.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bump(key)
	if it, ok := c.items[key]; ok {
		it.stale = true
	}
}

// Remove evicts key immediately.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bump(key)
	delete(c.items, key)
}

// Reset drops every key and abandons every outstanding fetch.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, f := range c.flights {
		f.abandoned = true
		c.detach(key)
	}
	for key := range c.items {
		c.seq++
		c.gens[key] = c.seq
	}
	c.items = make(map[string]*item)
}

// bump advances key's generation and detaches its outstanding fetch so the
// next reader starts a new one. Callers hold mu.
func (c *Cache) bump(key string) {
	c.seq++
	c.gens[key] = c.seq
	c.detach(key)
}

func (c *Cache) detach(key string) {
	if _, ok := c.flights[key]; ok {
		delete(c.flights, key)
		c.group.Forget(key)
	}
}

// Fetch returns the cached value under key, or runs fn and caches its result.
// Concurrent callers for the same key share one call of fn.
//
// fn runs detached from the caller's cancellation. A caller whose ctx ends
// stops waiting and gets ctx.Err(); when every waiter has gone, the result
// of fn is discarded instead of cached. fn can check Abandoned on its ctx
// before making side effects of its own.
func Fetch[T any](ctx context.Context, c *Cache, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	c.mu.Lock()
	if it, ok := c.items[key]; ok && !it.stale {
		if v, ok := it.value.(T); ok {
			c.mu.Unlock()
			metrics.IncCacheRequest(kind(key), "hit")
			return v, nil
		}
	}

	f, shared := c.flights[key]
	if !shared {
		f = &flight{gen: c.gens[key]}
		c.flights[key] = f
	}
	f.waiters++
	fctx := context.WithValue(context.WithoutCancel(ctx), flightKey{}, flightRef{c: c, f: f})
	ch := c.group.DoChan(key, func() (any, error) {
		v, err := fn(fctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.flights[key] == f {
			delete(c.flights, key)
			c.group.Forget(key)
		}
		if err == nil && !f.abandoned && c.gens[key] == f.gen {
			c.seq++
			c.gens[key] = c.seq
			c.items[key] = &item{value: v}
		}
		return v, err
	})
	c.mu.Unlock()

	if shared {
		metrics.IncCacheRequest(kind(key), "shared")
	} else {
		metrics.IncCacheRequest(kind(key), "miss")
	}

	select {
	case res := <-ch:
		c.leave(key, f, false)
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("cache: value under %q is %T", key, res.Val)
		}
		return v, nil
	case <-ctx.Done():
		c.leave(key, f, true)
		return zero, ctx.Err()
	}
}

func (c *Cache) leave(key string, f *flight, abandon bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if abandon && f.waiters == 0 {
		f.abandoned = true
		if c.flights[key] == f {
			delete(c.flights, key)
			c.group.Forget(key)
		}
	}
}

// Abandoned reports whether the Fetch running with ctx has lost every
// waiter, or the cache was reset under it. It is false outside a Fetch.
func Abandoned(ctx context.Context) bool {
	ref, ok := ctx.Value(flightKey{}).(flightRef)
	if !ok {
		return false
	}
	ref.c.mu.Lock()
	defer ref.c.mu.Unlock()
	return ref.f.abandoned
}
