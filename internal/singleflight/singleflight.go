// Package singleflight coalesces concurrent eviction passes: when several
// allocation paths see the pool under its watermark at once, one of them
// evicts and the others wait for its result instead of evicting again.
package singleflight

import (
	"context"
	"sync"
)

// Group runs at most one fn per key at a time.
//
// The first caller for a key becomes the leader and runs fn with its own ctx.
// Followers wait for the leader's result; cancelling a follower's ctx only
// releases that follower.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done    chan struct{} // closed once val/err are published
	val     V
	err     error
	waiters int
}

// Do runs fn for key unless a run is already in flight, in which case it
// waits for that run. shared reports whether the result came from another
// caller's run.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(context.Context) (V, error)) (v V, shared bool, err error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		c.waiters++
		g.mu.Unlock()

		select {
		case <-c.done:
			return c.val, true, c.err
		case <-ctx.Done():
			var zero V
			return zero, true, ctx.Err()
		}
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn(ctx)
	close(c.done)

	g.mu.Lock()
	delete(g.m, key)
	shared = c.waiters > 0
	g.mu.Unlock()

	return c.val, shared, c.err
}

// InFlight reports whether a run for key is currently executing.
func (g *Group[K, V]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}
