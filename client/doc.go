// Package client is a cache whose objects live in remote memory blocks and
// whose index lives in a remote slot table.
//
// Design
//
//   - Concurrency: the local key index is split into shards, each protected
//     by a mutex. The shard count is a power of two. The remote slot words
//     are only ever changed with compare-and-swap.
//
//   - Storage: Set allocates one block from the mm.Allocator, writes the
//     object header, key and value to it, then publishes the block in a
//     slot of the table. Replacing a key frees the previous block once the
//     slot no longer points to it.
//
//   - Eviction: when free blocks fall below the allocator watermark, Set
//     runs evict.Evictor passes. The client is the evictor's Sampler and
//     turns evicted entries into ghosts.
//
//   - Ghosts: an evicted slot keeps a word recording the history head at
//     eviction time. Lookup reports whether a ghost is still inside the
//     history window; stale ghost slots are reclaimed by later inserts.
//
//   - Metrics: Options.Metrics receives Hit/Miss/GhostHit/Size signals.
//     By default NoopMetrics is used; metrics/prom provides an adapter.
//
// Basic usage
//
//	c, err := client.New(client.Config{
//	    Allocator: alloc,
//	    Priority:  priority.MustNew(priority.LRU),
//	    History:   hist,
//	    Remote:    node,
//	    Table:     client.Table{Addr: tblAddr, RKey: tblKey, Slots: 1024},
//	    HistoryRKey: histKey,
//	}, client.Options{})
//	_ = c.Set(ctx, "a", []byte("1"))
//	v, ok, err := c.Get(ctx, "a")
//
// See fx/dmcfx for a ready-made wiring over go.uber.org/fx.
package client
