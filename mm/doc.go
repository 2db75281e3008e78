// Package mm is the client-side view of disaggregated remote memory.
//
// A client registers RDMA segments it obtained from memory servers and the
// Allocator carves them into blocks of one uniform size. Cached objects are
// stored one per block; objects larger than the block size are rejected.
//
// Design
//
//   - Pool: free blocks sit in a FIFO queue so that the oldest freed block is
//     reused first. Used blocks are tracked by (server, address).
//
//   - Accounting: CheckIntegrity verifies used + free == blocks carved from
//     all segments. A mismatch means a double free or a leak elsewhere.
//
//   - Backpressure: NeedAmortize turns true once the pool drops below the
//     watermark. Evicting a remote slot costs network round trips, so the
//     caller evicts ahead of demand instead of waiting for ErrOutOfMemory.
//
//   - Concurrency: one mutex guards the pool, the used set and the segment
//     list. Allocation counters are padded atomics read without the lock.
//
// Basic usage
//
//	a, err := mm.New(mm.Options{SegmentSize: 4096, BlockSize: 1024})
//	if err != nil {
//	    return err
//	}
//	if err := a.AddSegment(raddr, rkey, server); err != nil {
//	    return err // configuration error
//	}
//	b, err := a.Alloc(700)
//	if errors.Is(err, mm.ErrOutOfMemory) {
//	    // run an eviction pass and retry
//	}
//	a.Free(b)
package mm
