// Package transport is the boundary to the one-sided RDMA layer. Queue-pair
// setup and work-request posting live behind Remote; the allocator, the
// priority strategies and the history tracker never issue I/O themselves.
package transport

import (
	"context"
	"fmt"
)

// Remote performs one-sided operations against registered server memory.
// Atomics operate on 8-byte aligned little-endian words.
type Remote interface {
	Read(ctx context.Context, server uint16, addr uint64, rkey uint32, n int) ([]byte, error)
	Write(ctx context.Context, server uint16, addr uint64, rkey uint32, p []byte) error
	// FetchAdd adds delta to the word at addr and returns its previous value.
	FetchAdd(ctx context.Context, server uint16, addr uint64, rkey uint32, delta uint64) (uint64, error)
	// CompareAndSwap stores swap if the word equals cmp and returns the value
	// it observed; the swap happened iff the result equals cmp.
	CompareAndSwap(ctx context.Context, server uint16, addr uint64, rkey uint32, cmp, swap uint64) (uint64, error)
}

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrAccess is returned for unregistered ranges or a wrong rkey.
	ErrAccess = constError("transport: remote access error")
	// ErrUnaligned is returned for atomics on unaligned addresses.
	ErrUnaligned = constError("transport: unaligned atomic")
)

// AccessError wraps ErrAccess with the failing coordinates.
func AccessError(server uint16, addr uint64, n int, rkey uint32) error {
	return fmt.Errorf("%w: server %d addr 0x%x len %d rkey %d", ErrAccess, server, addr, n, rkey)
}
