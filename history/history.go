// Package history tracks evictions with a single remote 48-bit counter.
//
// Every eviction increments the head counter once. An evicted slot keeps a
// ghost word recording the head at eviction time; the ghost is meaningful
// while fewer than Capacity evictions happened since. The tracker itself
// issues no remote operations: callers increment the counter at CounterAddr
// through the transport and feed the values they read into HasOverwritten.
package history

import (
	"fmt"

	"github.com/IvanBrykalov/dmcache/slot"
)

// HeadMask keeps the 48 significant bits of a head value.
const HeadMask = 1<<48 - 1

// CounterSize is the remote footprint of the tracker: one uint64 head.
const CounterSize = 8

// Role selects who constructs the tracker.
type Role uint8

const (
	// RoleClient only reads and increments the remote counter.
	RoleClient Role = iota
	// RoleServer owns the memory holding the counter and zeroes it.
	RoleServer
)

type constError string

func (e constError) Error() string { return string(e) }

// ErrInvalidConfig is returned by New for a zero window or a missing
// server-side counter buffer.
const ErrInvalidConfig = constError("history: invalid configuration")

// History answers staleness questions about ghost entries.
type History struct {
	capacity    uint32
	counterAddr uint64
}

// New builds a tracker with a window of capacity evictions whose head
// counter lives at counterAddr. In RoleServer, local is the server-side
// memory backing counterAddr and its first CounterSize bytes are zeroed.
func New(capacity uint32, counterAddr uint64, role Role, local []byte) (*History, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("%w: window size must be >= 1", ErrInvalidConfig)
	}
	if role == RoleServer {
		if len(local) < CounterSize {
			return nil, fmt.Errorf("%w: server counter needs %d bytes, got %d",
				ErrInvalidConfig, CounterSize, len(local))
		}
		clear(local[:CounterSize])
	}
	return &History{capacity: capacity, counterAddr: counterAddr}, nil
}

// Size is the number of remote bytes the tracker occupies.
func (h *History) Size() uint32 { return CounterSize }

// CounterAddr is the remote address of the head counter.
func (h *History) CounterAddr() uint64 { return h.counterAddr }

// Capacity is the history window size.
func (h *History) Capacity() uint32 { return h.capacity }

// Distance is the forward, wrap-aware number of evictions from stored to cur.
func Distance(cur, stored uint64) uint64 {
	cur &= HeadMask
	stored &= HeadMask
	if cur >= stored {
		return cur - stored
	}
	return cur + (1 << 48) - stored
}

// HasOverwritten reports whether at least Capacity evictions happened
// between stored and cur, i.e. the ghost recorded at stored is stale.
func (h *History) HasOverwritten(cur, stored uint64) bool {
	return Distance(cur, stored) >= uint64(h.capacity)
}

// IsInHistory reports whether s is a ghost entry.
func (h *History) IsInHistory(s *slot.Slot) bool {
	return s.Atomic.KVLen == slot.GhostLen
}

// Fresh reports whether s is a ghost still inside the window at head cur.
func (h *History) Fresh(s *slot.Slot, cur uint64) bool {
	return h.IsInHistory(s) && !h.HasOverwritten(cur, s.Atomic.Pointer)
}
