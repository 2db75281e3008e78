package client

import (
	"github.com/IvanBrykalov/dmcache/mm"
	"github.com/IvanBrykalov/dmcache/slot"
)

// entry is the local view of one key's remote slot. It is owned by a shard
// and only touched under the shard lock.
type entry struct {
	slot uint32      // index in the slot table
	word slot.Atomic // last word this client saw in the slot

	// Live objects only.
	block mm.RemoteBlock
	size  uint32

	// ghost is set once the evictor replaced the word with a ghost.
	ghost bool
}

// live reports whether e owns its block.
func (e *entry) live() bool { return !e.ghost }
