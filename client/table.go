package client

import (
	"sync"

	"github.com/IvanBrykalov/dmcache/history"
)

// probeLimit bounds linear probing in the slot table.
const probeLimit = 16

type tableSlot struct {
	owner string
	used  bool
	ghost bool
	head  uint64 // history head recorded in the ghost word
}

// table tracks which key owns each remote slot. A slot holding a ghost
// stays with its key until the ghost leaves the history window and another
// key claims it.
type table struct {
	Table

	mu    sync.Mutex
	slots []tableSlot
}

func newTable(t Table) *table {
	return &table{Table: t, slots: make([]tableSlot, t.Slots)}
}

// wordAddr is the remote address of slot i.
func (t *table) wordAddr(i uint32) uint64 { return t.Addr + uint64(i)*8 }

func (t *table) owns(i uint32, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[i].used && t.slots[i].owner == key
}

// claim assigns a slot to key, preferring empty slots. When hist is non-nil,
// ghosts already overwritten at head are reclaimable too; the key whose ghost
// was taken over is returned as displaced.
func (t *table) claim(key string, hash uint64, hist *history.History, head uint64) (idx uint32, displaced string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := uint64(len(t.slots))
	limit := uint64(probeLimit)
	if limit > n {
		limit = n
	}
	start := hash % n
	for p := uint64(0); p < limit; p++ {
		i := uint32((start + p) % n)
		s := &t.slots[i]
		if !s.used {
			*s = tableSlot{owner: key, used: true}
			return i, "", true
		}
		if hist != nil && s.ghost && hist.HasOverwritten(head, s.head) {
			displaced = s.owner
			*s = tableSlot{owner: key, used: true}
			return i, displaced, true
		}
	}
	return 0, "", false
}

func (t *table) markLive(i uint32, key string) {
	t.mu.Lock()
	t.slots[i] = tableSlot{owner: key, used: true}
	t.mu.Unlock()
}

func (t *table) markGhost(i uint32, key string, head uint64) {
	t.mu.Lock()
	if s := &t.slots[i]; s.used && s.owner == key {
		s.ghost, s.head = true, head
	}
	t.mu.Unlock()
}

func (t *table) release(i uint32, key string) {
	t.mu.Lock()
	if t.slots[i].owner == key {
		t.slots[i] = tableSlot{}
	}
	t.mu.Unlock()
}
