package client

import (
	"sync"

	"github.com/IvanBrykalov/dmcache/internal/util"
)

// shard is an independent partition of the key index with its own lock.
// Remote operations on a key run under its shard lock, so one key never has
// two writers; the evictor is the only other party touching its slot.
type shard struct {
	// ---- guarded by mu ----
	mu   sync.Mutex
	m    map[string]*entry
	live int // entries owning a block

	// ---- hot counters ----
	_         util.CacheLinePad
	hits      util.PaddedAtomicUint64
	misses    util.PaddedAtomicUint64
	ghostHits util.PaddedAtomicUint64
}

func newShard() *shard {
	return &shard{m: make(map[string]*entry)}
}

// dropLocked removes key from the index.
func (s *shard) dropLocked(key string) {
	e, ok := s.m[key]
	if !ok {
		return
	}
	if e.live() {
		s.live--
	}
	delete(s.m, key)
}

func (s *shard) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}
