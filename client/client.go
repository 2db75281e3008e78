package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/dmcache/evict"
	"github.com/IvanBrykalov/dmcache/internal/util"
	"github.com/IvanBrykalov/dmcache/mm"
	"github.com/IvanBrykalov/dmcache/priority"
	"github.com/IvanBrykalov/dmcache/slot"
)

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = constError("client: closed")
	// ErrTooLarge is returned by Set when the object does not fit a block
	// or a slot length class.
	ErrTooLarge = constError("client: object too large")
	// ErrTableFull is returned by Set when no slot near the key is free.
	ErrTableFull = constError("client: slot table full")
	// ErrConflict is returned when a slot kept changing under a CAS.
	ErrConflict = constError("client: slot update conflict")
	// ErrCorrupt is returned when a block does not hold the expected key.
	ErrCorrupt = constError("client: corrupt object")
	// ErrInvalidConfig is returned by New for an unusable Config.
	ErrInvalidConfig = constError("client: invalid configuration")
)

// casRetries bounds CAS retries on a slot. Only the evictor races a key's
// writer, and it changes a slot at most once, so two attempts suffice.
const casRetries = 3

// Client is the cache-access path over remote memory. It owns the local key
// index, drives the evictor and serves as its candidate sampler.
type Client struct {
	cfg    Config
	opt    Options
	shards []*shard
	table  *table
	ev     *evict.Evictor
	closed atomic.Bool
}

var (
	_ Cache         = (*Client)(nil)
	_ evict.Sampler = (*Client)(nil)
)

// Stats is a snapshot of access counters.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	GhostHits uint64
}

// New constructs a client and its evictor.
func New(cfg Config, opt Options) (*Client, error) {
	opt = opt.withDefaults()
	if cfg.Table.Slots == 0 {
		return nil, fmt.Errorf("%w: slot table has no slots", ErrInvalidConfig)
	}
	if cfg.Table.Addr%8 != 0 {
		return nil, fmt.Errorf("%w: slot table address 0x%x not 8-byte aligned", ErrInvalidConfig, cfg.Table.Addr)
	}

	c := &Client{
		cfg:    cfg,
		opt:    opt,
		shards: make([]*shard, util.IndexShards(opt.Shards)),
		table:  newTable(cfg.Table),
	}
	for i := range c.shards {
		c.shards[i] = newShard()
	}

	ev, err := evict.New(evict.Config{
		Allocator:     cfg.Allocator,
		Priority:      cfg.Priority,
		History:       cfg.History,
		Remote:        cfg.Remote,
		Sampler:       c,
		HistoryServer: cfg.HistoryServer,
		HistoryRKey:   cfg.HistoryRKey,
	}, opt.Evict)
	if err != nil {
		return nil, err
	}
	c.ev = ev
	return c, nil
}

// Evictor returns the evictor driven by the client.
func (c *Client) Evictor() *evict.Evictor { return c.ev }

func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	size := uint64(slot.HeaderSize) + uint64(len(key)) + uint64(len(value))
	cls, ok := slot.LenClass(uint32(min(size, uint64(^uint32(0)))))
	if !ok || size > uint64(c.cfg.Allocator.BlockSize()) {
		return fmt.Errorf("%w: %q needs %d bytes", ErrTooLarge, key, size)
	}

	b, err := c.alloc(ctx, uint32(size))
	if err != nil {
		return fmt.Errorf("client: set %q: %w", key, err)
	}
	if b.Server > slot.MaxServer {
		c.cfg.Allocator.Free(b)
		return fmt.Errorf("%w: server %d does not fit a slot word", ErrInvalidConfig, b.Server)
	}

	now := c.opt.Clock.Now()
	meta := slot.Meta{AccessTS: now, InsertTS: now, Freq: 1}
	meta.Counter = c.cfg.Priority.CounterVal(&meta, uint32(size))
	if err := c.cfg.Remote.Write(ctx, b.Server, b.Addr, b.RKey, slot.EncodeObject(meta, key, value)); err != nil {
		c.cfg.Allocator.Free(b)
		return fmt.Errorf("client: write %q: %w", key, err)
	}

	h := util.HashKey(key)
	word := slot.Atomic{Pointer: b.Addr, KVLen: cls, Server: uint8(b.Server), FP: util.Fingerprint(h)}

	displaced, err := c.publish(ctx, key, h, word, b, uint32(size))
	if displaced != "" && displaced != key {
		c.forget(displaced)
	}
	if err != nil {
		return err
	}
	c.opt.Metrics.Size(c.Len())
	return nil
}

// publish installs word for key under its shard lock. It returns the key
// whose stale ghost slot was reclaimed, if any, even when publishing fails.
func (c *Client) publish(ctx context.Context, key string, h uint64, word slot.Atomic, b mm.RemoteBlock, size uint32) (string, error) {
	s := c.shard(h)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.m[key]
	if e != nil && !c.table.owns(e.slot, key) {
		s.dropLocked(key)
		e = nil
	}
	var (
		idx       uint32
		displaced string
		claimed   bool
		err       error
	)
	if e != nil {
		idx = e.slot
	} else {
		idx, displaced, err = c.claim(ctx, key, h)
		if err != nil {
			c.cfg.Allocator.Free(b)
			return "", err
		}
		claimed = true
	}

	prev, err := c.swap(ctx, idx, word)
	if err != nil {
		c.cfg.Allocator.Free(b)
		if claimed {
			c.table.release(idx, key)
		}
		return displaced, fmt.Errorf("client: publish %q: %w", key, err)
	}
	if e != nil && e.live() {
		c.releaseBlock(e, prev)
		s.live--
	}
	s.m[key] = &entry{slot: idx, word: word, block: b, size: size}
	s.live++
	c.table.markLive(idx, key)
	return displaced, nil
}

// forget drops key's ghost entry once its slot went to another key. It runs
// without any other shard lock held.
func (c *Client) forget(key string) {
	s := c.shard(util.HashKey(key))
	s.mu.Lock()
	if e := s.m[key]; e != nil && e.ghost && !c.table.owns(e.slot, key) {
		s.dropLocked(key)
	}
	s.mu.Unlock()
}

// alloc takes a block, amortizing eviction under the watermark and running
// one more pass when the pool is empty.
func (c *Client) alloc(ctx context.Context, size uint32) (mm.RemoteBlock, error) {
	if c.cfg.Allocator.NeedAmortize() {
		if _, err := c.ev.Amortize(ctx); err != nil {
			if ctx.Err() != nil {
				return mm.RemoteBlock{}, err
			}
			c.opt.Logger.Warn("amortize failed", zap.Error(err))
		}
	}
	b, err := c.cfg.Allocator.Alloc(size)
	if !errors.Is(err, mm.ErrOutOfMemory) {
		return b, err
	}
	if _, perr := c.ev.Pass(ctx); perr != nil && !errors.Is(perr, evict.ErrNoCandidates) {
		c.opt.Logger.Warn("eviction pass failed", zap.Error(perr))
	}
	return c.cfg.Allocator.Alloc(size)
}

// claim finds a slot for a new key, reclaiming stale ghosts when no empty
// slot is in reach. It also returns the owner of a reclaimed ghost.
func (c *Client) claim(ctx context.Context, key string, h uint64) (uint32, string, error) {
	if i, _, ok := c.table.claim(key, h, nil, 0); ok {
		return i, "", nil
	}
	head, err := c.ev.Head(ctx)
	if err != nil {
		return 0, "", err
	}
	if i, displaced, ok := c.table.claim(key, h, c.cfg.History, head); ok {
		return i, displaced, nil
	}
	return 0, "", fmt.Errorf("%w: no slot for %q", ErrTableFull, key)
}

// swap stores w in slot idx and returns the word it replaced.
func (c *Client) swap(ctx context.Context, idx uint32, w slot.Atomic) (slot.Atomic, error) {
	t := c.table
	raw, err := c.cfg.Remote.Read(ctx, t.Server, t.wordAddr(idx), t.RKey, 8)
	if err != nil {
		return slot.Atomic{}, err
	}
	cur := binary.LittleEndian.Uint64(raw)
	for range casRetries {
		seen, err := c.cfg.Remote.CompareAndSwap(ctx, t.Server, t.wordAddr(idx), t.RKey, cur, w.Pack())
		if err != nil {
			return slot.Atomic{}, err
		}
		if seen == cur {
			return slot.UnpackAtomic(cur), nil
		}
		cur = seen
	}
	return slot.UnpackAtomic(cur), ErrConflict
}

// releaseBlock frees e's block if prev, the word just replaced, still
// pointed at it. Otherwise the evictor won the slot first and frees it.
func (c *Client) releaseBlock(e *entry, prev slot.Atomic) {
	if prev.KVLen == slot.GhostLen || prev.Pointer != e.block.Addr&slot.PointerMask {
		return
	}
	c.cfg.Allocator.Free(e.block)
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := c.Lookup(ctx, key)
	return r.Value, r.Hit, err
}

func (c *Client) Lookup(ctx context.Context, key string) (Result, error) {
	if c.closed.Load() {
		return Result{}, ErrClosed
	}
	h := util.HashKey(key)
	s := c.shard(h)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.m[key]
	if e != nil && !c.table.owns(e.slot, key) {
		s.dropLocked(key)
		e = nil
	}
	if e == nil {
		s.misses.Add(1)
		c.opt.Metrics.Miss()
		return Result{}, nil
	}
	if e.ghost {
		fresh, err := c.ghostFresh(ctx, e)
		if err != nil {
			return Result{}, err
		}
		s.misses.Add(1)
		s.ghostHits.Add(1)
		c.opt.Metrics.Miss()
		c.opt.Metrics.GhostHit(fresh)
		return Result{Ghost: true, Fresh: fresh}, nil
	}

	start := time.Now()
	raw, err := c.cfg.Remote.Read(ctx, e.block.Server, e.block.Addr, e.block.RKey, int(e.size))
	if err != nil {
		return Result{}, fmt.Errorf("client: read %q: %w", key, err)
	}
	lat := time.Since(start)
	hdr, k, v, err := slot.DecodeObject(raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %q: %v", ErrCorrupt, key, err)
	}
	if k != key {
		c.opt.Logger.Error("block holds another key",
			zap.String("key", key), zap.String("found", k), zap.Stringer("block", e.block))
		return Result{}, fmt.Errorf("%w: %q found in block of %q", ErrCorrupt, k, key)
	}

	acc := priority.Access{Now: c.opt.Clock.Now(), Latency: uint32(lat.Microseconds())}
	mask := priority.Refresh(c.cfg.Priority, &hdr.Meta, e.size, acc)
	for _, sp := range hdr.Meta.Spans(mask.Fields()) {
		addr := e.block.Addr + slot.MetaOffset + uint64(sp.Off)
		if err := c.cfg.Remote.Write(ctx, e.block.Server, addr, e.block.RKey, sp.Data); err != nil {
			return Result{}, fmt.Errorf("client: refresh %q: %w", key, err)
		}
	}
	s.hits.Add(1)
	c.opt.Metrics.Hit()
	return Result{Value: v, Hit: true}, nil
}

// ghostFresh re-reads the ghost word and checks it against the history head.
func (c *Client) ghostFresh(ctx context.Context, e *entry) (bool, error) {
	t := c.table
	raw, err := c.cfg.Remote.Read(ctx, t.Server, t.wordAddr(e.slot), t.RKey, 8)
	if err != nil {
		return false, err
	}
	w := slot.UnpackAtomic(binary.LittleEndian.Uint64(raw))
	if w != e.word {
		return false, nil
	}
	head, err := c.ev.Head(ctx)
	if err != nil {
		return false, err
	}
	return c.cfg.History.Fresh(&slot.Slot{Atomic: w}, head), nil
}

func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	ok, err := c.remove(ctx, key)
	if ok {
		c.opt.Metrics.Size(c.Len())
	}
	return ok, err
}

func (c *Client) remove(ctx context.Context, key string) (bool, error) {
	s := c.shard(util.HashKey(key))
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.m[key]
	if e == nil {
		return false, nil
	}
	if !c.table.owns(e.slot, key) {
		s.dropLocked(key)
		return false, nil
	}
	prev, err := c.swap(ctx, e.slot, slot.Atomic{})
	if err != nil {
		return false, fmt.Errorf("client: delete %q: %w", key, err)
	}
	wasLive := e.live() && prev.KVLen != slot.GhostLen
	if e.live() {
		c.releaseBlock(e, prev)
	}
	s.dropLocked(key)
	c.table.release(e.slot, key)
	return wasLive, nil
}

// Sample returns up to n resident keys, starting from a random shard and
// relying on map iteration order inside a shard.
func (c *Client) Sample(n int) []evict.Candidate {
	out := make([]evict.Candidate, 0, n)
	start := rand.IntN(len(c.shards))
	for i := 0; i < len(c.shards) && len(out) < n; i++ {
		s := c.shards[(start+i)&(len(c.shards)-1)]
		s.mu.Lock()
		for k, e := range s.m {
			if !e.live() {
				continue
			}
			out = append(out, evict.Candidate{
				Key:        k,
				SlotServer: c.table.Server,
				SlotAddr:   c.table.wordAddr(e.slot),
				SlotRKey:   c.table.RKey,
				Block:      e.block,
			})
			if len(out) == n {
				break
			}
		}
		s.mu.Unlock()
	}
	return out
}

// Evicted turns the key's entry into a ghost if it still describes the
// evicted block.
func (c *Client) Evicted(cand evict.Candidate, ghost slot.Atomic) {
	s := c.shard(util.HashKey(cand.Key))
	s.mu.Lock()
	e := s.m[cand.Key]
	if e != nil && e.live() && e.block == cand.Block {
		e.ghost, e.word, e.block, e.size = true, ghost, mm.RemoteBlock{}, 0
		s.live--
		c.table.markGhost(e.slot, cand.Key, ghost.Pointer)
	}
	s.mu.Unlock()
	c.opt.Metrics.Size(c.Len())
}

func (c *Client) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

// Stats sums the per-shard counters.
func (c *Client) Stats() Stats {
	var st Stats
	for _, s := range c.shards {
		st.Entries += s.Len()
		st.Hits += s.hits.Load()
		st.Misses += s.misses.Load()
		st.GhostHits += s.ghostHits.Load()
	}
	return st
}

// Close marks the client closed. Remote memory is left as is; the
// allocator and the slot table belong to the caller.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Client) shard(h uint64) *shard {
	return c.shards[util.ShardIndex(h, len(c.shards))]
}
