package evict

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/dmcache/history"
	"github.com/IvanBrykalov/dmcache/mm"
	"github.com/IvanBrykalov/dmcache/priority"
	"github.com/IvanBrykalov/dmcache/slot"
	"github.com/IvanBrykalov/dmcache/transport"
	"github.com/IvanBrykalov/dmcache/transport/memnode"
)

const (
	testServer = 0
	testSlots  = 64
)

type fakeSampler struct {
	mu      sync.Mutex
	items   map[string]Candidate
	evicted []string
}

func (s *fakeSampler) Sample(n int) []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]Candidate, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.items[k])
	}
	return out
}

func (s *fakeSampler) Evicted(c Candidate, _ slot.Atomic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, c.Key)
	s.evicted = append(s.evicted, c.Key)
}

func (s *fakeSampler) evictedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.evicted...)
}

type rig struct {
	node    *memnode.Node
	remote  transport.Remote
	alloc   *mm.Allocator
	hist    *history.History
	sampler *fakeSampler
	ev      *Evictor

	tableAddr uint64
	tableKey  uint32
	histKey   uint32
	next      int
}

func newRig(t *testing.T, kind priority.Kind, watermark int, wrap func(transport.Remote) transport.Remote) *rig {
	t.Helper()
	node := memnode.New()

	alloc, err := mm.New(mm.Options{SegmentSize: 4096, BlockSize: 256, Watermark: watermark})
	if err != nil {
		t.Fatal(err)
	}
	segAddr, segKey := node.Register(testServer, 4096)
	if err := alloc.AddSegment(segAddr, segKey, testServer); err != nil {
		t.Fatal(err)
	}

	tableAddr, tableKey := node.Register(testServer, testSlots*8)
	histAddr, histKey := node.Register(testServer, history.CounterSize)
	hist, err := history.New(4, histAddr, history.RoleServer, node.Local(testServer, histAddr, history.CounterSize))
	if err != nil {
		t.Fatal(err)
	}

	var remote transport.Remote = node
	if wrap != nil {
		remote = wrap(node)
	}
	r := &rig{
		node: node, remote: remote, alloc: alloc, hist: hist,
		sampler:   &fakeSampler{items: make(map[string]Candidate)},
		tableAddr: tableAddr, tableKey: tableKey, histKey: histKey,
	}
	ev, err := New(Config{
		Allocator:     alloc,
		Priority:      priority.MustNew(kind),
		History:       hist,
		Remote:        remote,
		Sampler:       r.sampler,
		HistoryServer: testServer,
		HistoryRKey:   histKey,
	}, Options{SampleSize: testSlots})
	if err != nil {
		t.Fatal(err)
	}
	r.ev = ev
	return r
}

// put stores an object and its slot word the way the access path does.
func (r *rig) put(t *testing.T, key string, meta slot.Meta) Candidate {
	t.Helper()
	ctx := context.Background()
	obj := slot.EncodeObject(meta, key, []byte("value"))
	b, err := r.alloc.Alloc(uint32(len(obj)))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.node.Write(ctx, b.Server, b.Addr, b.RKey, obj); err != nil {
		t.Fatal(err)
	}
	cls, _ := slot.LenClass(uint32(len(obj)))
	w := slot.Atomic{Pointer: b.Addr, KVLen: cls, Server: uint8(b.Server), FP: 7}
	c := Candidate{
		Key:        key,
		SlotServer: testServer,
		SlotAddr:   r.tableAddr + uint64(r.next)*8,
		SlotRKey:   r.tableKey,
		Block:      b,
	}
	r.next++
	r.writeWord(t, c, w)
	r.sampler.mu.Lock()
	r.sampler.items[key] = c
	r.sampler.mu.Unlock()
	return c
}

func (r *rig) writeWord(t *testing.T, c Candidate, w slot.Atomic) {
	t.Helper()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], w.Pack())
	if err := r.node.Write(context.Background(), c.SlotServer, c.SlotAddr, c.SlotRKey, buf[:]); err != nil {
		t.Fatal(err)
	}
}

func (r *rig) word(t *testing.T, c Candidate) slot.Atomic {
	t.Helper()
	raw, err := r.node.Read(context.Background(), c.SlotServer, c.SlotAddr, c.SlotRKey, 8)
	if err != nil {
		t.Fatal(err)
	}
	return slot.UnpackAtomic(binary.LittleEndian.Uint64(raw))
}

func TestPass_EvictsLowestScore(t *testing.T) {
	t.Parallel()

	r := newRig(t, priority.LRU, 1, nil)
	r.put(t, "a", slot.Meta{AccessTS: 10, Freq: 1})
	victim := r.put(t, "b", slot.Meta{AccessTS: 5, Freq: 1})
	r.put(t, "c", slot.Meta{AccessTS: 20, Freq: 1})
	before := r.alloc.Stats()

	n, err := r.ev.Pass(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Pass = %d, %v", n, err)
	}
	if got := r.sampler.evictedKeys(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("evicted %v, want [b]", got)
	}

	w := r.word(t, victim)
	if !r.hist.IsInHistory(&slot.Slot{Atomic: w}) {
		t.Fatalf("victim slot must be a ghost, got %+v", w)
	}
	if w.FP != 7 || w.Pointer != 1 {
		t.Fatalf("ghost must keep fingerprint and carry head 1: %+v", w)
	}
	head, err := r.ev.Head(context.Background())
	if err != nil || head != 1 {
		t.Fatalf("Head = %d, %v", head, err)
	}

	after := r.alloc.Stats()
	if after.FreeBlocks != before.FreeBlocks+1 || !r.alloc.CheckIntegrity() {
		t.Fatalf("block not returned: before %+v after %+v", before, after)
	}
}

func TestPass_AgingBaselineFollowsEvictions(t *testing.T) {
	t.Parallel()

	r := newRig(t, priority.GDSF, 1, nil)
	small := r.put(t, "k", slot.Meta{Freq: 4})
	r.put(t, "a-much-longer-key-that-costs-more-bytes", slot.Meta{Freq: 1})

	if _, err := r.ev.Pass(context.Background()); err != nil {
		t.Fatal(err)
	}
	// freq 1 with the bigger object loses to freq 4.
	if got := r.sampler.evictedKeys(); len(got) != 1 || got[0] == small.Key {
		t.Fatalf("unexpected victim %v", got)
	}
	base := r.ev.Priority().(priority.Aging).Baseline()
	if base <= 0 {
		t.Fatalf("baseline must be the victim's score, got %v", base)
	}
}

func TestPass_SkipsGhostsAndMovedSlots(t *testing.T) {
	t.Parallel()

	r := newRig(t, priority.LRU, 1, nil)
	ghost := r.put(t, "ghost", slot.Meta{AccessTS: 1})
	moved := r.put(t, "moved", slot.Meta{AccessTS: 2})
	r.put(t, "live", slot.Meta{AccessTS: 3})

	r.writeWord(t, ghost, r.word(t, ghost).Ghost(0))
	w := r.word(t, moved)
	w.Pointer += 256
	r.writeWord(t, moved, w)

	if n, err := r.ev.Pass(context.Background()); err != nil || n != 1 {
		t.Fatalf("Pass = %d, %v", n, err)
	}
	if got := r.sampler.evictedKeys(); len(got) != 1 || got[0] != "live" {
		t.Fatalf("evicted %v, want [live]", got)
	}
}

func TestPass_NoCandidates(t *testing.T) {
	t.Parallel()

	r := newRig(t, priority.LRU, 1, nil)
	if _, err := r.ev.Pass(context.Background()); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("want ErrNoCandidates, got %v", err)
	}
}

// racingRemote rewrites the slot word right before the evictor's CAS.
type racingRemote struct {
	transport.Remote
	once sync.Once
}

func (r *racingRemote) CompareAndSwap(ctx context.Context, srv uint16, addr uint64, rkey uint32, cmp, swap uint64) (uint64, error) {
	r.once.Do(func() {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], cmp+1)
		_ = r.Remote.Write(ctx, srv, addr, rkey, buf[:])
	})
	return r.Remote.CompareAndSwap(ctx, srv, addr, rkey, cmp, swap)
}

func TestPass_LostSlotRaceKeepsBlock(t *testing.T) {
	t.Parallel()

	r := newRig(t, priority.LRU, 1, func(n transport.Remote) transport.Remote {
		return &racingRemote{Remote: n}
	})
	r.put(t, "a", slot.Meta{AccessTS: 1})
	before := r.alloc.Stats()

	n, err := r.ev.Pass(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Pass = %d, %v; want 0, nil", n, err)
	}
	if len(r.sampler.evictedKeys()) != 0 {
		t.Fatal("index must not be told about a lost race")
	}
	if after := r.alloc.Stats(); after.FreeBlocks != before.FreeBlocks {
		t.Fatalf("block must stay allocated: %+v -> %+v", before, after)
	}
	if head, err := r.ev.Head(context.Background()); err != nil || head != 0 {
		t.Fatalf("Head = %d, %v; a lost race must not advance the history", head, err)
	}
}

func TestPass_SkipsCorruptHeader(t *testing.T) {
	t.Parallel()

	r := newRig(t, priority.LRU, 1, nil)
	bad := r.put(t, "bad", slot.Meta{AccessTS: 1})
	r.put(t, "good", slot.Meta{AccessTS: 9})

	var sizes [8]byte
	binary.LittleEndian.PutUint32(sizes[0:], ^uint32(0))
	binary.LittleEndian.PutUint32(sizes[4:], 1)
	if err := r.node.Write(context.Background(), bad.Block.Server, bad.Block.Addr, bad.Block.RKey, sizes[:]); err != nil {
		t.Fatal(err)
	}

	n, err := r.ev.Pass(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Pass = %d, %v; want 1, nil", n, err)
	}
	if got := r.sampler.evictedKeys(); len(got) != 1 || got[0] != "good" {
		t.Fatalf("evicted %v, want [good]", got)
	}
}

func TestAmortize_RestoresWatermark(t *testing.T) {
	t.Parallel()

	// 16 blocks, watermark 4: fill 14, leaving 2 free.
	r := newRig(t, priority.FIFO, 4, nil)
	for i := 0; i < 14; i++ {
		r.put(t, string(rune('a'+i)), slot.Meta{InsertTS: uint64(i + 1)})
	}
	if !r.alloc.NeedAmortize() {
		t.Fatal("pool must be under watermark")
	}

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			_, err := r.ev.Amortize(context.Background())
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if r.alloc.NeedAmortize() {
		t.Fatalf("still under watermark: %+v", r.alloc.Stats())
	}
	got := r.sampler.evictedKeys()
	if len(got) < 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("FIFO must evict oldest first, got %v", got)
	}
	if err := r.alloc.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestAmortize_StopsWhenNothingLeft(t *testing.T) {
	t.Parallel()

	r := newRig(t, priority.LRU, 100, nil)
	r.put(t, "only", slot.Meta{})
	n, err := r.ev.Amortize(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Amortize = %d, %v", n, err)
	}
}

func TestNew_MissingDependency(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, Options{}); !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("want ErrMissingDependency, got %v", err)
	}
}
