package mm

import (
	"container/list"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/dmcache/internal/util"
)

// Allocator hands out uniform fixed-size blocks of remote memory carved from
// registered segments. All methods are safe for concurrent use; pool
// mutation and the integrity check run under a single mutex.
type Allocator struct {
	// ---- guarded by mu ----
	mu       sync.Mutex
	segments []RemoteSegment
	bases    map[uint64]struct{}
	free     *list.List // FIFO of RemoteBlock; Front is the oldest freed
	used     map[blockID]RemoteBlock

	segSize   uint32
	blockSize uint32
	watermark int

	metrics Metrics
	log     *zap.Logger

	// ---- lock-free counters for Stats ----
	_        util.CacheLinePad
	allocs   util.PaddedAtomicUint64
	frees    util.PaddedAtomicUint64
	failures util.PaddedAtomicUint64
}

// Stats is a point-in-time snapshot of allocator accounting.
type Stats struct {
	Segments    int
	TotalBlocks uint64
	FreeBlocks  int
	UsedBlocks  int
	Allocs      uint64
	Frees       uint64
	Failures    uint64
}

// New constructs an Allocator. It fails with ErrInvalidConfig when the
// block size exceeds the segment size.
func New(opt Options) (*Allocator, error) {
	opt = opt.withDefaults()
	if opt.BlockSize > opt.SegmentSize {
		return nil, fmt.Errorf("%w: block size %d > segment size %d",
			ErrInvalidConfig, opt.BlockSize, opt.SegmentSize)
	}
	return &Allocator{
		bases:     make(map[uint64]struct{}),
		free:      list.New(),
		used:      make(map[blockID]RemoteBlock),
		segSize:   opt.SegmentSize,
		blockSize: opt.BlockSize,
		watermark: opt.Watermark,
		metrics:   opt.Metrics,
		log:       opt.Logger,
	}, nil
}

// AddSegment registers a segment and splits it into SegmentSize/BlockSize
// blocks appended to the free pool. Registering an address twice returns
// ErrDuplicateSegment.
func (a *Allocator) AddSegment(addr uint64, rkey uint32, server uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.bases[addr]; dup {
		a.log.Error("duplicated remote segment", zap.Uint64("addr", addr), zap.Uint16("server", server))
		return duplicateSegmentError(addr)
	}
	a.bases[addr] = struct{}{}
	a.segments = append(a.segments, RemoteSegment{Addr: addr, RKey: rkey, Server: server})

	n := a.segSize / a.blockSize
	for i := uint32(0); i < n; i++ {
		a.free.PushBack(RemoteBlock{
			Addr:   addr + uint64(i)*uint64(a.blockSize),
			RKey:   rkey,
			Size:   a.blockSize,
			Server: server,
		})
	}
	a.log.Info("remote segment added",
		zap.Uint64("addr", addr),
		zap.Uint16("server", server),
		zap.Uint32("blocks", n))
	a.metrics.Pool(a.free.Len(), len(a.used))
	return nil
}

// Alloc takes the oldest free block. It fails with ErrOversizeRequest when
// size exceeds the block size and with ErrOutOfMemory when no block is free.
// The returned block is a copy owned by the caller.
func (a *Allocator) Alloc(size uint32) (RemoteBlock, error) {
	if size > a.blockSize {
		a.failures.Add(1)
		a.metrics.AllocFail(FailOversize)
		a.log.Error("unsupported block size", zap.Uint32("size", size), zap.Uint32("block", a.blockSize))
		return RemoteBlock{}, oversizeError(size, a.blockSize)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	front := a.free.Front()
	if front == nil {
		a.failures.Add(1)
		a.metrics.AllocFail(FailOutOfMemory)
		a.log.Debug("no enough memory")
		return RemoteBlock{}, ErrOutOfMemory
	}
	b := a.free.Remove(front).(RemoteBlock)
	a.used[b.id()] = b
	a.allocs.Add(1)
	a.metrics.Alloc()
	a.metrics.Pool(a.free.Len(), len(a.used))
	return b, nil
}

// Free returns b to the tail of the free pool. The stored size is reset to
// the block size. Freeing a block that is not in use is not validated;
// CheckIntegrity reports the resulting mismatch.
func (a *Allocator) Free(b RemoteBlock) {
	a.FreeAt(b.Addr, b.RKey, b.Size, b.Server)
}

// FreeAt is Free for callers that only kept the raw block coordinates.
// size is ignored; blocks always re-enter the pool at the uniform size.
func (a *Allocator) FreeAt(addr uint64, rkey, _ uint32, server uint16) {
	a.log.Debug("free rb", zap.Uint16("server", server), zap.Uint64("addr", addr))
	b := RemoteBlock{Addr: addr, RKey: rkey, Size: a.blockSize, Server: server}

	a.mu.Lock()
	delete(a.used, b.id())
	a.free.PushBack(b)
	free, used := a.free.Len(), len(a.used)
	a.mu.Unlock()

	a.frees.Add(1)
	a.metrics.Free()
	a.metrics.Pool(free, used)
}

// FreeSize estimates the free remote bytes as registered capacity minus
// used blocks. It is meant for monitoring; NeedAmortize reads the pool.
func (a *Allocator) FreeSize() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := uint64(len(a.segments)) * uint64(a.segSize)
	allocated := uint64(len(a.used)) * uint64(a.blockSize)
	if allocated > total {
		return 0
	}
	return total - allocated
}

// CheckIntegrity reports whether used+free equals the number of blocks
// carved from all registered segments.
func (a *Allocator) CheckIntegrity() bool {
	return a.Verify() == nil
}

// Verify is CheckIntegrity returning an ErrIntegrityViolation with the
// observed counts on mismatch.
func (a *Allocator) Verify() error {
	a.mu.Lock()
	used, free := uint64(len(a.used)), uint64(a.free.Len())
	total := a.totalBlocksLocked()
	a.mu.Unlock()

	if used+free != total {
		a.log.Error("block accounting mismatch",
			zap.Uint64("used", used), zap.Uint64("free", free), zap.Uint64("total", total))
		return integrityError(used, free, total)
	}
	return nil
}

// NeedAmortize reports whether the free pool dropped below the watermark,
// signalling the caller to evict ahead of demand.
func (a *Allocator) NeedAmortize() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free.Len() < a.watermark
}

// Stats returns a snapshot of the allocator's accounting.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	s := Stats{
		Segments:    len(a.segments),
		TotalBlocks: a.totalBlocksLocked(),
		FreeBlocks:  a.free.Len(),
		UsedBlocks:  len(a.used),
	}
	a.mu.Unlock()
	s.Allocs = a.allocs.Load()
	s.Frees = a.frees.Load()
	s.Failures = a.failures.Load()
	return s
}

// Segments returns a copy of the registered segments in registration order.
func (a *Allocator) Segments() []RemoteSegment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RemoteSegment, len(a.segments))
	copy(out, a.segments)
	return out
}

// BlockSize returns the uniform block size.
func (a *Allocator) BlockSize() uint32 { return a.blockSize }

// SegmentSize returns the configured segment size.
func (a *Allocator) SegmentSize() uint32 { return a.segSize }

// Watermark returns the free-block low watermark.
func (a *Allocator) Watermark() int { return a.watermark }

func (a *Allocator) totalBlocksLocked() uint64 {
	return uint64(len(a.segments)) * uint64(a.segSize/a.blockSize)
}
