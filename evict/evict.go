// Package evict runs eviction passes over remote cache slots.
//
// A pass samples resident objects, reads their slot words and metadata
// headers concurrently, ranks them with the configured priority strategy and
// evicts the lowest: it bumps the remote history head, swaps the slot word
// for a ghost carrying that head, feeds the score to EvictCallback and
// returns the block to the allocator. Ranking through the callback is
// serialized so aging baselines follow eviction order.
package evict

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/dmcache/history"
	"github.com/IvanBrykalov/dmcache/internal/singleflight"
	"github.com/IvanBrykalov/dmcache/priority"
	"github.com/IvanBrykalov/dmcache/slot"
)

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrNoCandidates is returned by Pass when the sampler has nothing resident.
	ErrNoCandidates = constError("evict: no eviction candidates")
	// ErrMissingDependency is returned by New for an incomplete Config.
	ErrMissingDependency = constError("evict: missing dependency")
)

// Evictor evicts remote objects on behalf of the cache-access path.
// It is safe for concurrent use.
type Evictor struct {
	cfg Config
	opt Options

	// mu orders rank -> ghost CAS -> EvictCallback across passes.
	mu sync.Mutex
	sf singleflight.Group[struct{}, int]
}

// New validates cfg and builds an Evictor.
func New(cfg Config, opt Options) (*Evictor, error) {
	switch {
	case cfg.Allocator == nil:
		return nil, fmt.Errorf("%w: allocator", ErrMissingDependency)
	case cfg.Priority == nil:
		return nil, fmt.Errorf("%w: priority", ErrMissingDependency)
	case cfg.History == nil:
		return nil, fmt.Errorf("%w: history", ErrMissingDependency)
	case cfg.Remote == nil:
		return nil, fmt.Errorf("%w: remote", ErrMissingDependency)
	case cfg.Sampler == nil:
		return nil, fmt.Errorf("%w: sampler", ErrMissingDependency)
	}
	return &Evictor{cfg: cfg, opt: opt.withDefaults()}, nil
}

// observed is a candidate as read from remote memory.
type observed struct {
	word slot.Atomic
	meta slot.Meta
	size uint32
	ok   bool
}

// Pass evicts at most one object. It returns 0 without error when every
// sampled candidate changed under it; callers simply run another pass.
func (e *Evictor) Pass(ctx context.Context) (int, error) {
	start := time.Now()
	cands := e.cfg.Sampler.Sample(e.opt.SampleSize)
	if len(cands) == 0 {
		return 0, ErrNoCandidates
	}

	obs, err := e.observe(ctx, cands)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	best, bestScore := -1, math.Inf(1)
	for i := range obs {
		if !obs[i].ok {
			continue
		}
		score := e.cfg.Priority.ParsePriority(&obs[i].meta, obs[i].size)
		if best < 0 || score < bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		e.opt.Metrics.Pass(0, time.Since(start))
		return 0, nil
	}

	c, o := cands[best], obs[best]
	prev, err := e.cfg.Remote.FetchAdd(ctx, e.cfg.HistoryServer, e.cfg.History.CounterAddr(), e.cfg.HistoryRKey, 1)
	if err != nil {
		return 0, fmt.Errorf("evict: bump history head: %w", err)
	}
	ghost := o.word.Ghost((prev + 1) & history.HeadMask)

	seen, err := e.cfg.Remote.CompareAndSwap(ctx, c.SlotServer, c.SlotAddr, c.SlotRKey, o.word.Pack(), ghost.Pack())
	if err != nil {
		return 0, fmt.Errorf("evict: ghost slot %q: %w", c.Key, err)
	}
	if seen != o.word.Pack() {
		// Nothing was evicted, so the head must not count it.
		if _, err := e.cfg.Remote.FetchAdd(ctx, e.cfg.HistoryServer, e.cfg.History.CounterAddr(), e.cfg.HistoryRKey, ^uint64(0)); err != nil {
			return 0, fmt.Errorf("evict: roll back history head: %w", err)
		}
		e.opt.Logger.Debug("evict: slot changed under pass", zap.String("key", c.Key))
		e.opt.Metrics.Pass(0, time.Since(start))
		return 0, nil
	}

	e.cfg.Priority.EvictCallback(bestScore)
	e.cfg.Sampler.Evicted(c, ghost)
	e.cfg.Allocator.Free(c.Block)

	e.opt.Metrics.Evicted(bestScore)
	e.opt.Metrics.Pass(1, time.Since(start))
	e.opt.Logger.Debug("evicted",
		zap.String("key", c.Key),
		zap.Float64("score", bestScore),
		zap.Stringer("block", c.Block),
		zap.Uint64("head", ghost.Pointer))
	return 1, nil
}

// observe reads the slot word and object header of every candidate in
// parallel. Candidates whose slot no longer points at their block, or that
// are already ghosts, come back with ok=false.
func (e *Evictor) observe(ctx context.Context, cands []Candidate) ([]observed, error) {
	obs := make([]observed, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	for i := range cands {
		c := cands[i]
		g.Go(func() error {
			raw, err := e.cfg.Remote.Read(gctx, c.SlotServer, c.SlotAddr, c.SlotRKey, 8)
			if err != nil {
				return fmt.Errorf("evict: read slot %q: %w", c.Key, err)
			}
			w := slot.UnpackAtomic(binary.LittleEndian.Uint64(raw))
			s := slot.Slot{Atomic: w}
			if e.cfg.History.IsInHistory(&s) || w.Pointer != c.Block.Addr&slot.PointerMask {
				return nil
			}
			hdr, err := e.cfg.Remote.Read(gctx, c.Block.Server, c.Block.Addr, c.Block.RKey, slot.HeaderSize)
			if err != nil {
				return fmt.Errorf("evict: read header %q: %w", c.Key, err)
			}
			h, err := slot.DecodeHeader(hdr)
			if err != nil {
				return err
			}
			size := h.ObjectSize()
			if size > uint64(c.Block.Size) {
				e.opt.Logger.Error("object header exceeds its block",
					zap.String("key", c.Key), zap.Uint64("size", size), zap.Stringer("block", c.Block))
				return nil
			}
			obs[i] = observed{word: w, meta: h.Meta, size: uint32(size), ok: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return obs, nil
}

// Amortize runs passes until the allocator is back above its watermark,
// nothing is left to evict, or MaxPasses is reached. Concurrent calls share
// one run. It returns the number of evicted objects.
func (e *Evictor) Amortize(ctx context.Context) (int, error) {
	n, _, err := e.sf.Do(ctx, struct{}{}, func(ctx context.Context) (int, error) {
		total := 0
		for i := 0; i < e.opt.MaxPasses && e.cfg.Allocator.NeedAmortize(); i++ {
			n, err := e.Pass(ctx)
			if errors.Is(err, ErrNoCandidates) {
				break
			}
			if err != nil {
				return total, err
			}
			total += n
		}
		if total > 0 {
			st := e.cfg.Allocator.Stats()
			e.opt.Logger.Info("amortized",
				zap.Int("evicted", total),
				zap.Int("free_blocks", st.FreeBlocks),
				zap.Int("used_blocks", st.UsedBlocks))
		}
		return total, nil
	})
	return n, err
}

// Head reads the current history head.
func (e *Evictor) Head(ctx context.Context) (uint64, error) {
	raw, err := e.cfg.Remote.Read(ctx, e.cfg.HistoryServer, e.cfg.History.CounterAddr(), e.cfg.HistoryRKey, history.CounterSize)
	if err != nil {
		return 0, fmt.Errorf("evict: read history head: %w", err)
	}
	return binary.LittleEndian.Uint64(raw) & history.HeadMask, nil
}

// Priority returns the strategy ranking candidates.
func (e *Evictor) Priority() priority.Priority { return e.cfg.Priority }

// History returns the eviction history tracker.
func (e *Evictor) History() *history.History { return e.cfg.History }
