package evict

import (
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/dmcache/history"
	"github.com/IvanBrykalov/dmcache/mm"
	"github.com/IvanBrykalov/dmcache/priority"
	"github.com/IvanBrykalov/dmcache/slot"
	"github.com/IvanBrykalov/dmcache/transport"
)

// Defaults applied by New.
const (
	DefaultSampleSize = 5
	DefaultMaxPasses  = 64
)

// Candidate is a resident object the evictor may choose.
type Candidate struct {
	Key string

	// Slot word location.
	SlotServer uint16
	SlotAddr   uint64
	SlotRKey   uint32

	// Block holding the object (header + key + value).
	Block mm.RemoteBlock
}

// Sampler is implemented by the cache-access path that owns the key index.
type Sampler interface {
	// Sample returns up to n resident candidates, preferably at random.
	Sample(n int) []Candidate
	// Evicted tells the index that c was replaced by the ghost word.
	// It is called after the slot CAS succeeded and before the block is freed.
	Evicted(c Candidate, ghost slot.Atomic)
}

// Metrics receives eviction signals.
type Metrics interface {
	Evicted(score float64)
	Pass(evicted int, took time.Duration)
}

// NoopMetrics discards eviction signals.
type NoopMetrics struct{}

func (NoopMetrics) Evicted(float64)           {}
func (NoopMetrics) Pass(int, time.Duration) {}

var _ Metrics = NoopMetrics{}

// Config holds the collaborators of an Evictor. All fields are required.
type Config struct {
	Allocator *mm.Allocator
	Priority  priority.Priority
	History   *history.History
	Remote    transport.Remote
	Sampler   Sampler

	// Location of the history head counter (History.CounterAddr()).
	HistoryServer uint16
	HistoryRKey   uint32
}

// Options tunes an Evictor. Zero values are replaced by defaults.
type Options struct {
	// SampleSize is the number of candidates ranked per pass.
	SampleSize int
	// MaxPasses bounds the passes of one Amortize call.
	MaxPasses int

	Metrics Metrics
	Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = DefaultMaxPasses
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
