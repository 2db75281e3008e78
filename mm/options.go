package mm

import "go.uber.org/zap"

// Defaults applied by New for zero-valued Options fields.
const (
	DefaultSegmentSize = 64 << 20
	DefaultBlockSize   = 256
	DefaultWatermark   = 16
)

// FailReason explains why Alloc refused a request.
type FailReason int

const (
	// FailOversize: the request was larger than the uniform block size.
	FailOversize FailReason = iota
	// FailOutOfMemory: the free pool was empty.
	FailOutOfMemory
)

func (r FailReason) String() string {
	switch r {
	case FailOversize:
		return "oversize"
	case FailOutOfMemory:
		return "oom"
	default:
		return "unknown"
	}
}

// Metrics exposes allocator observability hooks.
// NoopMetrics is used when none is configured.
type Metrics interface {
	Alloc()
	Free()
	AllocFail(reason FailReason)
	// Pool reports the free-pool length and used-block count after a mutation.
	Pool(free, used int)
}

// Options configures an Allocator. Zero values are safe; New applies:
//   - SegmentSize == 0 => DefaultSegmentSize
//   - BlockSize == 0   => DefaultBlockSize
//   - Watermark <= 0   => DefaultWatermark
//   - nil Metrics      => NoopMetrics
//   - nil Logger       => zap.NewNop()
type Options struct {
	// SegmentSize is the byte size of every registered segment.
	SegmentSize uint32
	// BlockSize is the uniform allocation unit. Requests above it fail.
	BlockSize uint32
	// Watermark is the free-block count below which NeedAmortize reports true.
	Watermark int

	Metrics Metrics
	Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.SegmentSize == 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.Watermark <= 0 {
		o.Watermark = DefaultWatermark
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
