package client

import (
	"go.uber.org/zap"

	"github.com/IvanBrykalov/dmcache/evict"
	"github.com/IvanBrykalov/dmcache/history"
	"github.com/IvanBrykalov/dmcache/mm"
	"github.com/IvanBrykalov/dmcache/priority"
	"github.com/IvanBrykalov/dmcache/transport"
)

// Table locates the remote slot table: Slots consecutive 8-byte words.
type Table struct {
	Server uint16
	Addr   uint64
	RKey   uint32
	Slots  uint32
}

// Config holds the collaborators of a Client. All fields are required.
type Config struct {
	Allocator *mm.Allocator
	Priority  priority.Priority
	History   *history.History
	Remote    transport.Remote
	Table     Table

	// Location of the history head counter.
	HistoryServer uint16
	HistoryRKey   uint32
}

// Options configures the client. Zero values are safe; defaults are applied
// in New():
//   - Shards <= 0  => auto (rounded up to power of two)
//   - nil Metrics  => NoopMetrics
//   - nil Clock    => priority.SystemClock
//   - nil Logger   => zap.NewNop()
type Options struct {
	// Shards is the number of key-index shards.
	Shards int

	// Clock stamps metadata. It must be the clock given to the priority
	// strategy so that timestamps and counters agree.
	Clock priority.Clock

	// Evict tunes the evictor the client drives. Its Logger defaults to Logger.
	Evict evict.Options

	Metrics Metrics
	Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Clock == nil {
		o.Clock = priority.SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Evict.Logger == nil {
		o.Evict.Logger = o.Logger
	}
	return o
}
