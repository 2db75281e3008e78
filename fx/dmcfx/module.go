// Package dmcfx provides an fx module wiring the allocator, the priority
// strategy, the history tracker and the cache client over a transport.
package dmcfx

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/dmcache/client"
	"github.com/IvanBrykalov/dmcache/evict"
	"github.com/IvanBrykalov/dmcache/history"
	"github.com/IvanBrykalov/dmcache/metrics/prom"
	"github.com/IvanBrykalov/dmcache/mm"
	"github.com/IvanBrykalov/dmcache/priority"
	"github.com/IvanBrykalov/dmcache/transport"
)

// Config holds configuration for a dmcache client.
type Config struct {
	// Policy names the priority strategy (see priority.ParseKind).
	// Default is "lru".
	Policy string
	// LRFULambda and K tune LRFU and LRU-K; zero keeps the defaults.
	LRFULambda float64
	K          int

	SegmentSize uint32
	BlockSize   uint32
	Watermark   int

	// Segments are registered with the allocator on start.
	Segments []mm.RemoteSegment

	Table client.Table
	// Shards is the key-index shard count (0 = auto).
	Shards int

	// History counter location and window.
	HistoryServer uint16
	HistoryAddr   uint64
	HistoryRKey   uint32
	HistoryWindow uint32

	SampleSize int
	MaxPasses  int
}

// Module provides a *client.Client with its allocator, strategy and history.
// Requires a *zap.Logger and a transport.Remote to be provided; a
// *prom.Adapter is used when present.
var Module = fx.Module("dmcache",
	fx.Provide(
		newPriority,
		newAllocator,
		newHistory,
		newClient,
	),
)

// MetricsParams picks up an optional Prometheus adapter.
type MetricsParams struct {
	fx.In

	Metrics *prom.Adapter `optional:"true"`
}

func newPriority(cfg Config) (priority.Priority, error) {
	name := cfg.Policy
	if name == "" {
		name = priority.LRU.String()
	}
	kind, err := priority.ParseKind(name)
	if err != nil {
		return nil, err
	}
	var opts []priority.Option
	if cfg.LRFULambda > 0 {
		opts = append(opts, priority.WithLRFULambda(cfg.LRFULambda))
	}
	if cfg.K > 0 {
		opts = append(opts, priority.WithK(cfg.K))
	}
	return priority.New(kind, opts...)
}

func newAllocator(cfg Config, log *zap.Logger, mp MetricsParams) (*mm.Allocator, error) {
	opt := mm.Options{
		SegmentSize: cfg.SegmentSize,
		BlockSize:   cfg.BlockSize,
		Watermark:   cfg.Watermark,
		Logger:      log.Named("dmcache.mm"),
	}
	if mp.Metrics != nil {
		opt.Metrics = mp.Metrics
	}
	a, err := mm.New(opt)
	if err != nil {
		return nil, err
	}
	for _, s := range cfg.Segments {
		if err := a.AddSegment(s.Addr, s.RKey, s.Server); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func newHistory(cfg Config) (*history.History, error) {
	return history.New(cfg.HistoryWindow, cfg.HistoryAddr, history.RoleClient, nil)
}

// Params holds dependencies for creating the client.
type Params struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Remote    transport.Remote
	Allocator *mm.Allocator
	Priority  priority.Priority
	History   *history.History
	Metrics   *prom.Adapter `optional:"true"`
	Lifecycle fx.Lifecycle
}

// Result holds the provided client and its evictor.
type Result struct {
	fx.Out

	Client  *client.Client
	Evictor *evict.Evictor
}

func newClient(p Params) (Result, error) {
	opt := client.Options{
		Shards: p.Config.Shards,
		Logger: p.Logger.Named("dmcache"),
		Evict: evict.Options{
			SampleSize: p.Config.SampleSize,
			MaxPasses:  p.Config.MaxPasses,
			Logger:     p.Logger.Named("dmcache.evict"),
		},
	}
	if p.Metrics != nil {
		opt.Metrics = p.Metrics
		opt.Evict.Metrics = p.Metrics
	}
	c, err := client.New(client.Config{
		Allocator:     p.Allocator,
		Priority:      p.Priority,
		History:       p.History,
		Remote:        p.Remote,
		Table:         p.Config.Table,
		HistoryServer: p.Config.HistoryServer,
		HistoryRKey:   p.Config.HistoryRKey,
	}, opt)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			err := p.Allocator.Verify()
			if err != nil {
				p.Logger.Error("allocator integrity check failed", zap.Error(err))
			}
			return errors.Join(err, c.Close())
		},
	})

	return Result{Client: c, Evictor: c.Evictor()}, nil
}
