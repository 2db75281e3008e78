package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/dmcache/client"
	"github.com/IvanBrykalov/dmcache/fx/dmcfx"
	"github.com/IvanBrykalov/dmcache/metrics/prom"
	"github.com/IvanBrykalov/dmcache/mm"
	"github.com/IvanBrykalov/dmcache/priority"
	"github.com/IvanBrykalov/dmcache/transport"
	"github.com/IvanBrykalov/dmcache/transport/memnode"
)

type benchFlags struct {
	policies []string

	servers     int
	segments    int
	segmentSize uint32
	blockSize   uint32
	watermark   int
	sampleSize  int
	window      uint32

	workers   int
	duration  time.Duration
	readPct   int
	keys      uint64
	zipfS     float64
	zipfV     float64
	seed      uint64
	valueSize int

	httpAddr string
}

var bf benchFlags

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the workload once per policy and report hit rates",
	Args:  cobra.NoArgs,
	RunE:  runBench,
}

func init() {
	f := benchCmd.Flags()
	f.StringSliceVarP(&bf.policies, "policy", "p", []string{"lru", "lfu", "gdsf"}, "policies to compare (see `dmcbench policies`)")
	f.IntVar(&bf.servers, "servers", 2, "memory servers")
	f.IntVar(&bf.segments, "segments", 1, "segments per server")
	f.Uint32Var(&bf.segmentSize, "segment-size", 1<<20, "segment size in bytes")
	f.Uint32Var(&bf.blockSize, "block-size", mm.DefaultBlockSize, "block size in bytes")
	f.IntVar(&bf.watermark, "watermark", mm.DefaultWatermark, "free blocks below which eviction runs")
	f.IntVar(&bf.sampleSize, "sample", 5, "candidates ranked per eviction pass")
	f.Uint32Var(&bf.window, "window", 0, "eviction history window (0 = one per block)")

	f.IntVarP(&bf.workers, "workers", "w", 2*runtime.GOMAXPROCS(0), "worker goroutines")
	f.DurationVarP(&bf.duration, "duration", "d", 5*time.Second, "run time per policy")
	f.IntVar(&bf.readPct, "reads", 80, "read percentage [0..100]")
	f.Uint64Var(&bf.keys, "keys", 100_000, "keyspace size")
	f.Float64Var(&bf.zipfS, "zipf-s", 1.1, "Zipf s > 1 (skew)")
	f.Float64Var(&bf.zipfV, "zipf-v", 1.0, "Zipf v >= 1")
	f.Uint64Var(&bf.seed, "seed", uint64(time.Now().UnixNano()), "random seed")
	f.IntVar(&bf.valueSize, "value-size", 64, "value size in bytes")

	f.StringVar(&bf.httpAddr, "http", "", "serve Prometheus metrics at addr (e.g. :8080); empty = disabled")

	rootCmd.AddCommand(benchCmd)
}

type result struct {
	policy        string
	ops, reads    uint64
	hits, ghosts  uint64
	freshGhosts   uint64
	setFailures   uint64
	resident      int
	allocs, frees uint64
	head          uint64
	elapsed       time.Duration
}

func runBench(cmd *cobra.Command, args []string) error {
	if bf.zipfS <= 1 || bf.zipfV < 1 || bf.keys < 2 {
		return fmt.Errorf("invalid workload: zipf-s must be > 1, zipf-v >= 1, keys >= 2")
	}
	for _, p := range bf.policies {
		if _, err := priority.ParseKind(p); err != nil {
			return err
		}
	}

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	if bf.httpAddr != "" {
		srv := &http.Server{Addr: bf.httpAddr, Handler: metricsMux(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("serving metrics", zap.String("addr", bf.httpAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "servers=%d segments=%d segment=%dB block=%dB workers=%d keys=%d reads=%d%% zipf=%.2f/%.2f seed=%d\n\n",
		bf.servers, bf.segments, bf.segmentSize, bf.blockSize, bf.workers, bf.keys, bf.readPct, bf.zipfS, bf.zipfV, bf.seed)

	for _, p := range bf.policies {
		res, err := benchPolicy(cmd.Context(), log, reg, p)
		if err != nil {
			return fmt.Errorf("policy %s: %w", p, err)
		}
		report(w, res)
	}
	return nil
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// benchPolicy builds a fresh memory node and client for one policy through
// the fx module and runs the workload against it.
func benchPolicy(parent context.Context, log *zap.Logger, reg *prometheus.Registry, policy string) (result, error) {
	if parent == nil {
		parent = context.Background()
	}
	node := memnode.New()
	cfg, err := dmcfx.InMemory(node, dmcfx.Config{
		Policy:        policy,
		SegmentSize:   bf.segmentSize,
		BlockSize:     bf.blockSize,
		Watermark:     bf.watermark,
		SampleSize:    bf.sampleSize,
		HistoryWindow: bf.window,
	}, bf.servers, bf.segments)
	if err != nil {
		return result{}, err
	}

	var (
		c     *client.Client
		alloc *mm.Allocator
	)
	app := fx.New(
		fx.WithLogger(func() fxevent.Logger { return &fxevent.ZapLogger{Logger: log.Named("fx")} }),
		fx.Supply(cfg, log),
		fx.Provide(
			func() transport.Remote { return node },
			func() *prom.Adapter {
				return prom.New(reg, "dmcache", "bench", prometheus.Labels{"policy": policy})
			},
		),
		dmcfx.Module,
		fx.Populate(&c, &alloc),
	)
	if err := app.Start(parent); err != nil {
		return result{}, err
	}

	res := result{policy: policy}
	runErr := workload(parent, c, &res)
	if head, err := c.Evictor().Head(context.Background()); err == nil {
		res.head = head
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}

	st := alloc.Stats()
	res.resident = c.Len()
	res.allocs, res.frees = st.Allocs, st.Frees
	return res, runErr
}

func workload(parent context.Context, c *client.Client, res *result) error {
	ctx, cancel := context.WithTimeout(parent, bf.duration)
	defer cancel()

	var ops, reads, hits, ghosts, fresh, failed atomic.Uint64
	value := make([]byte, bf.valueSize)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for id := 0; id < max(bf.workers, 1); id++ {
		g.Go(func() error {
			r := rand.New(rand.NewPCG(bf.seed, uint64(id)))
			z := rand.NewZipf(r, bf.zipfS, bf.zipfV, bf.keys-1)
			for gctx.Err() == nil {
				k := "k:" + strconv.FormatUint(z.Uint64(), 10)
				ops.Add(1)
				if r.IntN(100) < bf.readPct {
					reads.Add(1)
					lr, err := c.Lookup(gctx, k)
					if err != nil {
						return ignoreDone(gctx, err)
					}
					switch {
					case lr.Hit:
						hits.Add(1)
					case lr.Ghost:
						ghosts.Add(1)
						if lr.Fresh {
							fresh.Add(1)
						}
					}
					continue
				}
				if err := c.Set(gctx, k, value); err != nil {
					if errors.Is(err, mm.ErrOutOfMemory) || errors.Is(err, client.ErrTableFull) {
						failed.Add(1)
						continue
					}
					return ignoreDone(gctx, err)
				}
			}
			return nil
		})
	}
	err := g.Wait()

	res.elapsed = time.Since(start)
	res.ops, res.reads = ops.Load(), reads.Load()
	res.hits, res.ghosts, res.freshGhosts = hits.Load(), ghosts.Load(), fresh.Load()
	res.setFailures = failed.Load()
	return err
}

// ignoreDone drops errors caused by the run deadline.
func ignoreDone(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func report(w io.Writer, r result) {
	hitRate := 0.0
	if r.reads > 0 {
		hitRate = float64(r.hits) / float64(r.reads) * 100
	}
	fmt.Fprintf(w, "%s:\n", r.policy)
	fmt.Fprintf(w, "  ops:          %d (%.0f ops/s)\n", r.ops, float64(r.ops)/r.elapsed.Seconds())
	fmt.Fprintf(w, "  hit rate:     %.2f%% (%d/%d reads)\n", hitRate, r.hits, r.reads)
	fmt.Fprintf(w, "  ghost misses: %d (%d fresh)\n", r.ghosts, r.freshGhosts)
	fmt.Fprintf(w, "  evictions:    %d (history head)\n", r.head)
	fmt.Fprintf(w, "  blocks:       %d allocs, %d frees\n", r.allocs, r.frees)
	fmt.Fprintf(w, "  set failures: %d\n", r.setFailures)
	fmt.Fprintf(w, "  resident:     %d\n\n", r.resident)
}
