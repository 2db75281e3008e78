package dmcfx

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/dmcache/client"
	"github.com/IvanBrykalov/dmcache/metrics/prom"
	"github.com/IvanBrykalov/dmcache/mm"
	"github.com/IvanBrykalov/dmcache/priority"
	"github.com/IvanBrykalov/dmcache/transport"
	"github.com/IvanBrykalov/dmcache/transport/memnode"
)

func testConfig(t *testing.T, node *memnode.Node, policy string) Config {
	t.Helper()
	cfg, err := InMemory(node, Config{
		Policy:      policy,
		SegmentSize: 4096,
		BlockSize:   256,
		Watermark:   2,
	}, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestModule_ProvidesWorkingClient(t *testing.T) {
	t.Parallel()

	node := memnode.New()
	cfg := testConfig(t, node, "gdsf")
	reg := prometheus.NewRegistry()

	var (
		c     *client.Client
		alloc *mm.Allocator
		prio  priority.Priority
		m     *prom.Adapter
	)
	app := fxtest.New(t,
		fx.Supply(cfg, zap.NewNop()),
		fx.Provide(
			func() transport.Remote { return node },
			func() *prom.Adapter { return prom.New(reg, "dmc", "fx", nil) },
		),
		Module,
		fx.Populate(&c, &alloc, &prio, &m),
	)
	app.RequireStart()

	if got := alloc.Stats().TotalBlocks; got != 32 {
		t.Fatalf("two 16-block segments expected, got %d blocks", got)
	}
	if _, ok := prio.(priority.Aging); !ok {
		t.Fatalf("gdsf must be an aging strategy, got %T", prio)
	}

	ctx := context.Background()
	for i := 0; i < 64; i++ {
		if err := c.Set(ctx, "key-"+strconv.Itoa(i), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() > 32 {
		t.Fatalf("resident keys exceed blocks: %d", c.Len())
	}
	if n := counterValue(t, reg, "dmc_fx_evictions_total"); n == 0 {
		t.Fatal("evictions must be exported through the adapter")
	}
	if m == nil {
		t.Fatal("adapter not populated")
	}
	app.RequireStop()

	if err := c.Set(ctx, "late", nil); err == nil {
		t.Fatal("client must be closed after stop")
	}
}

func TestModule_StopReportsIntegrityViolation(t *testing.T) {
	t.Parallel()

	node := memnode.New()
	cfg := testConfig(t, node, "lru")

	var (
		c     *client.Client
		alloc *mm.Allocator
	)
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg, zap.NewNop()),
		fx.Provide(func() transport.Remote { return node }),
		Module,
		fx.Populate(&c, &alloc),
	)
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}

	b, err := alloc.Alloc(1)
	if err != nil {
		t.Fatal(err)
	}
	alloc.Free(b)
	alloc.Free(b)

	if err := app.Stop(ctx); !errors.Is(err, mm.ErrIntegrityViolation) {
		t.Fatalf("Stop = %v, want ErrIntegrityViolation", err)
	}
	if err := c.Set(ctx, "late", nil); !errors.Is(err, client.ErrClosed) {
		t.Fatalf("client must still be closed, got %v", err)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) == 1 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestModule_UnknownPolicyFails(t *testing.T) {
	t.Parallel()

	node := memnode.New()
	cfg := testConfig(t, node, "arc")
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg, zap.NewNop()),
		fx.Provide(func() transport.Remote { return node }),
		Module,
		fx.Invoke(func(*client.Client) {}),
	)
	if app.Err() == nil {
		t.Fatal("unknown policy must fail the graph")
	}
}

func TestInMemory_Layout(t *testing.T) {
	t.Parallel()

	node := memnode.New()
	cfg := testConfig(t, node, "")
	if len(cfg.Segments) != 2 || cfg.Segments[1].Server != 1 {
		t.Fatalf("segments: %+v", cfg.Segments)
	}
	if cfg.Table.Slots != 128 || cfg.HistoryWindow != 32 {
		t.Fatalf("defaults: slots=%d window=%d", cfg.Table.Slots, cfg.HistoryWindow)
	}
	if _, err := InMemory(node, Config{}, 0, 1); err == nil {
		t.Fatal("zero servers must fail")
	}
}
