// Package prom exports allocator, eviction and access-path signals as
// Prometheus metrics.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/dmcache/client"
	"github.com/IvanBrykalov/dmcache/evict"
	"github.com/IvanBrykalov/dmcache/mm"
)

// Adapter implements mm.Metrics, evict.Metrics and client.Metrics.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	allocs     prometheus.Counter
	frees      prometheus.Counter
	allocFails *prometheus.CounterVec
	freeBlocks prometheus.Gauge
	usedBlocks prometheus.Gauge

	evictions prometheus.Counter
	scores    prometheus.Histogram
	passes    *prometheus.CounterVec
	passTime  prometheus.Histogram

	hits      prometheus.Counter
	misses    prometheus.Counter
	ghostHits *prometheus.CounterVec
	entries   prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	a := &Adapter{
		allocs: counter("block_allocs_total", "Remote blocks handed out"),
		frees:  counter("block_frees_total", "Remote blocks returned to the pool"),
		allocFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "block_alloc_failures_total",
			Help: "Failed block allocations by reason", ConstLabels: constLabels,
		}, []string{"reason"}),
		freeBlocks: gauge("free_blocks", "Blocks in the free pool"),
		usedBlocks: gauge("used_blocks", "Blocks in use"),

		evictions: counter("evictions_total", "Objects evicted"),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "eviction_score",
			Help:    "Priority score of evicted objects",
			Buckets: prometheus.ExponentialBucketsRange(1e-3, 1e12, 16), ConstLabels: constLabels,
		}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "eviction_passes_total",
			Help: "Eviction passes by outcome", ConstLabels: constLabels,
		}, []string{"outcome"}),
		passTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "eviction_pass_seconds",
			Help: "Eviction pass latency", Buckets: prometheus.DefBuckets, ConstLabels: constLabels,
		}),

		hits:   counter("hits_total", "Cache hits"),
		misses: counter("misses_total", "Cache misses"),
		ghostHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "ghost_hits_total",
			Help: "Misses on evicted keys still carrying a ghost", ConstLabels: constLabels,
		}, []string{"fresh"}),
		entries: gauge("size_entries", "Number of resident entries"),
	}
	reg.MustRegister(
		a.allocs, a.frees, a.allocFails, a.freeBlocks, a.usedBlocks,
		a.evictions, a.scores, a.passes, a.passTime,
		a.hits, a.misses, a.ghostHits, a.entries,
	)
	return a
}

// ---- mm.Metrics ----

func (a *Adapter) Alloc() { a.allocs.Inc() }
func (a *Adapter) Free()  { a.frees.Inc() }

// AllocFail counts a failed allocation labelled "oversize" or "oom".
func (a *Adapter) AllocFail(r mm.FailReason) { a.allocFails.WithLabelValues(r.String()).Inc() }

// Pool updates the free/used block gauges.
func (a *Adapter) Pool(free, used int) {
	a.freeBlocks.Set(float64(free))
	a.usedBlocks.Set(float64(used))
}

// ---- evict.Metrics ----

// Evicted counts an eviction and observes its score. Negative scores
// (MRU, LRU-K cold objects) land in the lowest bucket.
func (a *Adapter) Evicted(score float64) {
	a.evictions.Inc()
	a.scores.Observe(score)
}

// Pass records one eviction pass.
func (a *Adapter) Pass(evicted int, took time.Duration) {
	outcome := "evicted"
	if evicted == 0 {
		outcome = "empty"
	}
	a.passes.WithLabelValues(outcome).Inc()
	a.passTime.Observe(took.Seconds())
}

// ---- client.Metrics ----

func (a *Adapter) Hit()  { a.hits.Inc() }
func (a *Adapter) Miss() { a.misses.Inc() }

// GhostHit counts a miss on a ghost, split by freshness.
func (a *Adapter) GhostHit(fresh bool) {
	if fresh {
		a.ghostHits.WithLabelValues("true").Inc()
		return
	}
	a.ghostHits.WithLabelValues("false").Inc()
}

// Size updates the resident entries gauge.
func (a *Adapter) Size(entries int) { a.entries.Set(float64(entries)) }

// Compile-time checks.
var (
	_ mm.Metrics     = (*Adapter)(nil)
	_ evict.Metrics  = (*Adapter)(nil)
	_ client.Metrics = (*Adapter)(nil)
)
