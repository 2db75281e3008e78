package priority

import (
	"math"
	"sync/atomic"
)

// Aging is implemented by strategies that keep a running baseline.
type Aging interface {
	Baseline() float64
}

// aging stores the GreedyDual "clock" L as float64 bits.
type aging struct {
	Base
	l atomic.Uint64
}

// Baseline returns the score of the last evicted object (0 before any eviction).
func (a *aging) Baseline() float64 { return math.Float64frombits(a.l.Load()) }

// EvictCallback moves the baseline to the evicted object's score.
func (a *aging) EvictCallback(score float64) { a.l.Store(math.Float64bits(score)) }

var (
	_ Aging = (*gdsfPriority)(nil)
	_ Aging = (*gdsPriority)(nil)
	_ Aging = (*lfudaPriority)(nil)
)
