package priority

import (
	"math/rand/v2"
	"sync"

	"github.com/IvanBrykalov/dmcache/slot"
)

// dumbPriority ranks uniformly at random and needs no metadata.
type dumbPriority struct {
	Base
	mu  sync.Mutex
	rng *rand.Rand // nil => global source
}

func newDumb(r *rand.Rand) *dumbPriority { return &dumbPriority{rng: r} }

func (*dumbPriority) InfoUpdateMask(*slot.Meta) UpdateMask { return 0 }
func (p *dumbPriority) ParsePriority(*slot.Meta, uint32) float64 {
	if p.rng == nil {
		return rand.Float64()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}

// lfuPriority evicts the least frequently accessed object first.
type lfuPriority struct{ Base }

func (lfuPriority) InfoUpdateMask(*slot.Meta) UpdateMask { return UpdateTimestamp | UpdateFrequency }
func (lfuPriority) ParsePriority(m *slot.Meta, _ uint32) float64 {
	return float64(m.Freq)
}

// lfudaPriority is LFU with dynamic aging: frequency plus the baseline.
type lfudaPriority struct{ aging }

func (*lfudaPriority) InfoUpdateMask(*slot.Meta) UpdateMask { return UpdateTimestamp | UpdateFrequency }
func (p *lfudaPriority) ParsePriority(m *slot.Meta, _ uint32) float64 {
	return float64(m.Freq) + p.Baseline()
}

// hyperbolicPriority ranks by frequency over time spent in the cache.
type hyperbolicPriority struct {
	Base
	clock Clock
}

func (hyperbolicPriority) InfoUpdateMask(*slot.Meta) UpdateMask { return UpdateFrequency }

// ParsePriority treats an object inserted in the current tick as one tick old.
func (p hyperbolicPriority) ParsePriority(m *slot.Meta, _ uint32) float64 {
	age := sinceTS(p.clock.Now(), m.InsertTS)
	if age == 0 {
		age = 1
	}
	return float64(m.Freq) / float64(age)
}
