package priority

import (
	"math"

	"github.com/IvanBrykalov/dmcache/slot"
)

// lirsPriority ranks by the stored counter, which holds the inter-reference
// recency measured at the previous hit.
type lirsPriority struct {
	Base
	clock Clock
}

func (lirsPriority) InfoUpdateMask(*slot.Meta) UpdateMask {
	return UpdateTimestamp | UpdateFrequency | UpdateCounter
}
func (lirsPriority) ParsePriority(m *slot.Meta, _ uint32) float64 { return m.Counter }
func (p lirsPriority) CounterVal(m *slot.Meta, _ uint32) float64 {
	return float64(sinceTS(p.clock.Now(), m.AccessTS))
}

// lrfuPriority blends recency and frequency: on every hit the counter decays
// by 0.5^(lambda*dt) and gains one.
type lrfuPriority struct {
	Base
	clock  Clock
	lambda float64
}

func (lrfuPriority) InfoUpdateMask(*slot.Meta) UpdateMask { return UpdateTimestamp | UpdateCounter }
func (lrfuPriority) ParsePriority(m *slot.Meta, _ uint32) float64 { return m.Counter }
func (p lrfuPriority) CounterVal(m *slot.Meta, _ uint32) float64 {
	dt := sinceTS(p.clock.Now(), m.AccessTS)
	return m.Counter*p.weight(dt) + p.weight(0)
}

func (p lrfuPriority) weight(interval uint64) float64 {
	return math.Pow(0.5, p.lambda*float64(interval))
}
