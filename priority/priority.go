// Package priority implements the eviction-priority strategies used to rank
// remote cache slots. A lower score is evicted first.
//
// Every strategy declares which metadata fields the access path must refresh
// on a hit (InfoUpdateMask); each refreshed field costs a remote write, so a
// strategy only asks for what it reads. Strategies of the GreedyDual family
// keep an aging baseline that EvictCallback moves to the score of the last
// evicted object.
package priority

import (
	"time"

	"github.com/IvanBrykalov/dmcache/slot"
)

// UpdateMask selects the slot.Meta fields refreshed on a cache hit.
type UpdateMask uint32

const (
	UpdateTimestamp UpdateMask = 1 << iota
	UpdateFrequency
	UpdateLatency
	UpdateCost
	UpdateCounter
)

// Has reports whether every bit of f is set in m.
func (m UpdateMask) Has(f UpdateMask) bool { return m&f == f }

// Fields maps m onto the Meta fields it refreshes.
func (m UpdateMask) Fields() slot.Field {
	var f slot.Field
	if m.Has(UpdateTimestamp) {
		f |= slot.FieldAccessTS
	}
	if m.Has(UpdateFrequency) {
		f |= slot.FieldFreq
	}
	if m.Has(UpdateLatency) {
		f |= slot.FieldLatency
	}
	if m.Has(UpdateCost) {
		f |= slot.FieldCost
	}
	if m.Has(UpdateCounter) {
		f |= slot.FieldCounter
	}
	return f
}

// Priority is a swappable scoring strategy.
//
// ParsePriority must depend only on meta, size and, for aging strategies, the
// baseline set by EvictCallback. Callers that share one instance across
// goroutines must invoke EvictCallback in eviction order.
type Priority interface {
	// InfoUpdateMask lists the fields to refresh when the object is hit.
	InfoUpdateMask(meta *slot.Meta) UpdateMask
	// ParsePriority ranks an object of size bytes; lower is evicted first.
	ParsePriority(meta *slot.Meta, size uint32) float64
	// EvictCallback receives the score of the object just evicted.
	EvictCallback(score float64)
	// CounterVal is the value to store into Meta.Counter on the next access.
	CounterVal(meta *slot.Meta, size uint32) float64
}

// Base provides the default EvictCallback (no-op) and CounterVal (zero).
// Strategies embed it and override what they need.
type Base struct{}

func (Base) EvictCallback(float64)                  {}
func (Base) CounterVal(*slot.Meta, uint32) float64 { return 0 }

// Clock returns the current access timestamp.
type Clock interface{ Now() uint64 }

// ClockFunc adapts a function to Clock.
type ClockFunc func() uint64

func (f ClockFunc) Now() uint64 { return f() }

// SystemClock timestamps accesses in microseconds since the Unix epoch.
type SystemClock struct{}

func (SystemClock) Now() uint64 { return uint64(time.Now().UnixMicro()) }

// Access carries the values written by Refresh.
type Access struct {
	Now     uint64
	Latency uint32
	Cost    uint32
}

// Refresh applies a hit to meta following p's update mask and returns the
// mask, so the caller knows which remote fields to write back. The mask and
// counter are computed from the metadata as it was before the hit.
func Refresh(p Priority, meta *slot.Meta, size uint32, acc Access) UpdateMask {
	mask := p.InfoUpdateMask(meta)
	var counter float64
	if mask.Has(UpdateCounter) {
		counter = p.CounterVal(meta, size)
	}
	if mask.Has(UpdateTimestamp) {
		meta.AccessTS = acc.Now
	}
	if mask.Has(UpdateFrequency) {
		meta.Freq++
	}
	if mask.Has(UpdateLatency) {
		meta.Latency = acc.Latency
	}
	if mask.Has(UpdateCost) {
		meta.Cost = acc.Cost
	}
	if mask.Has(UpdateCounter) {
		meta.Counter = counter
	}
	return mask
}

// sinceTS is now-ts, clamped at zero when the stored stamp is ahead of the clock.
func sinceTS(now, ts uint64) uint64 {
	if ts > now {
		return 0
	}
	return now - ts
}
