package priority

import "github.com/IvanBrykalov/dmcache/slot"

// lruPriority evicts the oldest access first.
type lruPriority struct{ Base }

func (lruPriority) InfoUpdateMask(*slot.Meta) UpdateMask { return UpdateTimestamp | UpdateFrequency }
func (lruPriority) ParsePriority(m *slot.Meta, _ uint32) float64 {
	return float64(m.AccessTS)
}

// mruPriority is inverted LRU: the newest access is evicted first.
type mruPriority struct{ Base }

func (mruPriority) InfoUpdateMask(*slot.Meta) UpdateMask { return UpdateTimestamp | UpdateFrequency }
func (mruPriority) ParsePriority(m *slot.Meta, _ uint32) float64 {
	return -float64(m.AccessTS)
}

// fifoPriority ranks by insertion time, ignoring later accesses.
type fifoPriority struct{ Base }

func (fifoPriority) InfoUpdateMask(*slot.Meta) UpdateMask { return UpdateTimestamp | UpdateFrequency }
func (fifoPriority) ParsePriority(m *slot.Meta, _ uint32) float64 {
	return float64(m.InsertTS)
}

// lrukPriority approximates LRU-K with a single timestamp and the counter:
// every K-th access stamps the timestamp, the others stamp the counter, so
// the pair always holds the last two reference times.
type lrukPriority struct {
	Base
	clock Clock
	k     uint64
}

func (p lrukPriority) InfoUpdateMask(m *slot.Meta) UpdateMask {
	if (m.Freq+1)%p.k == 0 {
		return UpdateTimestamp | UpdateFrequency
	}
	return UpdateCounter | UpdateFrequency
}

// ParsePriority returns -1 for objects referenced fewer than K times so that
// cold objects go first.
func (p lrukPriority) ParsePriority(m *slot.Meta, _ uint32) float64 {
	if m.Freq < p.k {
		return -1
	}
	if m.Freq%p.k == 0 {
		return float64(m.AccessTS)
	}
	return m.Counter
}

func (p lrukPriority) CounterVal(*slot.Meta, uint32) float64 {
	return float64(p.clock.Now())
}
