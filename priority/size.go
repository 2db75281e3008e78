package priority

import "github.com/IvanBrykalov/dmcache/slot"

// sizeWeight makes size dominate the SIZE score; the access timestamp only
// breaks ties between equal sizes.
const sizeWeight = 1e11

// gdsfPriority is GreedyDual-Size-Frequency: baseline + freq/size.
type gdsfPriority struct{ aging }

func (*gdsfPriority) InfoUpdateMask(*slot.Meta) UpdateMask { return UpdateTimestamp | UpdateFrequency }
func (p *gdsfPriority) ParsePriority(m *slot.Meta, size uint32) float64 {
	return p.Baseline() + float64(m.Freq)/float64(size)
}

// gdsPriority is GreedyDual-Size: baseline + 1/size.
type gdsPriority struct{ aging }

func (*gdsPriority) InfoUpdateMask(*slot.Meta) UpdateMask { return UpdateTimestamp | UpdateFrequency }
func (p *gdsPriority) ParsePriority(_ *slot.Meta, size uint32) float64 {
	return p.Baseline() + 1/float64(size)
}

// sizePriority evicts the smallest object first, oldest among equals.
type sizePriority struct{ Base }

func (sizePriority) InfoUpdateMask(*slot.Meta) UpdateMask { return UpdateTimestamp | UpdateFrequency }
func (sizePriority) ParsePriority(m *slot.Meta, size uint32) float64 {
	return float64(size)*sizeWeight + float64(m.AccessTS)
}
