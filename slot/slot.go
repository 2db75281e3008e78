// Package slot defines the remote slot layout read by eviction policies:
// the 8-byte slot word updated with compare-and-swap, and the access
// metadata header stored in front of every cached object.
package slot

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Slot word layout, least significant bit first:
//
//	bits  0..47  pointer (object block address, or history head for ghosts)
//	bits 48..51  kv length class
//	bits 52..55  server id
//	bits 56..63  key fingerprint
const (
	PointerBits = 48
	PointerMask = 1<<PointerBits - 1

	// GhostLen marks an evicted slot kept only for eviction history.
	GhostLen = 0xF
	// MaxKVLen is the largest length class a live object may use.
	MaxKVLen = GhostLen - 1
	// LenUnit is the byte granularity of a length class.
	LenUnit = 64
	// MaxServer is the largest server id that fits in a slot word.
	MaxServer = 0xF
)

// Atomic is the decoded slot word.
type Atomic struct {
	Pointer uint64
	KVLen   uint8
	Server  uint8
	FP      uint8
}

// Pack encodes a into the 64-bit word stored remotely.
func (a Atomic) Pack() uint64 {
	return a.Pointer&PointerMask |
		uint64(a.KVLen&0xF)<<48 |
		uint64(a.Server&0xF)<<52 |
		uint64(a.FP)<<56
}

// UnpackAtomic decodes a remote slot word.
func UnpackAtomic(w uint64) Atomic {
	return Atomic{
		Pointer: w & PointerMask,
		KVLen:   uint8(w>>48) & 0xF,
		Server:  uint8(w>>52) & 0xF,
		FP:      uint8(w >> 56),
	}
}

// Empty reports whether the word describes an unused slot.
func (a Atomic) Empty() bool { return a == Atomic{} }

// Ghost returns the word that replaces a on eviction: same fingerprint,
// GhostLen as length, the history head in the pointer bits.
func (a Atomic) Ghost(head uint64) Atomic {
	return Atomic{Pointer: head & PointerMask, KVLen: GhostLen, Server: a.Server, FP: a.FP}
}

// LenClass converts an object size in bytes to its length class.
// It reports false when the object cannot be described without colliding
// with GhostLen.
func LenClass(size uint32) (uint8, bool) {
	c := (uint64(size) + LenUnit - 1) / LenUnit
	if c > MaxKVLen {
		return 0, false
	}
	return uint8(c), true
}

// Slot is a slot word together with the metadata of the object it points to.
type Slot struct {
	Atomic Atomic
	Meta   Meta
}

// Meta is the access-statistics header colocated with cached data.
type Meta struct {
	AccessTS uint64
	InsertTS uint64
	Freq     uint64
	Counter  float64
	Latency  uint32
	Cost     uint32
}

// MetaSize is the encoded size of Meta.
const MetaSize = 40

// MarshalBinary encodes m little-endian in MetaSize bytes.
func (m *Meta) MarshalBinary() ([]byte, error) {
	b := make([]byte, MetaSize)
	m.put(b)
	return b, nil
}

func (m *Meta) put(b []byte) {
	binary.LittleEndian.PutUint64(b[0:], m.AccessTS)
	binary.LittleEndian.PutUint64(b[8:], m.InsertTS)
	binary.LittleEndian.PutUint64(b[16:], m.Freq)
	binary.LittleEndian.PutUint64(b[24:], math.Float64bits(m.Counter))
	binary.LittleEndian.PutUint32(b[32:], m.Latency)
	binary.LittleEndian.PutUint32(b[36:], m.Cost)
}

// Field selects members of Meta for partial remote writes.
type Field uint8

const (
	FieldAccessTS Field = 1 << iota
	FieldInsertTS
	FieldFreq
	FieldCounter
	FieldLatency
	FieldCost
)

// fieldEnds holds the end offset of each Field in encoding order.
var fieldEnds = [...]int{8, 16, 24, 32, 36, 40}

// Span is a run of encoded Meta bytes starting Off bytes into Meta.
type Span struct {
	Off  int
	Data []byte
}

// Spans encodes the fields of m selected by f. Adjacent fields share one
// span, so each span costs one remote write.
func (m *Meta) Spans(f Field) []Span {
	var b [MetaSize]byte
	m.put(b[:])

	var out []Span
	start := 0
	for i, end := range fieldEnds {
		if f&(1<<i) == 0 {
			start = end
			continue
		}
		if n := len(out); n > 0 && out[n-1].Off+len(out[n-1].Data) == start {
			out[n-1].Data = append(out[n-1].Data, b[start:end]...)
		} else {
			out = append(out, Span{Off: start, Data: append([]byte(nil), b[start:end]...)})
		}
		start = end
	}
	return out
}

// UnmarshalBinary decodes a header read from remote memory.
func (m *Meta) UnmarshalBinary(b []byte) error {
	if len(b) < MetaSize {
		return fmt.Errorf("slot: short meta: %d bytes", len(b))
	}
	m.AccessTS = binary.LittleEndian.Uint64(b[0:])
	m.InsertTS = binary.LittleEndian.Uint64(b[8:])
	m.Freq = binary.LittleEndian.Uint64(b[16:])
	m.Counter = math.Float64frombits(binary.LittleEndian.Uint64(b[24:]))
	m.Latency = binary.LittleEndian.Uint32(b[32:])
	m.Cost = binary.LittleEndian.Uint32(b[36:])
	return nil
}
