package slot

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestAtomic_PackLayout(t *testing.T) {
	t.Parallel()

	a := Atomic{Pointer: 0x0000_1234_5678_9abc, KVLen: 3, Server: 2, FP: 0xa5}
	w := a.Pack()
	if w != 0xa5_2_3_123456789abc {
		t.Fatalf("unexpected word 0x%x", w)
	}
	if got := UnpackAtomic(w); got != a {
		t.Fatalf("unpack: want %+v, got %+v", a, got)
	}
}

// Pointer bits above 48 must never leak into the length/server/fp fields.
func TestAtomic_PointerMasked(t *testing.T) {
	t.Parallel()

	a := Atomic{Pointer: ^uint64(0), KVLen: 1, Server: 1, FP: 1}
	got := UnpackAtomic(a.Pack())
	if got.Pointer != PointerMask || got.KVLen != 1 || got.Server != 1 || got.FP != 1 {
		t.Fatalf("overflowing pointer corrupted the word: %+v", got)
	}
}

func TestAtomic_Ghost(t *testing.T) {
	t.Parallel()

	live := Atomic{Pointer: 0x1000, KVLen: 2, Server: 3, FP: 9}
	g := live.Ghost(1<<48 + 77)
	if g.KVLen != GhostLen || g.Pointer != 77 || g.FP != 9 || g.Server != 3 {
		t.Fatalf("unexpected ghost %+v", g)
	}
	if live.Empty() || !(Atomic{}).Empty() {
		t.Fatal("Empty misreports")
	}
}

// No live object may be assigned the ghost sentinel as its length class.
func TestLenClass_NeverGhost(t *testing.T) {
	t.Parallel()

	if c, ok := LenClass(MaxKVLen * LenUnit); !ok || c != MaxKVLen {
		t.Fatalf("largest object: class %d ok=%v", c, ok)
	}
	if _, ok := LenClass(MaxKVLen*LenUnit + 1); ok {
		t.Fatal("object needing the ghost class must be rejected")
	}
	if c, _ := LenClass(1); c != 1 {
		t.Fatalf("1 byte must take class 1, got %d", c)
	}
}

func TestObject_EncodeDecode(t *testing.T) {
	t.Parallel()

	meta := Meta{AccessTS: 10, InsertTS: 5, Freq: 3, Counter: 1.5, Latency: 7, Cost: 8}
	b := EncodeObject(meta, "key", []byte("value"))
	if len(b) != HeaderSize+3+5 {
		t.Fatalf("unexpected length %d", len(b))
	}
	h, key, val, err := DecodeObject(b)
	if err != nil {
		t.Fatal(err)
	}
	if h.Meta != meta || key != "key" || !bytes.Equal(val, []byte("value")) {
		t.Fatalf("round trip mismatch: %+v %q %q", h, key, val)
	}
	if _, _, _, err := DecodeObject(b[:len(b)-1]); err == nil {
		t.Fatal("truncated object must fail")
	}

	var m Meta
	if err := m.UnmarshalBinary(b[MetaOffset : MetaOffset+MetaSize]); err != nil || m != meta {
		t.Fatalf("meta at MetaOffset: %+v err=%v", m, err)
	}
}

// Key and value sizes that wrap a 32-bit sum must be rejected, not sliced.
func TestDecodeObject_WrappingSizes(t *testing.T) {
	t.Parallel()

	b := EncodeObject(Meta{}, "key", []byte("value"))
	binary.LittleEndian.PutUint32(b[0:], ^uint32(0))
	binary.LittleEndian.PutUint32(b[4:], 1)

	h, err := DecodeHeader(b)
	if err != nil {
		t.Fatal(err)
	}
	if want := uint64(HeaderSize) + 1<<32; h.ObjectSize() != want {
		t.Fatalf("ObjectSize = %d, want %d", h.ObjectSize(), want)
	}
	if _, _, _, err := DecodeObject(b); err == nil {
		t.Fatal("wrapping sizes must fail")
	}
}

func TestMeta_Spans(t *testing.T) {
	t.Parallel()

	m := Meta{AccessTS: 1, InsertTS: 2, Freq: 3, Counter: 4, Latency: 5, Cost: 6}
	full, _ := m.MarshalBinary()

	cases := []struct {
		name  string
		f     Field
		spans [][2]int // off, len
	}{
		{"none", 0, nil},
		{"timestamp and freq", FieldAccessTS | FieldFreq, [][2]int{{0, 8}, {16, 8}}},
		{"freq through cost", FieldFreq | FieldCounter | FieldLatency | FieldCost, [][2]int{{16, 24}}},
		{"latency only", FieldLatency, [][2]int{{32, 4}}},
		{"all", FieldAccessTS | FieldInsertTS | FieldFreq | FieldCounter | FieldLatency | FieldCost, [][2]int{{0, 40}}},
	}
	for _, tc := range cases {
		got := m.Spans(tc.f)
		if len(got) != len(tc.spans) {
			t.Fatalf("%s: %d spans, want %d", tc.name, len(got), len(tc.spans))
		}
		for i, sp := range got {
			off, n := tc.spans[i][0], tc.spans[i][1]
			if sp.Off != off || len(sp.Data) != n || !bytes.Equal(sp.Data, full[off:off+n]) {
				t.Fatalf("%s: span %d = {%d, %d bytes}, want {%d, %d}", tc.name, i, sp.Off, len(sp.Data), off, n)
			}
		}
	}
}
