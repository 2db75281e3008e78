//go:build go1.18

package mm

import (
	"errors"
	"testing"
)

// Fuzz arbitrary alloc/free programs. Each byte is an op: even bytes alloc
// (byte value as size, scaled), odd bytes free the oldest held block.
// Integrity must hold after every step; sizes are never above the block size.
func FuzzAllocator_Program(f *testing.F) {
	f.Add([]byte{0, 2, 4, 1, 6, 3})
	f.Add([]byte{255, 255, 254})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, prog []byte) {
		const limit = 1 << 10
		if len(prog) > limit {
			prog = prog[:limit]
		}
		a, err := New(Options{SegmentSize: 2048, BlockSize: 128})
		if err != nil {
			t.Fatal(err)
		}
		_ = a.AddSegment(0x1000, 1, 0)
		_ = a.AddSegment(0x9000, 2, 1)

		var held []RemoteBlock
		for _, op := range prog {
			if op%2 == 1 {
				if len(held) > 0 {
					a.Free(held[0])
					held = held[1:]
				}
			} else {
				size := uint32(op)
				b, err := a.Alloc(size)
				switch {
				case size > 128:
					if !errors.Is(err, ErrOversizeRequest) {
						t.Fatalf("size %d: want ErrOversizeRequest, got %v", size, err)
					}
				case errors.Is(err, ErrOutOfMemory):
					if len(held) != 32 {
						t.Fatalf("OOM with %d of 32 blocks held", len(held))
					}
				case err != nil:
					t.Fatal(err)
				default:
					if b.Size > 128 {
						t.Fatalf("block larger than block size: %v", b)
					}
					held = append(held, b)
				}
			}
			if !a.CheckIntegrity() {
				t.Fatalf("integrity broken after op %d", op)
			}
		}
	})
}
