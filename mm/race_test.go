package mm

import (
	"errors"
	"math/rand"
	"runtime"
	"testing"

	"golang.org/x/sync/errgroup"
)

// Concurrent balanced alloc/free across several segments must leave the
// accounting intact. Run under -race.
func TestRace_AllocFreeBalanced(t *testing.T) {
	a, err := New(Options{SegmentSize: 64 * 1024, BlockSize: 256, Watermark: 8})
	if err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < 4; i++ {
		if err := a.AddSegment(i<<32, uint32(i+1), uint16(i)); err != nil {
			t.Fatal(err)
		}
	}

	workers := 4 * runtime.GOMAXPROCS(0)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			r := rand.New(rand.NewSource(int64(w) * 9973))
			var held []RemoteBlock
			for i := 0; i < 2_000; i++ {
				if len(held) > 0 && r.Intn(2) == 0 {
					j := r.Intn(len(held))
					a.Free(held[j])
					held[j] = held[len(held)-1]
					held = held[:len(held)-1]
					continue
				}
				b, err := a.Alloc(uint32(r.Intn(257)))
				if errors.Is(err, ErrOutOfMemory) {
					continue
				}
				if err != nil {
					return err
				}
				held = append(held, b)
				_ = a.NeedAmortize()
			}
			for _, b := range held {
				a.Free(b)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if err := a.Verify(); err != nil {
		t.Fatal(err)
	}
	if st := a.Stats(); st.UsedBlocks != 0 || uint64(st.FreeBlocks) != st.TotalBlocks {
		t.Fatalf("all blocks must be back in the pool: %+v", st)
	}
}
