// Package memnode is an in-process memory server implementing
// transport.Remote. It backs tests, the benchmark command and the examples.
package memnode

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/dmcache/transport"
)

// baseAddr is where the first registered region starts. Addresses are unique
// across servers so that segments never collide in a client's allocator.
const (
	baseAddr  = 0x10_0000
	alignment = 4096
)

type region struct {
	addr uint64
	rkey uint32
	buf  []byte
}

type server struct {
	mu      sync.Mutex
	regions []region // sorted by addr
}

// Node hosts the memory of any number of servers.
type Node struct {
	mu       sync.Mutex
	servers  map[uint16]*server
	nextAddr uint64
	nextKey  uint32

	reads, writes, atomics atomic.Uint64
}

// Stats counts operations served by the node.
type Stats struct {
	Reads, Writes, Atomics uint64
}

// New returns an empty node.
func New() *Node {
	return &Node{servers: make(map[uint16]*server), nextAddr: baseAddr, nextKey: 1}
}

// Register allocates a zeroed region of size bytes on server and returns its
// address and rkey, as a memory server answering a registration would.
func (n *Node) Register(srv uint16, size int) (uint64, uint32) {
	n.mu.Lock()
	addr, rkey := n.nextAddr, n.nextKey
	n.nextAddr += (uint64(size) + alignment - 1) / alignment * alignment
	n.nextAddr += alignment // guard gap between regions
	n.nextKey++
	s, ok := n.servers[srv]
	if !ok {
		s = &server{}
		n.servers[srv] = s
	}
	n.mu.Unlock()

	s.mu.Lock()
	s.regions = append(s.regions, region{addr: addr, rkey: rkey, buf: make([]byte, size)})
	sort.Slice(s.regions, func(i, j int) bool { return s.regions[i].addr < s.regions[j].addr })
	s.mu.Unlock()
	return addr, rkey
}

// Local returns the server-side bytes backing [addr, addr+size) without an
// rkey check, for server-role initialisation. It returns nil for unknown ranges.
func (n *Node) Local(srv uint16, addr uint64, size int) []byte {
	s := n.server(srv)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(addr, size)
	if r == nil {
		return nil
	}
	off := addr - r.addr
	return r.buf[off : off+uint64(size)]
}

// Stats returns operation counters.
func (n *Node) Stats() Stats {
	return Stats{Reads: n.reads.Load(), Writes: n.writes.Load(), Atomics: n.atomics.Load()}
}

func (n *Node) Read(ctx context.Context, srv uint16, addr uint64, rkey uint32, size int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.reads.Add(1)
	out := make([]byte, size)
	err := n.access(srv, addr, rkey, size, func(b []byte) { copy(out, b) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Node) Write(ctx context.Context, srv uint16, addr uint64, rkey uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.writes.Add(1)
	return n.access(srv, addr, rkey, len(p), func(b []byte) { copy(b, p) })
}

func (n *Node) FetchAdd(ctx context.Context, srv uint16, addr uint64, rkey uint32, delta uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if addr%8 != 0 {
		return 0, transport.ErrUnaligned
	}
	n.atomics.Add(1)
	var prev uint64
	err := n.access(srv, addr, rkey, 8, func(b []byte) {
		prev = binary.LittleEndian.Uint64(b)
		binary.LittleEndian.PutUint64(b, prev+delta)
	})
	return prev, err
}

func (n *Node) CompareAndSwap(ctx context.Context, srv uint16, addr uint64, rkey uint32, cmp, swap uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if addr%8 != 0 {
		return 0, transport.ErrUnaligned
	}
	n.atomics.Add(1)
	var prev uint64
	err := n.access(srv, addr, rkey, 8, func(b []byte) {
		prev = binary.LittleEndian.Uint64(b)
		if prev == cmp {
			binary.LittleEndian.PutUint64(b, swap)
		}
	})
	return prev, err
}

func (n *Node) server(srv uint16) *server {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.servers[srv]
}

// access runs fn on the registered bytes under the server lock, which makes
// every operation, atomics included, linearizable per server.
func (n *Node) access(srv uint16, addr uint64, rkey uint32, size int, fn func([]byte)) error {
	s := n.server(srv)
	if s == nil {
		return transport.AccessError(srv, addr, size, rkey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(addr, size)
	if r == nil || r.rkey != rkey {
		return transport.AccessError(srv, addr, size, rkey)
	}
	off := addr - r.addr
	fn(r.buf[off : off+uint64(size)])
	return nil
}

// find returns the region fully containing [addr, addr+size). s.mu held.
func (s *server) find(addr uint64, size int) *region {
	i := sort.Search(len(s.regions), func(i int) bool { return s.regions[i].addr > addr }) - 1
	if i < 0 || size < 0 {
		return nil
	}
	r := &s.regions[i]
	if addr+uint64(size) > r.addr+uint64(len(r.buf)) {
		return nil
	}
	return r
}

var _ transport.Remote = (*Node)(nil)
