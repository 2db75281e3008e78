package mm

import "fmt"

// RemoteSegment is a contiguous RDMA-registered region on one memory server.
// Segments are immutable once added to an Allocator.
type RemoteSegment struct {
	Addr   uint64
	RKey   uint32
	Server uint16
}

// RemoteBlock is the unit of allocation carved out of a segment.
// A block is either in the allocator's free pool or owned by the caller
// that allocated it.
type RemoteBlock struct {
	Addr   uint64
	RKey   uint32
	Size   uint32
	Server uint16
}

func (b RemoteBlock) String() string {
	return fmt.Sprintf("rb@%d:0x%x/%d", b.Server, b.Addr, b.Size)
}

// blockID identifies a block across servers; addresses are only unique per server.
type blockID struct {
	server uint16
	addr   uint64
}

func (b RemoteBlock) id() blockID { return blockID{server: b.Server, addr: b.Addr} }
