package dmcfx

import (
	"fmt"

	"github.com/IvanBrykalov/dmcache/history"
	"github.com/IvanBrykalov/dmcache/mm"
	"github.com/IvanBrykalov/dmcache/transport/memnode"
)

// InMemory registers the memory described by cfg on node: segmentsPerServer
// segments on each of servers servers, the slot table and the history
// counter on server 0. It returns cfg with the remote coordinates filled in.
// Zero sizes take the mm defaults. A zero table gets four slots per block
// and a zero window one eviction per block.
func InMemory(node *memnode.Node, cfg Config, servers, segmentsPerServer int) (Config, error) {
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = mm.DefaultSegmentSize
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = mm.DefaultBlockSize
	}
	if servers < 1 || segmentsPerServer < 1 {
		return Config{}, fmt.Errorf("%w: need at least one server and segment", mm.ErrInvalidConfig)
	}

	cfg.Segments = cfg.Segments[:0:0]
	for s := 0; s < servers; s++ {
		for i := 0; i < segmentsPerServer; i++ {
			addr, rkey := node.Register(uint16(s), int(cfg.SegmentSize))
			cfg.Segments = append(cfg.Segments, mm.RemoteSegment{Addr: addr, RKey: rkey, Server: uint16(s)})
		}
	}

	blocks := uint32(servers*segmentsPerServer) * (cfg.SegmentSize / cfg.BlockSize)
	if cfg.Table.Slots == 0 {
		cfg.Table.Slots = 4 * blocks
	}
	cfg.Table.Server = 0
	cfg.Table.Addr, cfg.Table.RKey = node.Register(0, int(cfg.Table.Slots)*8)

	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = blocks
	}
	cfg.HistoryServer = 0
	cfg.HistoryAddr, cfg.HistoryRKey = node.Register(0, history.CounterSize)
	local := node.Local(0, cfg.HistoryAddr, history.CounterSize)
	if _, err := history.New(cfg.HistoryWindow, cfg.HistoryAddr, history.RoleServer, local); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
