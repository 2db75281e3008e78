package priority

import (
	"fmt"
	"strings"
)

// Kind identifies a priority strategy.
type Kind uint8

const (
	// None ranks slots at random.
	None Kind = iota
	LRU
	LFU
	GDSF
	GDS
	LIRS
	LRFU
	FIFO
	LFUDA
	LRUK
	SIZE
	MRU
	Hyperbolic
)

var kindNames = [...]string{
	None:       "none",
	LRU:        "lru",
	LFU:        "lfu",
	GDSF:       "gdsf",
	GDS:        "gds",
	LIRS:       "lirs",
	LRFU:       "lrfu",
	FIFO:       "fifo",
	LFUDA:      "lfuda",
	LRUK:       "lruk",
	SIZE:       "size",
	MRU:        "mru",
	Hyperbolic: "hyperbolic",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Kinds lists every known strategy in identifier order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

// ParseKind maps a strategy name (case-insensitive, "dumb" and "lru-k"
// accepted as aliases) to its Kind.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "dumb":
		return None, nil
	case "lru-k", "lru2":
		return LRUK, nil
	}
	for i, s := range kindNames {
		if s == n {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}
