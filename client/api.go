package client

import "context"

// Cache is a key/value cache whose values live in remote memory.
// All methods are safe for concurrent use by multiple goroutines.
type Cache interface {
	// Set inserts or replaces key. It evicts when the allocator is under its
	// watermark, and once more if the pool is exhausted.
	Set(ctx context.Context, key string, value []byte) error

	// Get returns the value for key and a presence flag. On hit the remote
	// metadata is refreshed according to the priority strategy.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Lookup is Get that also reports ghost state on a miss.
	Lookup(ctx context.Context, key string) (Result, error)

	// Delete removes key and returns true if it was resident.
	Delete(ctx context.Context, key string) (bool, error)

	// Len returns the number of resident keys.
	Len() int

	// Close marks the client closed; later calls fail with ErrClosed.
	Close() error
}

// Result describes a Lookup.
type Result struct {
	Value []byte
	Hit   bool

	// Ghost is set on a miss for a key evicted by this client whose slot
	// still carries its ghost word. Fresh reports whether fewer than the
	// history capacity evictions happened since.
	Ghost bool
	Fresh bool
}
