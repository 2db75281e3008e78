package mm

import "fmt"

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrDuplicateSegment is returned by AddSegment when the base address is
	// already registered. It is a configuration error and must abort startup.
	ErrDuplicateSegment = constError("mm: duplicate remote segment")
	// ErrOversizeRequest is returned by Alloc for requests larger than the block size.
	ErrOversizeRequest = constError("mm: request exceeds block size")
	// ErrOutOfMemory is returned by Alloc when the free pool is empty.
	// Callers run an eviction pass and retry.
	ErrOutOfMemory = constError("mm: out of remote memory")
	// ErrIntegrityViolation is returned by Verify when used+free blocks do not
	// add up to the registered total.
	ErrIntegrityViolation = constError("mm: block accounting mismatch")
	// ErrInvalidConfig is returned by New for unusable sizes.
	ErrInvalidConfig = constError("mm: invalid configuration")
)

func duplicateSegmentError(addr uint64) error {
	return fmt.Errorf("%w: 0x%x", ErrDuplicateSegment, addr)
}

func oversizeError(size, block uint32) error {
	return fmt.Errorf("%w: %d > %d", ErrOversizeRequest, size, block)
}

func integrityError(used, free, total uint64) error {
	return fmt.Errorf("%w: used %d + free %d != total %d", ErrIntegrityViolation, used, free, total)
}
