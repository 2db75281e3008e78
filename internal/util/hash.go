// Package util contains internal helpers (key hashing, index sharding, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

const (
	fnvOffset64 = 1469598103934665603
	fnvPrime64  = 1099511628211
)

// HashKey hashes a cache key with 64-bit FNV-1a.
func HashKey(key string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= fnvPrime64
	}
	return h
}

// Fingerprint folds a key hash into the 8-bit tag stored in a remote slot
// word. Zero is reserved for empty slots, so it maps to 1.
func Fingerprint(h uint64) uint8 {
	fp := uint8(h>>56) ^ uint8(h>>24) ^ uint8(h)
	if fp == 0 {
		return 1
	}
	return fp
}
