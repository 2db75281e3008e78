package util

import "runtime"

// NextPow2 returns the smallest power of two >= x (1 for x <= 1).
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}

// IndexShards picks the number of key-index shards: n rounded up to a power
// of two, or nextPow2(2*GOMAXPROCS) clamped to [1..256] when n <= 0.
func IndexShards(n int) int {
	if n > 0 {
		return int(NextPow2(uint64(n)))
	}
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	s := int(NextPow2(uint64(p * 2)))
	if s > 256 {
		s = 256
	}
	return s
}

// ShardIndex maps a key hash onto a power-of-two shard count.
func ShardIndex(hash uint64, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(hash & uint64(shards-1))
}
