package util

import "runtime"

// maxShards caps the automatic shard count.
const maxShards = 256

// ShardCount resolves a requested shard count: values <= 0 pick a default of
// 2*GOMAXPROCS; the result is always a power of two in [1, maxShards].
// A cap above the number of nodes is pointless, so limit bounds it too
// (limit <= 0 means unbounded).
func ShardCount(requested, limit int) int {
	n := requested
	if n <= 0 {
		n = 2 * runtime.GOMAXPROCS(0)
	}
	if limit > 0 && n > limit {
		n = limit
	}
	if n > maxShards {
		n = maxShards
	}
	return int(NextPow2(uint64(max(n, 1))))
}

// ShardIndex maps a hash to a shard index; shards must be a power of two.
func ShardIndex(hash uint64, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(hash & uint64(shards-1))
}

// NextPow2 returns the smallest power of two >= x, with NextPow2(0) == 1.
// Results that would overflow are clamped to 1<<63.
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
