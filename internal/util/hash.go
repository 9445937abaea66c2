// Package util contains internal helpers (hashing, sharding, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/IvanBrykalov/featcache/feature"
)

// HashNode spreads node ids over shards. Ids are dense, so consecutive ids
// hashed through xxhash land on unrelated shards instead of striding.
func HashNode(id feature.NodeID) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return xxhash.Sum64(b[:])
}
