package cache

import (
	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/internal/util"
)

// table is the local cache table: node id -> rows of every registered field,
// split over a power-of-two number of shards.
type table struct {
	shards []*shard
}

func newTable(shards, vnum int) *table {
	n := util.ShardCount(shards, vnum)
	t := &table{shards: make([]*shard, n)}
	hint := min(vnum/n+1, 1024)
	for i := range t.shards {
		t.shards[i] = newShard(hint)
	}
	return t
}

func (t *table) shardFor(id feature.NodeID) *shard {
	return t.shards[util.ShardIndex(util.HashNode(id), len(t.shards))]
}

func (t *table) get(id feature.NodeID) ([]feature.Row, bool) {
	return t.shardFor(id).get(id)
}

func (t *table) put(id feature.NodeID, rows []feature.Row) {
	t.shardFor(id).put(id, rows)
}

// stats returns the number of entries and the payload across all shards.
func (t *table) stats() (entries int, bytes int64) {
	for _, s := range t.shards {
		n, b := s.stats()
		entries += n
		bytes += b
	}
	return entries, bytes
}

func (t *table) reset() {
	for _, s := range t.shards {
		s.reset()
	}
}

// snapshot copies the table into a plain map; used to compare tables.
func (t *table) snapshot() map[feature.NodeID][]feature.Row {
	out := make(map[feature.NodeID][]feature.Row)
	for _, s := range t.shards {
		s.each(func(id feature.NodeID, rows []feature.Row) {
			cp := make([]feature.Row, len(rows))
			copy(cp, rows)
			out[id] = cp
		})
	}
	return out
}
