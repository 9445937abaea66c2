package cache

import "github.com/IvanBrykalov/featcache/feature"

// entry holds every registered field of one cached node; rows[i] belongs to
// the i-th registered field. A node is cached for all fields or none.
type entry struct {
	rows  []feature.Row
	bytes int64
}

func newEntry(rows []feature.Row) *entry {
	e := &entry{rows: rows}
	for _, r := range rows {
		e.bytes += r.Bytes()
	}
	return e
}
