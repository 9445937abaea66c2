package cache

import (
	"sync"

	"github.com/IvanBrykalov/featcache/feature"
)

// shard is an independent partition of the table with its own lock.
type shard struct {
	mu    sync.RWMutex
	m     map[feature.NodeID]*entry
	bytes int64 // total payload of resident entries
}

func newShard(hint int) *shard {
	return &shard{m: make(map[feature.NodeID]*entry, hint)}
}

// get returns the rows of id. The slice is shared; callers must not modify it.
func (s *shard) get(id feature.NodeID) ([]feature.Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.m[id]
	if !ok {
		return nil, false
	}
	return e.rows, true
}

// put inserts or replaces the entry of id.
func (s *shard) put(id feature.NodeID, rows []feature.Row) {
	e := newEntry(rows)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.m[id]; ok {
		s.bytes -= old.bytes
	}
	s.m[id] = e
	s.bytes += e.bytes
}

func (s *shard) stats() (entries int, bytes int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m), s.bytes
}

func (s *shard) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[feature.NodeID]*entry)
	s.bytes = 0
}

// each calls fn for every entry under the read lock.
func (s *shard) each(fn func(feature.NodeID, []feature.Row)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, e := range s.m {
		fn(id, e.rows)
	}
}
