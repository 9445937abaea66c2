// Package memstore is an in-memory feature.Store with optional simulated
// latency, used for tests, examples and benchmarks.
package memstore

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/featcache/feature"
)

// Options configures a Store.
type Options struct {
	// Latency is added to every call, simulating a remote store.
	// Calls honour ctx while waiting.
	Latency time.Duration
}

// Store keeps one dense row slice per field. Safe for concurrent use.
type Store struct {
	opt  Options
	vnum int

	mu     sync.RWMutex
	fields map[string][]feature.Row

	calls atomic.Int64
	rows  atomic.Int64
}

// New returns an empty store over [0, vnum).
func New(vnum int, opt Options) *Store {
	return &Store{opt: opt, vnum: vnum, fields: make(map[string][]feature.Row)}
}

// Synthetic returns a store with one field per entry of dims (name -> row
// width), filled with reproducible pseudo-random values.
func Synthetic(vnum int, dims map[string]int, seed int64, opt Options) *Store {
	s := New(vnum, opt)
	names := make([]string, 0, len(dims))
	for name := range dims {
		names = append(names, name)
	}
	slices.Sort(names) // stable fill order -> same seed, same values

	r := rand.New(rand.NewSource(seed))
	for _, name := range names {
		rows := make([]feature.Row, vnum)
		for i := range rows {
			row := make(feature.Row, dims[name])
			for j := range row {
				row[j] = r.Float32()
			}
			rows[i] = row
		}
		s.fields[name] = rows
	}
	return s
}

// SetField installs rows for name; len(rows) must equal vnum.
func (s *Store) SetField(name string, rows []feature.Row) error {
	if len(rows) != s.vnum {
		return fmt.Errorf("memstore: field %q has %d rows, want %d", name, len(rows), s.vnum)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[name] = rows
	return nil
}

// Fields returns the field names in ascending order.
func (s *Store) Fields() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.fields))
	for name := range s.fields {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// VNum returns the size of the id space.
func (s *Store) VNum() int { return s.vnum }

// Calls returns the number of GetRow/GetRows calls served.
func (s *Store) Calls() int64 { return s.calls.Load() }

// RowsServed returns the total number of rows returned.
func (s *Store) RowsServed() int64 { return s.rows.Load() }

// GetRow implements feature.Store.
func (s *Store) GetRow(ctx context.Context, id feature.NodeID, field string) (feature.Row, error) {
	rows, err := s.GetRows(ctx, []feature.NodeID{id}, field)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// GetRows implements feature.Store.
func (s *Store) GetRows(ctx context.Context, ids []feature.NodeID, field string) ([]feature.Row, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.calls.Add(1)

	s.mu.RLock()
	data, ok := s.fields[field]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", feature.ErrNoField, field)
	}

	out := make([]feature.Row, len(ids))
	for i, id := range ids {
		if id < 0 || int64(id) >= int64(len(data)) {
			return nil, fmt.Errorf("%w: %d in %q", feature.ErrNoRow, id, field)
		}
		out[i] = data[id]
	}
	s.rows.Add(int64(len(out)))
	return out, nil
}

func (s *Store) wait(ctx context.Context) error {
	if s.opt.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.opt.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ feature.Store = (*Store)(nil)
