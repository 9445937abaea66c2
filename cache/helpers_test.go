package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/store/memstore"
)

// idStore returns a store whose rows encode their node id and field index:
// field i of node n is {n, i} padded to width.
func idStore(t testing.TB, vnum, width int, fields ...string) *memstore.Store {
	t.Helper()

	s := memstore.New(vnum, memstore.Options{})
	for fi, name := range fields {
		rows := make([]feature.Row, vnum)
		for n := range rows {
			row := make(feature.Row, max(width, 2))
			row[0], row[1] = float32(n), float32(fi)
			rows[n] = row
		}
		require.NoError(t, s.SetField(name, rows))
	}
	return s
}

// requireAligned checks every row of b belongs to the id at its position.
func requireAligned(t testing.TB, b *Batch) {
	t.Helper()

	for fi, field := range b.Fields {
		rows, err := b.Rows(field)
		require.NoError(t, err)
		require.Len(t, rows, len(b.IDs))
		for i, id := range b.IDs {
			require.Equalf(t, float32(id), rows[i][0], "field %q position %d", field, i)
			require.Equalf(t, float32(fi), rows[i][1], "field %q position %d", field, i)
		}
	}
}

func newServer(t testing.TB, opt Options) Server {
	t.Helper()

	s, err := New(opt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ids(v ...int) []feature.NodeID {
	out := make([]feature.NodeID, len(v))
	for i, x := range v {
		out[i] = feature.NodeID(x)
	}
	return out
}

// flakyStore wraps a store with failure injection.
type flakyStore struct {
	inner feature.Store

	mu     sync.Mutex
	stalls int           // the next stalls calls block until ctx is done
	fail   error         // returned by every call while set
	short  bool          // drop the last row
	calls  int
	delay  time.Duration
	holds  int // the next holds calls wait for gate to close
	gate   chan struct{}
}

func (f *flakyStore) GetRow(ctx context.Context, id feature.NodeID, field string) (feature.Row, error) {
	rows, err := f.GetRows(ctx, []feature.NodeID{id}, field)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (f *flakyStore) GetRows(ctx context.Context, ids []feature.NodeID, field string) ([]feature.Row, error) {
	f.mu.Lock()
	f.calls++
	stall := f.stalls > 0
	if stall {
		f.stalls--
	}
	hold := f.holds > 0
	if hold {
		f.holds--
	}
	fail, short, delay, gate := f.fail, f.short, f.delay, f.gate
	f.mu.Unlock()

	if hold {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail != nil {
		return nil, fail
	}
	rows, err := f.inner.GetRows(ctx, ids, field)
	if err != nil {
		return nil, err
	}
	if short && len(rows) > 0 {
		rows = rows[:len(rows)-1]
	}
	return rows, nil
}

func (f *flakyStore) set(fn func(*flakyStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *flakyStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recMetrics records Metrics calls.
type recMetrics struct {
	mu             sync.Mutex
	hits, misses   int
	remoteRows     map[string]int
	populated      int
	populatedBytes int64
}

func (m *recMetrics) Hit(n int)  { m.mu.Lock(); m.hits += n; m.mu.Unlock() }
func (m *recMetrics) Miss(n int) { m.mu.Lock(); m.misses += n; m.mu.Unlock() }
func (m *recMetrics) RemoteFetch(field string, rows int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remoteRows == nil {
		m.remoteRows = map[string]int{}
	}
	m.remoteRows[field] += rows
}
func (m *recMetrics) Populated(entries int, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.populated, m.populatedBytes = entries, bytes
}

func memstoreWithWidths(t testing.TB, vnum int, dims map[string]int) *memstore.Store {
	t.Helper()
	return memstore.Synthetic(vnum, dims, 1, memstore.Options{})
}
