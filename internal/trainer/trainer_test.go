package trainer

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/featcache/cache"
	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/internal/sampler"
	"github.com/IvanBrykalov/featcache/store/memstore"
)

const vnum = 2000

func seq(n int) []feature.NodeID {
	out := make([]feature.NodeID, n)
	for i := range out {
		out[i] = feature.NodeID(i)
	}
	return out
}

func setup(t *testing.T, counting bool, opts ...func(*cache.Options)) (cache.Server, *sampler.NeighborSampler) {
	t.Helper()

	g, err := sampler.RandomGraph(vnum, 8, 1.3, 1)
	require.NoError(t, err)
	boot := Bootstrap{Rank: 1, WorldSize: 4}
	s := &sampler.NeighborSampler{
		Graph:     g,
		Seeds:     boot.Partition(seq(vnum)),
		BatchSize: 50,
		Fanout:    4,
		Hops:      2,
		Shuffle:   true,
		Seed:      2,
	}

	opt := cache.Options{
		VNum:     vnum,
		Store:    memstore.Synthetic(vnum, map[string]int{"features": 8}, 1, memstore.Options{}),
		Fields:   []string{"features"},
		Counting: counting,
		Capacity: vnum / 4,
	}
	for _, o := range opts {
		o(&opt)
	}
	srv, err := cache.New(opt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv, s
}

func TestPartition(t *testing.T) {
	ids := seq(10)
	require.Equal(t, seq(3), Bootstrap{Rank: 0, WorldSize: 3}.Partition(ids))
	require.Equal(t, []feature.NodeID{6, 7, 8}, Bootstrap{Rank: 2, WorldSize: 3}.Partition(ids))
	require.Nil(t, Bootstrap{Rank: 3, WorldSize: 3}.Partition(ids))

	require.Error(t, Bootstrap{Rank: -1, WorldSize: 2}.Validate())
	require.Error(t, Bootstrap{}.Validate())
	require.NoError(t, Bootstrap{Rank: 0, WorldSize: 1}.Validate())
}

func TestRun(t *testing.T) {
	for _, prefetch := range []int{0, 3} {
		srv, s := setup(t, true)

		var computed int
		tr, err := New(srv, s, Config{
			Bootstrap:     Bootstrap{Rank: 1, WorldSize: 4},
			Epochs:        3,
			ResetCounters: true,
			Prefetch:      prefetch,
			Compute: func(context.Context, *cache.Batch) error {
				computed++
				return nil
			},
		})
		require.NoError(t, err)

		stats, err := tr.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, stats, 3)
		require.Equal(t, cache.StatePopulated, srv.State())
		require.Equal(t, 3*s.Steps(), computed, "prefetch=%d", prefetch)

		for e, st := range stats {
			require.Equal(t, e, st.Epoch)
			require.Equal(t, s.Steps(), st.Steps)
			require.Equal(t, st.Nodes, st.Hits+st.Misses)
			require.GreaterOrEqual(t, st.MissRate, 0.0)
			require.LessOrEqual(t, st.MissRate, 1.0)
		}
		// later epochs are served by the populated cache
		require.Positive(t, stats[1].Hits)
		require.Equal(t, float64(stats[2].Misses)/float64(stats[2].Nodes), stats[2].MissRate)
	}
}

// The cache set is chosen from every batch in the observation window,
// not just the first one.
func TestRun_ObserveBatches(t *testing.T) {
	srv, s := setup(t, true, func(o *cache.Options) {
		o.ObserveBatches = 3
		o.Capacity = 0
	})

	var seen [][]feature.NodeID
	tr, err := New(srv, s, Config{
		Bootstrap: Bootstrap{Rank: 1, WorldSize: 4},
		Epochs:    1,
		Compute: func(_ context.Context, b *cache.Batch) error {
			seen = append(seen, slices.Clone(b.IDs))
			return nil
		},
	})
	require.NoError(t, err)
	_, err = tr.Run(context.Background())
	require.NoError(t, err)
	require.Greater(t, len(seen), 3)

	union := map[feature.NodeID]bool{}
	for _, id := range seen[0] {
		union[id] = true
	}
	var later []feature.NodeID
	for _, b := range seen[1:3] {
		for _, id := range b {
			if !union[id] {
				later = append(later, id)
			}
			union[id] = true
		}
	}
	require.NotEmpty(t, later, "batches 2-3 must add ids")

	mask := srv.Mask()
	require.NotNil(t, mask)
	require.Equal(t, len(union), mask.Count())
	for _, id := range later {
		require.Truef(t, mask.Has(id), "id %d from batches 2-3 not cached", id)
	}
}

func TestRun_CountingDisabled(t *testing.T) {
	srv, s := setup(t, false)
	tr, err := New(srv, s, Config{Bootstrap: Bootstrap{WorldSize: 1}, Epochs: 1})
	require.NoError(t, err)

	stats, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, float64(stats[0].Misses)/float64(stats[0].Nodes), stats[0].MissRate)
}

func TestRun_ComputeError(t *testing.T) {
	boom := errors.New("boom")
	for _, prefetch := range []int{0, 2} {
		srv, s := setup(t, true)
		steps := 0
		tr, err := New(srv, s, Config{
			Bootstrap: Bootstrap{WorldSize: 1},
			Epochs:    2,
			Prefetch:  prefetch,
			Compute: func(context.Context, *cache.Batch) error {
				steps++
				if steps == 3 {
					return boom
				}
				return nil
			},
		})
		require.NoError(t, err)

		stats, err := tr.Run(context.Background())
		require.ErrorIs(t, err, boom)
		require.Empty(t, stats)
	}
}

func TestRun_Cancelled(t *testing.T) {
	srv, s := setup(t, true)
	tr, err := New(srv, s, Config{Bootstrap: Bootstrap{WorldSize: 1}, Epochs: 1, Prefetch: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNew_InvalidBootstrap(t *testing.T) {
	srv, s := setup(t, true)
	_, err := New(srv, s, Config{Bootstrap: Bootstrap{Rank: 2, WorldSize: 2}})
	require.Error(t, err)
}
