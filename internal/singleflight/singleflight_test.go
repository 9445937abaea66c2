package singleflight

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func followers[K comparable, V any](g *Group[K, V], key K) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.m[key]; ok {
		return c.dups
	}
	return 0
}

// Concurrent callers for one key share a single execution.
func TestGroup_Coalesces(t *testing.T) {
	var g Group[string, int]
	var calls atomic.Int64
	release := make(chan struct{})

	const n = 32
	var wg sync.WaitGroup
	results := make([]int, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err, _ := g.Do(context.Background(), "k", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Let everyone pile up behind the leader.
	for followers(&g, "k") != n-1 {
		time.Sleep(time.Millisecond)
	}
	require.True(t, g.InFlight("k"))
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for i, v := range results {
		require.Equalf(t, 42, v, "caller %d", i)
	}
	require.False(t, g.InFlight("k"), "key must be released after the call")
}

// A cancelled follower returns early; the leader still completes.
func TestGroup_FollowerCancel(t *testing.T) {
	var g Group[int, string]
	release := make(chan struct{})
	leaderDone := make(chan error, 1)

	go func() {
		_, err, _ := g.Do(context.Background(), 1, func(context.Context) (string, error) {
			<-release
			return "ok", nil
		})
		leaderDone <- err
	}()
	for !g.InFlight(1) {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err, shared := g.Do(ctx, 1, func(context.Context) (string, error) {
		t.Error("follower must not run fn")
		return "", nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, shared)

	close(release)
	require.NoError(t, <-leaderDone)
}

// Sequential calls each run fn.
func TestGroup_Sequential(t *testing.T) {
	t.Parallel()

	var g Group[int, int]
	for i := 0; i < 3; i++ {
		v, err, shared := g.Do(context.Background(), 0, func(context.Context) (int, error) { return i, nil })
		require.NoError(t, err)
		require.Equal(t, i, v)
		require.False(t, shared)
	}
}
