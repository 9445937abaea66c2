// Package trainer drives a cache.Server with sampled batches the way a
// data-parallel training worker would: fetch every step, populate the cache
// once the server's observation window closes, report a miss rate per epoch. There is no model;
// Compute stands in for the forward/backward pass.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/featcache/cache"
	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/internal/sampler"
)

// Bootstrap identifies a worker among WorldSize peers.
type Bootstrap struct {
	Rank      int
	WorldSize int
}

// Validate checks 0 <= Rank < WorldSize.
func (b Bootstrap) Validate() error {
	if b.WorldSize <= 0 || b.Rank < 0 || b.Rank >= b.WorldSize {
		return fmt.Errorf("trainer: invalid bootstrap rank=%d world=%d", b.Rank, b.WorldSize)
	}
	return nil
}

// Partition returns this worker's share of ids: len(ids)/WorldSize
// consecutive ids. The remainder is left out.
func (b Bootstrap) Partition(ids []feature.NodeID) []feature.NodeID {
	if b.Validate() != nil {
		return nil
	}
	chunk := len(ids) / b.WorldSize
	return ids[b.Rank*chunk : (b.Rank+1)*chunk]
}

// Config configures a Trainer.
type Config struct {
	Bootstrap Bootstrap
	Epochs    int
	// ResetCounters restarts the server counters at every epoch so the
	// reported miss rate is per epoch.
	ResetCounters bool
	// Prefetch is the number of batches fetched ahead (0 = synchronous).
	Prefetch int
	// Compute is called with every fetched batch.
	Compute func(ctx context.Context, b *cache.Batch) error
	Logger  log.Logger
}

// EpochStats summarises one epoch.
type EpochStats struct {
	Epoch    int           `json:"epoch"`
	Steps    int           `json:"steps"`
	Nodes    int           `json:"nodes"`
	Hits     int           `json:"hits"`
	Misses   int           `json:"misses"`
	MissRate float64       `json:"miss_rate"`
	Duration time.Duration `json:"duration"`
}

// Trainer runs epochs of a sampler against a server.
type Trainer struct {
	srv     cache.Server
	sampler *sampler.NeighborSampler
	cfg     Config
	log     log.Logger
}

// New returns a Trainer. It fails on an invalid Bootstrap.
func New(srv cache.Server, s *sampler.NeighborSampler, cfg Config) (*Trainer, error) {
	if err := cfg.Bootstrap.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	return &Trainer{
		srv:     srv,
		sampler: s,
		cfg:     cfg,
		log:     log.With(cfg.Logger, "rank", cfg.Bootstrap.Rank),
	}, nil
}

// Run executes cfg.Epochs epochs and returns their stats.
func (t *Trainer) Run(ctx context.Context) ([]EpochStats, error) {
	out := make([]EpochStats, 0, t.cfg.Epochs)
	for e := 0; e < t.cfg.Epochs; e++ {
		st, err := t.runEpoch(ctx, e)
		if err != nil {
			return out, fmt.Errorf("trainer: epoch %d: %w", e, err)
		}
		out = append(out, st)
		level.Info(t.log).Log(
			"msg", "epoch done",
			"epoch", e,
			"steps", st.Steps,
			"miss_rate", fmt.Sprintf("%.4f", st.MissRate),
			"took", st.Duration,
		)
	}
	return out, nil
}

func (t *Trainer) runEpoch(ctx context.Context, e int) (EpochStats, error) {
	st := EpochStats{Epoch: e}
	start := time.Now()
	if t.cfg.ResetCounters {
		t.srv.ResetCounters()
	}

	next, stop := iter.Pull(t.sampler.Epoch(e))
	defer stop()

	// Steps run synchronously while the server is still recording, so the
	// cache is populated before any later batch is fetched.
	if t.srv.State() != cache.StatePopulated {
		for t.srv.Observing() {
			ids, ok := next()
			if !ok {
				break
			}
			if err := t.step(ctx, ids, &st); err != nil {
				return st, err
			}
		}
		_, err := t.srv.PopulateOnce(ctx)
		switch {
		case errors.Is(err, cache.ErrNotWarm):
			// Only empty batches so far; the next epoch tries again.
			level.Warn(t.log).Log("msg", "nothing observed, cache not populated", "epoch", e)
		case err != nil && !errors.Is(err, cache.ErrAlreadyPopulated):
			return st, err
		}
	}

	var err error
	if t.cfg.Prefetch > 0 {
		err = t.prefetched(ctx, next, &st)
	} else {
		for ids, ok := next(); ok; ids, ok = next() {
			if err = t.step(ctx, ids, &st); err != nil {
				break
			}
		}
	}
	if err != nil {
		return st, err
	}

	st.Duration = time.Since(start)
	st.MissRate = t.missRate(st)
	return st, nil
}

func (t *Trainer) step(ctx context.Context, ids []feature.NodeID, st *EpochStats) error {
	b, err := t.srv.Fetch(ctx, ids)
	if err != nil {
		return err
	}
	return t.consume(ctx, b, st)
}

func (t *Trainer) consume(ctx context.Context, b *cache.Batch, st *EpochStats) error {
	st.Steps++
	st.Nodes += b.Len()
	st.Hits += b.Hits
	st.Misses += b.Misses
	if st.Steps%20 == 0 {
		level.Debug(t.log).Log("msg", "step", "epoch", st.Epoch, "step", st.Steps, "batch_miss_rate", b.MissRate())
	}
	if t.cfg.Compute != nil {
		return t.cfg.Compute(ctx, b)
	}
	return nil
}

func (t *Trainer) prefetched(ctx context.Context, next func() ([]feature.NodeID, bool), st *EpochStats) error {
	in := make(chan []feature.NodeID)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(in)
		for ids, ok := next(); ok; ids, ok = next() {
			select {
			case in <- ids:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	out, wait := cache.Prefetch(gctx, t.srv, in, t.cfg.Prefetch)
	g.Go(func() error {
		for b := range out {
			if err := t.consume(gctx, b, st); err != nil {
				return err
			}
		}
		return wait()
	})
	return g.Wait()
}

// missRate prefers the server's counters and falls back to the batch
// totals when counting is disabled.
func (t *Trainer) missRate(st EpochStats) float64 {
	if r, err := t.srv.MissRate(); err == nil {
		return r
	}
	if st.Nodes == 0 {
		return 0
	}
	return float64(st.Misses) / float64(st.Nodes)
}
