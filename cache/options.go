package cache

import (
	"fmt"
	"time"

	"github.com/go-kit/log"

	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/policy"
	"github.com/IvanBrykalov/featcache/policy/ascending"
)

// DefaultPopulateChunk is the number of ids per store call while populating.
const DefaultPopulateChunk = 4096

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	// Hit and Miss receive per-batch counts of requested node ids.
	Hit(n int)
	Miss(n int)
	// RemoteFetch is called after every successful store call.
	RemoteFetch(field string, rows int, d time.Duration)
	// Populated is called once the cache set is loaded.
	Populated(entries int, bytes int64)
}

// Options configures a Server. Zero values are safe where noted;
// defaults are applied in New():
//   - nil Selector => ascending
//   - nil Metrics  => NoopMetrics
//   - nil Logger   => log.NewNopLogger()
//   - Shards <= 0  => auto (rounded up to power of two)
type Options struct {
	// VNum is the number of nodes; valid ids are [0, VNum). Required.
	VNum int

	// Store is the canonical feature source. Required.
	Store feature.Store

	// Fields, when non-empty, are registered by New as if by InitFields.
	Fields []string

	// Counting enables request/hit/miss accounting and MissRate.
	Counting bool

	// Capacity bounds the number of cached nodes (0 = no entry bound).
	Capacity int
	// MaxBytes bounds the cached payload (0 = no byte bound). The per-node
	// size is learned from the rows seen before populate.
	MaxBytes int64

	// Selector picks the cache set from the observed accesses.
	Selector policy.Selector
	// ObserveBatches is how many leading batches the recorder sees (default 1).
	ObserveBatches int

	// Shards defines the number of table shards. If 0, an automatic value is
	// chosen (≈ 2*GOMAXPROCS) and rounded to the next power of two.
	Shards int

	// FetchTimeout bounds each store call (0 = unbounded).
	FetchTimeout time.Duration
	// FetchRetries is the number of extra attempts after ErrFetchTimeout.
	FetchRetries int
	// PopulateChunk is the number of ids per store call while populating.
	PopulateChunk int

	Metrics Metrics
	Logger  log.Logger
}

func (o *Options) validate() error {
	switch {
	case o.VNum <= 0:
		return fmt.Errorf("%w: VNum must be > 0, got %d", ErrConfiguration, o.VNum)
	case o.Store == nil:
		return fmt.Errorf("%w: Store is required", ErrConfiguration)
	case o.Capacity < 0:
		return fmt.Errorf("%w: Capacity must be >= 0", ErrConfiguration)
	case o.MaxBytes < 0:
		return fmt.Errorf("%w: MaxBytes must be >= 0", ErrConfiguration)
	case o.FetchTimeout < 0:
		return fmt.Errorf("%w: FetchTimeout must be >= 0", ErrConfiguration)
	case o.FetchRetries < 0:
		return fmt.Errorf("%w: FetchRetries must be >= 0", ErrConfiguration)
	}
	return nil
}

func (o *Options) applyDefaults() {
	if o.Selector == nil {
		o.Selector = ascending.New()
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	if o.ObserveBatches <= 0 {
		o.ObserveBatches = 1
	}
	if o.PopulateChunk <= 0 {
		o.PopulateChunk = DefaultPopulateChunk
	}
}
