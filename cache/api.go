package cache

import (
	"context"

	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/policy"
)

// Server is a per-worker feature cache in front of a feature.Store.
// All methods are safe for concurrent use by multiple goroutines, although
// a training loop normally drives it from a single goroutine.
//
// Lifecycle: Uninitialized -> InitFields -> FieldsReady -> first Fetch ->
// Warm -> PopulateOnce -> Populated. Close moves any state to Closed.
type Server interface {
	// InitFields registers the feature fields served by Fetch.
	// It may succeed only once; the set must be non-empty and duplicate-free.
	InitFields(names ...string) error

	// Fetch returns the rows of every registered field for ids, aligned with
	// the input order. Cached nodes are served locally; the rest are read
	// from the store and are not inserted into the cache.
	// Either the whole batch is returned or an error is. An empty ids slice
	// succeeds but is neither recorded nor moves the server to Warm.
	Fetch(ctx context.Context, ids []feature.NodeID) (*Batch, error)

	// PopulateOnce selects the cache set from the observed accesses and
	// loads it. Valid once, from the Warm state; later calls return
	// ErrAlreadyPopulated. Concurrent calls share one populate.
	PopulateOnce(ctx context.Context) (*policy.Mask, error)

	// MissRate returns misses/requests since counting began, 0 when nothing
	// was counted yet. Counters restart when PopulateOnce succeeds and on
	// ResetCounters.
	// Returns ErrCountingDisabled when Options.Counting is false.
	MissRate() (float64, error)

	// ResetCounters zeroes the request/hit/miss counters.
	ResetCounters()

	// Stats returns a point-in-time snapshot of counters and table size.
	Stats() Stats

	// Observing reports whether Fetch still records batches for PopulateOnce,
	// i.e. fewer than Options.ObserveBatches non-empty batches were seen.
	Observing() bool

	// State returns the current lifecycle state.
	State() State

	// Mask returns the populated cache set, or nil before PopulateOnce.
	Mask() *policy.Mask

	// Fields returns the registered field names in registration order.
	Fields() []string

	// Close releases the table. Later calls return ErrClosed.
	Close() error
}

// Stats is a snapshot of a Server.
type Stats struct {
	Requests   int64 // requested node ids counted
	Hits       int64
	Misses     int64
	RemoteRows int64 // rows read from the store, all fields, populate included
	Entries    int   // cached nodes
	Bytes      int64 // cached payload
	State      State
}
