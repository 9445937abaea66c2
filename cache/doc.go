// Package cache provides a per-worker feature cache for sampling-based GNN
// training. It sits between a remote feature.Store and the training loop,
// keeps a fixed set of node features resident, and reports a miss rate.
//
// Design
//
//   - Table: node id -> rows of every registered field, split into shards
//     each protected by an RWMutex. Shard count is a power of two chosen
//     from GOMAXPROCS unless Options.Shards is set. A node is cached for all
//     fields or none.
//
//   - Lifecycle: Uninitialized -> InitFields -> FieldsReady -> first Fetch
//     -> Warm -> PopulateOnce -> Populated. The cache set is chosen once,
//     from the accesses recorded during the first ObserveBatches batches,
//     and never changes afterwards. There is no eviction.
//
//   - Fetch: hits come from the table; misses are deduplicated and read from
//     the store with one GetRows call per field, fields in parallel. Misses
//     are never inserted. The result is aligned with the request order and
//     is all-or-nothing.
//
//   - Selection: Options.Selector (policy/ascending by default) picks at most
//     capacity observed ids. Capacity is the smallest of VNum,
//     Options.Capacity and Options.MaxBytes divided by the per-node payload.
//
//   - Store bounds: Options.FetchTimeout bounds every store call and turns an
//     expired deadline into ErrFetchTimeout; Options.FetchRetries retries
//     only that error.
//
//   - Metrics: Options.Metrics receives hit/miss counts, store fetch timings
//     and the populated size. NoopMetrics is the default; metrics/prom
//     exports them to Prometheus.
//
// Basic usage
//
//	srv, err := cache.New(cache.Options{
//	    VNum:     vnum,
//	    Store:    store,
//	    Fields:   []string{"features", "norm"},
//	    Counting: true,
//	})
//	if err != nil { ... }
//	for epoch := 0; epoch < epochs; epoch++ {
//	    for step, ids := range batches {
//	        b, err := srv.Fetch(ctx, ids)
//	        if err != nil { ... } // abort the step
//	        feats, _ := b.Rows("features")
//	        train(feats)
//	        if epoch == 0 && step == 0 {
//	            if _, err := srv.PopulateOnce(ctx); err != nil { ... }
//	        }
//	    }
//	    rate, _ := srv.MissRate()
//	}
//
// Errors
//
// ErrConfiguration, ErrUnknownField and ErrOutOfRange are caller contract
// violations and are never retried. ErrFetchTimeout is transient.
// ErrAlreadyPopulated, ErrNotWarm, ErrCountingDisabled and ErrClosed report
// lifecycle misuse. All are matched with errors.Is.
package cache
