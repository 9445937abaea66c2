package cache

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/featcache/feature"
)

// Prefetch fetches batches ahead of the consumer so store latency overlaps
// with compute. Up to depth fetched batches are buffered (depth < 1 means 1).
//
// Batches are delivered in input order on the returned channel, which is
// closed when batches is drained, ctx is done, or a fetch fails. wait
// returns the first error (nil on a clean drain) and must be called once
// the channel is closed.
//
// Batches fetched ahead of a PopulateOnce call are served without the
// populated set and count as misses.
func Prefetch(ctx context.Context, srv Server, batches <-chan []feature.NodeID, depth int) (<-chan *Batch, func() error) {
	if depth < 1 {
		depth = 1
	}
	out := make(chan *Batch, depth)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(out)
		for {
			var ids []feature.NodeID
			var ok bool
			select {
			case ids, ok = <-batches:
				if !ok {
					return nil
				}
			case <-gctx.Done():
				return gctx.Err()
			}

			b, err := srv.Fetch(gctx, ids)
			if err != nil {
				return err
			}
			select {
			case out <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	return out, g.Wait
}
