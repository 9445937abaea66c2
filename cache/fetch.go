package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/policy"
)

// fillMisses reads the missing positions of b from the store. Each distinct
// id is requested once per field; fields are fetched concurrently.
func (s *server) fillMisses(ctx context.Context, b *Batch, missing []int) error {
	uniq := make([]feature.NodeID, 0, len(missing))
	slot := make(map[feature.NodeID]int, len(missing))
	for _, pos := range missing {
		id := b.IDs[pos]
		if _, ok := slot[id]; !ok {
			slot[id] = len(uniq)
			uniq = append(uniq, id)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for f, field := range b.Fields {
		g.Go(func() error {
			rows, err := s.getRows(gctx, uniq, field)
			if err != nil {
				return err
			}
			// each goroutine writes only its own field's slice
			for _, pos := range missing {
				b.rows[f][pos] = rows[slot[b.IDs[pos]]]
			}
			return nil
		})
	}
	return g.Wait()
}

// populate loads every id of mask for every field and inserts it into the
// table, overwriting existing entries. Loading the same mask twice leaves
// the table unchanged.
func (s *server) populate(ctx context.Context, mask *policy.Mask, fields []string) error {
	ids := mask.IDs()
	chunk := s.opt.PopulateChunk

	for lo := 0; lo < len(ids); lo += chunk {
		part := ids[lo:min(lo+chunk, len(ids))]
		rows := make([][]feature.Row, len(fields))

		g, gctx := errgroup.WithContext(ctx)
		for f, field := range fields {
			g.Go(func() error {
				r, err := s.getRows(gctx, part, field)
				rows[f] = r
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i, id := range part {
			node := make([]feature.Row, len(fields))
			for f := range fields {
				node[f] = rows[f][i]
			}
			s.table.put(id, node)
		}
	}
	return nil
}

// getRows calls the store, retrying ErrFetchTimeout up to FetchRetries times.
func (s *server) getRows(ctx context.Context, ids []feature.NodeID, field string) ([]feature.Row, error) {
	var err error
	for attempt := 0; attempt <= s.opt.FetchRetries; attempt++ {
		var rows []feature.Row
		rows, err = s.getRowsOnce(ctx, ids, field)
		if err == nil {
			return rows, nil
		}
		if !errors.Is(err, ErrFetchTimeout) || attempt == s.opt.FetchRetries {
			break
		}
		level.Warn(s.log).Log("msg", "feature store timeout, retrying",
			"field", field, "ids", len(ids), "attempt", attempt+1, "retries", s.opt.FetchRetries)
	}
	return nil, err
}

func (s *server) getRowsOnce(ctx context.Context, ids []feature.NodeID, field string) ([]feature.Row, error) {
	cctx, cancel := ctx, context.CancelFunc(func() {})
	if s.opt.FetchTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, s.opt.FetchTimeout)
	}
	defer cancel()

	start := time.Now()
	rows, err := s.opt.Store.GetRows(cctx, ids, field)
	if err != nil {
		// Only our own deadline is a timeout; a cancelled caller is not.
		if ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: field %q, %d ids, after %v", ErrFetchTimeout, field, len(ids), s.opt.FetchTimeout)
		}
		if errors.Is(err, feature.ErrNoField) {
			return nil, fmt.Errorf("%w: store has no field %q: %w", ErrUnknownField, field, err)
		}
		return nil, fmt.Errorf("cache: fetch %q: %w", field, err)
	}
	if len(rows) != len(ids) {
		return nil, fmt.Errorf("%w: field %q: %d rows for %d ids", ErrShortRead, field, len(rows), len(ids))
	}

	s.remoteRows.Add(int64(len(rows)))
	s.opt.Metrics.RemoteFetch(field, len(rows), time.Since(start))
	return rows, nil
}
