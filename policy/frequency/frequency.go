// Package frequency implements a frequency-weighted selection: the nodes
// requested most often during the observation window are cached first.
package frequency

import (
	"cmp"
	"slices"

	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/policy"
)

type frequency struct{}

// New returns the frequency selector.
func New() policy.Selector { return frequency{} }

// Name implements policy.Selector.
func (frequency) Name() string { return "frequency" }

type counted struct {
	id feature.NodeID
	n  uint32
}

// Select orders observed ids by descending count, ties by ascending id,
// and keeps the first capacity of them.
func (frequency) Select(o policy.Observation, capacity int) *policy.Mask {
	m := policy.NewMask(o.VNum)
	if capacity <= 0 || len(o.Counts) == 0 {
		return m
	}

	all := make([]counted, 0, len(o.Counts))
	for id, n := range o.Counts {
		if id >= 0 && int64(id) < int64(o.VNum) {
			all = append(all, counted{id: id, n: n})
		}
	}
	slices.SortFunc(all, func(a, b counted) int {
		if c := cmp.Compare(b.n, a.n); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	if len(all) > capacity {
		all = all[:capacity]
	}
	for _, c := range all {
		m.Set(c.id)
	}
	return m
}
