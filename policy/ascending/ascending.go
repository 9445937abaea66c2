// Package ascending implements the default, frequency-agnostic selection:
// keep the smallest observed node ids up to capacity.
package ascending

import (
	"slices"

	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/policy"
)

type ascending struct{}

// New returns the ascending selector.
func New() policy.Selector { return ascending{} }

// Name implements policy.Selector.
func (ascending) Name() string { return "ascending" }

// Select collapses duplicates and keeps the first capacity ids in ascending order.
func (ascending) Select(o policy.Observation, capacity int) *policy.Mask {
	m := policy.NewMask(o.VNum)
	if capacity <= 0 || len(o.Counts) == 0 {
		return m
	}

	ids := make([]feature.NodeID, 0, len(o.Counts))
	for id := range o.Counts {
		if id >= 0 && int64(id) < int64(o.VNum) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > capacity {
		ids = ids[:capacity]
	}
	for _, id := range ids {
		m.Set(id)
	}
	return m
}
