// Package policy decides which nodes a worker keeps resident.
//
// A Recorder watches the node ids requested during a short bootstrap window
// (by default the very first mini-batch). A Selector turns that Observation
// into a Mask of at most capacity nodes. The cache populates the mask once
// and keeps it fixed for the rest of the run.
package policy

import "github.com/IvanBrykalov/featcache/feature"

// Observation is what a Recorder saw during its window.
type Observation struct {
	// VNum is the size of the id space; masks are sized to it.
	VNum int
	// Counts maps every observed id to the number of times it was requested.
	Counts map[feature.NodeID]uint32
	// Batches is the number of batches recorded.
	Batches int
}

// Distinct returns the number of distinct observed ids.
func (o Observation) Distinct() int { return len(o.Counts) }

// Selector proposes a cache set.
//
// Contract:
//   - deterministic: equal inputs always yield equal masks;
//   - the mask has exactly min(capacity, o.Distinct()) bits set;
//   - only observed ids are selected.
type Selector interface {
	Select(o Observation, capacity int) *Mask
	// Name is a stable identifier used in configuration and logs.
	Name() string
}
