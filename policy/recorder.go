package policy

import (
	"sync"

	"github.com/IvanBrykalov/featcache/feature"
)

// Recorder counts node accesses over the first window batches.
// Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	vnum    int
	window  int
	batches int
	counts  map[feature.NodeID]uint32
}

// NewRecorder returns a recorder over [0, vnum) that observes the first
// window batches. window <= 0 means 1.
func NewRecorder(vnum, window int) *Recorder {
	if window <= 0 {
		window = 1
	}
	return &Recorder{
		vnum:   vnum,
		window: window,
		counts: make(map[feature.NodeID]uint32),
	}
}

// Observe records one batch. It returns false (and records nothing) once the
// window is closed or when ids is empty; an empty batch does not use up the
// window.
func (r *Recorder) Observe(ids []feature.NodeID) bool {
	if len(ids) == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.batches >= r.window {
		return false
	}
	for _, id := range ids {
		r.counts[id]++
	}
	r.batches++
	return true
}

// Batches returns the number of batches recorded so far.
func (r *Recorder) Batches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches
}

// Done reports whether the window is closed.
func (r *Recorder) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches >= r.window
}

// Observation returns a copy of what was recorded.
func (r *Recorder) Observation() Observation {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[feature.NodeID]uint32, len(r.counts))
	for id, n := range r.counts {
		counts[id] = n
	}
	return Observation{VNum: r.vnum, Counts: counts, Batches: r.batches}
}
