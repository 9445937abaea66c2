// Package sampler produces synthetic mini-batches of node ids: a random
// graph with a skewed degree distribution and a fanout neighbour sampler
// over it. It only exists to drive the cache with realistic access patterns.
package sampler

import (
	"fmt"
	"iter"
	"math/rand"

	"github.com/IvanBrykalov/featcache/feature"
)

// Graph is an adjacency list in CSR form: the neighbours of node i are
// Neighbors[Offsets[i]:Offsets[i+1]].
type Graph struct {
	Offsets   []int
	Neighbors []feature.NodeID
}

// RandomGraph builds a graph of vnum nodes with degree neighbours each.
// Neighbours are drawn from a Zipf(skew) distribution so low ids are hot;
// skew must be > 1.
func RandomGraph(vnum, degree int, skew float64, seed int64) (*Graph, error) {
	if vnum <= 0 || degree < 0 {
		return nil, fmt.Errorf("sampler: invalid graph size vnum=%d degree=%d", vnum, degree)
	}
	if skew <= 1 {
		return nil, fmt.Errorf("sampler: zipf skew must be > 1, got %v", skew)
	}

	r := rand.New(rand.NewSource(seed))
	z := rand.NewZipf(r, skew, 1, uint64(vnum-1))

	g := &Graph{
		Offsets:   make([]int, vnum+1),
		Neighbors: make([]feature.NodeID, 0, vnum*degree),
	}
	for i := 0; i < vnum; i++ {
		g.Offsets[i] = len(g.Neighbors)
		for j := 0; j < degree; j++ {
			g.Neighbors = append(g.Neighbors, feature.NodeID(z.Uint64()))
		}
	}
	g.Offsets[vnum] = len(g.Neighbors)
	return g, nil
}

// VNum returns the number of nodes.
func (g *Graph) VNum() int { return len(g.Offsets) - 1 }

// Adj returns the neighbours of id. The slice aliases the graph.
func (g *Graph) Adj(id feature.NodeID) []feature.NodeID {
	return g.Neighbors[g.Offsets[id]:g.Offsets[id+1]]
}

// NeighborSampler yields, per step, the input node set of a Hops-layer
// fanout sample rooted at BatchSize seed nodes.
type NeighborSampler struct {
	Graph *Graph
	// Seeds are the training nodes of this worker.
	Seeds     []feature.NodeID
	BatchSize int
	// Fanout is the number of neighbours drawn per node and hop.
	Fanout  int
	Hops    int
	Shuffle bool
	Seed    int64
}

// Steps returns the number of batches per epoch.
func (s *NeighborSampler) Steps() int {
	if s.BatchSize <= 0 {
		return 0
	}
	return (len(s.Seeds) + s.BatchSize - 1) / s.BatchSize
}

// Epoch returns the batches of epoch e. Each batch lists every sampled node
// once, seeds first, then each hop's new nodes in the order they were drawn.
// The same (Seed, e) always yields the same batches.
func (s *NeighborSampler) Epoch(e int) iter.Seq[[]feature.NodeID] {
	return func(yield func([]feature.NodeID) bool) {
		if s.BatchSize <= 0 {
			return
		}
		r := rand.New(rand.NewSource(s.Seed + int64(e)*7919))

		order := append([]feature.NodeID(nil), s.Seeds...)
		if s.Shuffle {
			r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		for lo := 0; lo < len(order); lo += s.BatchSize {
			batch := s.sample(r, order[lo:min(lo+s.BatchSize, len(order))])
			if !yield(batch) {
				return
			}
		}
	}
}

func (s *NeighborSampler) sample(r *rand.Rand, seeds []feature.NodeID) []feature.NodeID {
	seen := make(map[feature.NodeID]struct{}, len(seeds)*(1+s.Fanout))
	out := make([]feature.NodeID, 0, len(seeds)*(1+s.Fanout))
	add := func(id feature.NodeID) bool {
		if _, ok := seen[id]; ok {
			return false
		}
		seen[id] = struct{}{}
		out = append(out, id)
		return true
	}

	frontier := make([]feature.NodeID, 0, len(seeds))
	for _, id := range seeds {
		if add(id) {
			frontier = append(frontier, id)
		}
	}
	for hop := 0; hop < s.Hops && s.Graph != nil; hop++ {
		var next []feature.NodeID
		for _, id := range frontier {
			adj := s.Graph.Adj(id)
			if len(adj) == 0 {
				continue
			}
			for k := 0; k < s.Fanout; k++ {
				if n := adj[r.Intn(len(adj))]; add(n) {
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	return out
}
