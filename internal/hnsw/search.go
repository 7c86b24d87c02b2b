package hnsw

import (
	"context"
	"fmt"
	"sort"

	"github.com/xDarkicex/vektordb/internal/vmath"
)

// Accept gates which nodes may be collected as results. Rejected nodes are
// still traversed: their edges remain valid paths through the graph.
type Accept func(id uint32) bool

// searchLayer runs the bounded best-first search at one layer. candidates is
// a min-heap popped closest first; results a max-heap bounded at ef. Ties in
// distance break toward the lower node id. When accept is non-nil, nodes
// failing it are explored but never enter the result heap.
func (h *Index) searchLayer(ctx context.Context, query []float32, entry vmath.Candidate, ef, layer int, staged bool, accept Accept) ([]vmath.Candidate, error) {
	visited := make([]bool, h.visitedSize(staged))
	candidates := vmath.NewMinHeap(ef * 2)
	results := vmath.NewMaxHeap(ef + 1)

	candidates.PushCandidate(entry)
	if h.accepts(entry.ID, staged, accept) {
		results.PushCandidate(entry)
	}
	visited[entry.ID] = true

	for candidates.Len() > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		current := candidates.PopCandidate()
		if results.Len() >= ef && current.Distance > results.Top().Distance {
			break
		}

		node := h.node(current.ID, staged)
		if node == nil || layer >= len(node.Links) {
			continue
		}

		for _, neighborID := range node.Links[layer] {
			if neighborID >= uint32(len(visited)) || visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			neighbor := h.node(neighborID, staged)
			if neighbor == nil {
				continue
			}

			distance := h.distance(query, h.vectors.Vector(neighborID))
			if results.Len() >= ef && distance > results.Top().Distance {
				continue
			}

			candidate := vmath.Candidate{ID: neighborID, Distance: distance}
			candidates.PushCandidate(candidate)
			if h.accepts(neighborID, staged, accept) {
				results.PushCandidate(candidate)
				if results.Len() > ef {
					results.PopCandidate()
				}
			}
		}
	}

	return results.Sorted(), nil
}

func (h *Index) accepts(id uint32, staged bool, accept Accept) bool {
	node := h.node(id, staged)
	if node == nil || node.Deleted {
		return false
	}
	return accept == nil || accept(id)
}

// greedyDescent walks from the entry point down to targetLayer+1 with ef=1,
// returning the closest node found.
func (h *Index) greedyDescent(ctx context.Context, query []float32, from vmath.Candidate, fromLayer, targetLayer int, staged bool) (vmath.Candidate, error) {
	current := from
	for layer := fromLayer; layer > targetLayer; layer-- {
		improved := true
		for improved {
			select {
			case <-ctx.Done():
				return current, ctx.Err()
			default:
			}

			improved = false
			node := h.node(current.ID, staged)
			if node == nil || layer >= len(node.Links) {
				break
			}
			for _, neighborID := range node.Links[layer] {
				neighbor := h.node(neighborID, staged)
				if neighbor == nil {
					continue
				}
				candidate := vmath.Candidate{ID: neighborID, Distance: h.distance(query, h.vectors.Vector(neighborID))}
				if candidate.Less(current) {
					current = candidate
					improved = true
				}
			}
		}
	}
	return current, nil
}

// Search returns up to k live nodes closest to the query, ordered closest
// first, searching layer 0 with effective ef = max(ef, k). It reads only the
// committed state.
func (h *Index) Search(ctx context.Context, query []float32, k, ef int, accept Accept) ([]vmath.Candidate, error) {
	if len(query) != h.config.Dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), h.config.Dimension)
	}
	if !h.hasEntry {
		return nil, nil
	}
	if ef < k {
		ef = k
	}

	entry := vmath.Candidate{ID: h.entryPoint, Distance: h.distance(query, h.vectors.Vector(h.entryPoint))}
	entry, err := h.greedyDescent(ctx, query, entry, h.maxLevel, 0, false)
	if err != nil {
		return nil, err
	}

	results, err := h.searchLayer(ctx, query, entry, ef, 0, false, accept)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Scan is the exact fallback for small graphs: a linear pass over live
// committed nodes. Ordering matches Search's tie-break rule.
func (h *Index) Scan(ctx context.Context, query []float32, k int, accept Accept) ([]vmath.Candidate, error) {
	if len(query) != h.config.Dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), h.config.Dimension)
	}

	results := make([]vmath.Candidate, 0, h.liveCount)
	for id := range h.nodes {
		if id%1024 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		nodeID := uint32(id)
		if !h.accepts(nodeID, false, accept) {
			continue
		}
		results = append(results, vmath.Candidate{ID: nodeID, Distance: h.distance(query, h.vectors.Vector(nodeID))})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Less(results[j]) })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
