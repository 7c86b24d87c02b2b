package hnsw

import (
	"sort"

	"github.com/xDarkicex/vektordb/internal/vmath"
)

// selectNeighbors applies the classic reachability heuristic: walking the
// candidates by increasing distance to the query, a candidate is accepted
// only if no already-accepted neighbor is closer to it than the query is.
// Candidates must arrive sorted closest first; at most m are returned.
func (h *Index) selectNeighbors(query []float32, candidates []vmath.Candidate, m int) []vmath.Candidate {
	if len(candidates) <= 1 {
		return candidates
	}

	selected := make([]vmath.Candidate, 0, m)
	for _, candidate := range candidates {
		if len(selected) >= m {
			break
		}

		vector := h.vectors.Vector(candidate.ID)
		improves := true
		for _, accepted := range selected {
			if h.distance(vector, h.vectors.Vector(accepted.ID)) < candidate.Distance {
				improves = false
				break
			}
		}
		if improves {
			selected = append(selected, candidate)
		}
	}

	// Backfill with the nearest rejected candidates so sparse regions still
	// reach the target degree
	if len(selected) < m {
		for _, candidate := range candidates {
			if len(selected) >= m {
				break
			}
			duplicate := false
			for _, accepted := range selected {
				if accepted.ID == candidate.ID {
					duplicate = true
					break
				}
			}
			if !duplicate {
				selected = append(selected, candidate)
			}
		}
	}

	return selected
}

// sortCandidates orders a candidate slice by the search tie-break rule
func sortCandidates(candidates []vmath.Candidate) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Less(candidates[j]) })
}
