package hnsw

import (
	"context"
	"fmt"

	"github.com/xDarkicex/vektordb/internal/vmath"
)

// Insert adds node id to the staged graph and returns its sampled top
// layer. The id's vector must already be resolvable through the
// VectorSource. Insert requires an open staging overlay; a failure leaves
// only staged state behind, which the caller discards via Rollback.
func (h *Index) Insert(ctx context.Context, id uint32) (int, error) {
	st := h.staging
	if st == nil {
		return 0, fmt.Errorf("insert outside staging")
	}
	if existing := h.node(id, true); existing != nil {
		return 0, fmt.Errorf("node %d already exists", id)
	}

	level := h.generateLevel()
	node := &Node{Level: level, Links: make([][]uint32, level+1)}
	for i := range node.Links {
		node.Links[i] = make([]uint32, 0, h.config.M)
	}
	st.dirty[id] = node
	if id+1 > st.highID {
		st.highID = id + 1
	}
	st.liveDelta++

	// First node becomes the entry point
	if !st.hasEntry {
		st.entryPoint = id
		st.hasEntry = true
		st.maxLevel = level
		return level, nil
	}

	query := h.vectors.Vector(id)
	entry := vmath.Candidate{ID: st.entryPoint, Distance: h.distance(query, h.vectors.Vector(st.entryPoint))}

	// Phase 1: greedy descent to the layer just above the new node's top
	entry, err := h.greedyDescent(ctx, query, entry, st.maxLevel, level, true)
	if err != nil {
		return 0, err
	}

	// Phase 2: connect layer by layer from min(level, maxLevel) down to 0
	top := level
	if top > st.maxLevel {
		top = st.maxLevel
	}
	for layer := top; layer >= 0; layer-- {
		candidates, err := h.searchLayer(ctx, query, entry, h.config.EfConstruction, layer, true, nil)
		if err != nil {
			return 0, err
		}
		if len(candidates) == 0 {
			continue
		}

		selected := h.selectNeighbors(query, candidates, h.capFor(layer))
		node.Links[layer] = node.Links[layer][:0]
		for _, neighbor := range selected {
			node.Links[layer] = append(node.Links[layer], neighbor.ID)
		}

		// Reciprocal edges, re-selecting the neighbor's list when it
		// overflows the layer cap
		for _, neighbor := range selected {
			h.connectBack(neighbor.ID, id, layer)
		}

		entry = candidates[0]
	}

	if level > st.maxLevel {
		st.entryPoint = id
		st.maxLevel = level
	}

	return level, nil
}

// capFor returns the neighbor cap at a layer
func (h *Index) capFor(layer int) int {
	if layer == 0 {
		return h.config.MMax0
	}
	return h.config.M
}

// connectBack adds newID to neighborID's list at layer, re-running neighbor
// selection if the list overflows the cap.
func (h *Index) connectBack(neighborID, newID uint32, layer int) {
	neighbor := h.dirtyNode(neighborID)
	if neighbor == nil || layer >= len(neighbor.Links) {
		return
	}

	neighbor.Links[layer] = append(neighbor.Links[layer], newID)
	maxConn := h.capFor(layer)
	if len(neighbor.Links[layer]) <= maxConn {
		return
	}

	base := h.vectors.Vector(neighborID)
	candidates := make([]vmath.Candidate, 0, len(neighbor.Links[layer]))
	for _, linkID := range neighbor.Links[layer] {
		candidates = append(candidates, vmath.Candidate{ID: linkID, Distance: h.distance(base, h.vectors.Vector(linkID))})
	}
	sortCandidates(candidates)

	selected := h.selectNeighbors(base, candidates, maxConn)
	neighbor.Links[layer] = neighbor.Links[layer][:0]
	for _, sel := range selected {
		neighbor.Links[layer] = append(neighbor.Links[layer], sel.ID)
	}
}
