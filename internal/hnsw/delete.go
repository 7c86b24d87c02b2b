package hnsw

import "fmt"

// Delete tombstones a node in the staged graph and removes every edge
// pointing at it. Pruning during insertion breaks reciprocity, so the sweep
// walks the full node table; neighbor lists are dense uint32 slices and the
// pass is linear. Committed graph records therefore never reference a
// tombstoned node.
func (h *Index) Delete(id uint32) error {
	st := h.staging
	if st == nil {
		return fmt.Errorf("delete outside staging")
	}

	victim := h.dirtyNode(id)
	if victim == nil || victim.Deleted {
		return fmt.Errorf("node %d not found", id)
	}
	victim.Deleted = true
	victim.Links = make([][]uint32, victim.Level+1)
	for i := range victim.Links {
		victim.Links[i] = []uint32{}
	}
	st.liveDelta--
	st.tombDelta++

	span := h.visitedSize(true)
	for other := uint32(0); other < span; other++ {
		if other == id {
			continue
		}
		node := h.node(other, true)
		if node == nil || node.Deleted {
			continue
		}
		if !linksTo(node, id) {
			continue
		}
		staged := h.dirtyNode(other)
		for layer := range staged.Links {
			staged.Links[layer] = removeID(staged.Links[layer], id)
		}
	}

	if st.hasEntry && st.entryPoint == id {
		h.reselectEntry(st)
	}

	return nil
}

// Reap clears a tombstoned node's slot so its id can be reused. The caller
// removes the durable graph record in the same commit batch.
func (h *Index) Reap(id uint32) error {
	st := h.staging
	if st == nil {
		return fmt.Errorf("reap outside staging")
	}
	node := h.node(id, true)
	if node == nil {
		return nil
	}
	if !node.Deleted {
		return fmt.Errorf("node %d is not tombstoned", id)
	}
	st.dirty[id] = nil
	st.tombDelta--
	return nil
}

// linksTo reports whether any layer of node references id
func linksTo(node *Node, id uint32) bool {
	for _, layer := range node.Links {
		for _, neighborID := range layer {
			if neighborID == id {
				return true
			}
		}
	}
	return false
}

// removeID drops every occurrence of id, preserving order
func removeID(links []uint32, id uint32) []uint32 {
	out := links[:0]
	for _, neighborID := range links {
		if neighborID != id {
			out = append(out, neighborID)
		}
	}
	return out
}

// reselectEntry promotes the highest-level live node to entry point
func (h *Index) reselectEntry(st *staging) {
	st.hasEntry = false
	st.maxLevel = 0
	for id := uint32(0); id < st.highID; id++ {
		node := h.node(id, true)
		if node == nil || node.Deleted {
			continue
		}
		if !st.hasEntry || node.Level > st.maxLevel {
			st.entryPoint = id
			st.hasEntry = true
			st.maxLevel = node.Level
		}
	}
}
