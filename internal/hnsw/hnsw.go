// Package hnsw implements the Hierarchical Navigable Small World graph used
// for approximate nearest-neighbor search. Nodes are dense uint32 ids into a
// flat table; neighbor lists are id arrays, so the cyclic graph carries no
// ownership cycles. The package is not self-synchronizing: the engine holds
// a read-write lock over graph and storage view, and all mutations run
// through the copy-on-write staging published at commit.
package hnsw

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/xDarkicex/vektordb/internal/vmath"
)

// VectorSource resolves a node id to its vector. The engine backs this with
// the memory-mapped vector file plus the staged rows of an open transaction.
type VectorSource interface {
	Vector(id uint32) []float32
}

// Config holds HNSW hyperparameters
type Config struct {
	Dimension      int
	M              int     // neighbors per node per upper layer
	MMax0          int     // neighbor cap at layer 0
	EfConstruction int     // candidate list size during insertion
	EfSearch       int     // candidate list size during search
	ML             float64 // level generation factor, 1/ln(M)
	MaxLevel       int     // hard cap on the top layer
	RandomSeed     int64
}

// Defaults fills unset parameters with the standard values
func (c *Config) Defaults() {
	if c.M <= 0 {
		c.M = 16
	}
	if c.MMax0 <= 0 {
		c.MMax0 = 2 * c.M
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 200
	}
	if c.ML <= 0 {
		c.ML = 1 / math.Log(float64(c.M))
	}
	if c.MaxLevel <= 0 {
		c.MaxLevel = 16
	}
}

func (c *Config) validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	if c.M <= 0 || c.MMax0 <= 0 {
		return fmt.Errorf("M and MMax0 must be positive")
	}
	if c.EfConstruction <= 0 || c.EfSearch <= 0 {
		return fmt.Errorf("EfConstruction and EfSearch must be positive")
	}
	if c.ML <= 0 {
		return fmt.Errorf("ML must be positive")
	}
	if c.MaxLevel <= 0 || c.MaxLevel > 255 {
		return fmt.Errorf("MaxLevel must be in 1..255")
	}
	return nil
}

// Index is the in-memory graph
type Index struct {
	config   Config
	distance vmath.DistanceFunc
	vectors  VectorSource
	levelGen *rand.Rand

	nodes      []*Node // committed state; nil slots are reclaimed ids
	entryPoint uint32
	hasEntry   bool
	maxLevel   int
	liveCount  int
	tombstones int

	staging *staging // non-nil while a transaction is open
}

// staging is the copy-on-write overlay of an open transaction
type staging struct {
	dirty      map[uint32]*Node // staged copies, including brand-new nodes
	highID     uint32           // highest staged id, for visited-set sizing
	entryPoint uint32
	hasEntry   bool
	maxLevel   int
	liveDelta  int
	tombDelta  int
}

// New creates an empty index
func New(config Config, distance vmath.DistanceFunc, vectors VectorSource) (*Index, error) {
	config.Defaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid HNSW config: %w", err)
	}

	return &Index{
		config:   config,
		distance: distance,
		vectors:  vectors,
		levelGen: rand.New(rand.NewSource(config.RandomSeed)),
	}, nil
}

// Restore installs a committed node table loaded from storage. The nodes
// slice is indexed by node id; reclaimed slots are nil.
func (h *Index) Restore(nodes []*Node, entryPoint uint32, hasEntry bool) {
	h.nodes = nodes
	h.entryPoint = entryPoint
	h.hasEntry = hasEntry
	h.maxLevel = 0
	h.liveCount = 0
	h.tombstones = 0
	for _, node := range nodes {
		if node == nil {
			continue
		}
		if node.Deleted {
			h.tombstones++
			continue
		}
		h.liveCount++
		if node.Level > h.maxLevel {
			h.maxLevel = node.Level
		}
	}
}

// SetVectorSource swaps the vector resolver; compaction rebuilds the graph
// against an in-memory snapshot before pointing it back at storage.
func (h *Index) SetVectorSource(vectors VectorSource) {
	h.vectors = vectors
}

// Begin opens a staging overlay; it fails if one is already open
func (h *Index) Begin() error {
	if h.staging != nil {
		return fmt.Errorf("staging already open")
	}
	h.staging = &staging{
		dirty:      make(map[uint32]*Node),
		highID:     uint32(len(h.nodes)),
		entryPoint: h.entryPoint,
		hasEntry:   h.hasEntry,
		maxLevel:   h.maxLevel,
	}
	return nil
}

// InStaging reports whether a staging overlay is open
func (h *Index) InStaging() bool {
	return h.staging != nil
}

// StagedNodes returns the staged copies for serialization at commit time
func (h *Index) StagedNodes() map[uint32]*Node {
	if h.staging == nil {
		return nil
	}
	return h.staging.dirty
}

// StagedEntryPoint returns the entry point the staged state would commit
func (h *Index) StagedEntryPoint() (uint32, bool) {
	if h.staging == nil {
		return h.entryPoint, h.hasEntry
	}
	return h.staging.entryPoint, h.staging.hasEntry
}

// StagedCounts returns the live and tombstone counts the staged state would
// commit.
func (h *Index) StagedCounts() (live, tombstones int) {
	if h.staging == nil {
		return h.liveCount, h.tombstones
	}
	return h.liveCount + h.staging.liveDelta, h.tombstones + h.staging.tombDelta
}

// Commit publishes the staged overlay into the committed state. The caller
// must already have serialized StagedNodes to durable storage.
func (h *Index) Commit() {
	st := h.staging
	if st == nil {
		return
	}
	for id, node := range st.dirty {
		for uint32(len(h.nodes)) <= id {
			h.nodes = append(h.nodes, nil)
		}
		h.nodes[id] = node
	}
	h.entryPoint = st.entryPoint
	h.hasEntry = st.hasEntry
	h.maxLevel = st.maxLevel
	h.liveCount += st.liveDelta
	h.tombstones += st.tombDelta
	h.staging = nil
}

// Rollback discards the staged overlay, leaving the committed state intact
func (h *Index) Rollback() {
	h.staging = nil
}

// Size returns the number of live (non-tombstoned) nodes in committed state
func (h *Index) Size() int {
	return h.liveCount
}

// Tombstones returns the committed tombstone count
func (h *Index) Tombstones() int {
	return h.tombstones
}

// MaxLevel returns the committed top layer
func (h *Index) MaxLevel() int {
	return h.maxLevel
}

// Params returns the index parameters
func (h *Index) Params() Config {
	return h.config
}

// node resolves an id through the staging overlay when one is open and the
// caller asked for the staged view.
func (h *Index) node(id uint32, staged bool) *Node {
	if staged && h.staging != nil {
		if n, ok := h.staging.dirty[id]; ok {
			return n
		}
	}
	if id < uint32(len(h.nodes)) {
		return h.nodes[id]
	}
	return nil
}

// dirtyNode returns a mutable staged copy of id, cloning on first touch
func (h *Index) dirtyNode(id uint32) *Node {
	if n, ok := h.staging.dirty[id]; ok {
		return n
	}
	base := h.node(id, false)
	if base == nil {
		return nil
	}
	copy := base.clone()
	h.staging.dirty[id] = copy
	return copy
}

// visitedSize returns the node-table span of the requested view
func (h *Index) visitedSize(staged bool) uint32 {
	size := uint32(len(h.nodes))
	if staged && h.staging != nil && h.staging.highID > size {
		size = h.staging.highID
	}
	return size
}

// generateLevel samples a top layer from the geometric distribution
// floor(-ln(U) * mL) with U uniform on (0,1].
func (h *Index) generateLevel() int {
	u := 1 - h.levelGen.Float64()
	level := int(math.Floor(-math.Log(u) * h.config.ML))
	if level > h.config.MaxLevel {
		level = h.config.MaxLevel
	}
	return level
}
