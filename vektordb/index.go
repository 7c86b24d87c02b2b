// Package vektordb is an embedded vector database: approximate
// nearest-neighbor search over float32 vectors with per-item JSON-compatible
// metadata, durable storage (LSM key-value store plus a memory-mapped vector
// file) and an atomic begin/commit/rollback update protocol.
package vektordb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xDarkicex/vektordb/internal/hnsw"
	"github.com/xDarkicex/vektordb/internal/obs"
	"github.com/xDarkicex/vektordb/internal/storage"
	"github.com/xDarkicex/vektordb/internal/storage/kvbadger"
	"github.com/xDarkicex/vektordb/internal/storage/legacy"
	"github.com/xDarkicex/vektordb/internal/vmath"
)

const metaCacheSize = 8192

// Index is one open vector index. Reads (Get, List, Query) take the read
// lock and observe the last committed snapshot; mutations run through the
// transaction layer under the write lock.
type Index struct {
	mu    sync.RWMutex // guards graph + storage view
	txnMu sync.Mutex   // serializes begin/commit/rollback

	path     string
	config   *Config
	backend  storage.Backend
	kv       *kvbadger.Backend // non-nil for the optimized backend
	graph    *hnsw.Index
	distance vmath.DistanceFunc
	scoreMap vmath.ScoreMap
	metrics  *obs.Metrics

	metaCache    *lru.Cache[uint32, map[string]any]
	indexedPaths map[string]struct{}

	manifest   *storage.Manifest
	items      map[uuid.UUID]*itemHeader
	nodeItems  map[uint32]uuid.UUID
	freeList   []uint32
	nextNodeID uint32
	lastStamp  int64

	txn    *txn
	closed bool
}

// itemHeader is the in-memory view of a committed item record, metadata
// excluded (fetched through the cache on demand).
type itemHeader struct {
	nodeID    uint32
	version   uint64
	createdAt int64
	updatedAt int64
	deleted   bool
}

// Create initializes a new index at path and opens it. It fails with
// ErrAlreadyExists when an index is already present, unless
// WithDeleteIfExists was given.
func Create(path string, opts ...Option) (*Index, error) {
	config := defaultConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	config.fill()
	if err := config.validate(); err != nil {
		return nil, err
	}

	if config.DeleteIfExists {
		if err := kvbadger.Destroy(path); err != nil {
			return nil, err
		}
	} else if exists, err := storage.CheckFormatVersion(path); err == nil && exists {
		return nil, fmt.Errorf("%w at %s", ErrAlreadyExists, path)
	}

	return open(path, config, true)
}

// Open opens an existing index at path. Configuration recorded in the
// manifest (dimension, metric, HNSW parameters, metadata config) wins over
// options; options still control runtime concerns such as metrics, sync
// behavior and compaction.
func Open(path string, opts ...Option) (*Index, error) {
	config := defaultConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	config.fill()
	return open(path, config, false)
}

func open(path string, config *Config, create bool) (*Index, error) {
	var (
		backend storage.Backend
		kv      *kvbadger.Backend
		err     error
	)
	if config.LegacyBackend {
		backend, err = legacy.Open(path, legacy.Options{
			CreateIfMissing: create,
			MaxItems:        config.LegacyMaxItems,
		})
	} else {
		kv, err = kvbadger.Open(path, kvbadger.Options{
			CreateIfMissing: create,
			Dim:             config.Dim,
			SyncWrites:      config.SyncWrites,
		})
		backend = kv
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, err
	}

	idx := &Index{
		path:      path,
		config:    config,
		backend:   backend,
		kv:        kv,
		items:     make(map[uuid.UUID]*itemHeader),
		nodeItems: make(map[uint32]uuid.UUID),
	}

	if err := idx.bootstrap(create); err != nil {
		backend.Close()
		return nil, err
	}
	return idx, nil
}

// bootstrap loads or initializes the committed state
func (idx *Index) bootstrap(create bool) error {
	manifestData, err := idx.backend.GetManifest()
	switch {
	case err == nil:
		manifest, err := storage.DecodeManifest(manifestData)
		if err != nil {
			return err
		}
		idx.manifest = manifest
		idx.applyManifestConfig(manifest)
	case errors.Is(err, storage.ErrNotFound):
		if !create {
			return fmt.Errorf("%w: index has no manifest", ErrCorruption)
		}
		idx.manifest = idx.freshManifest()
	default:
		return err
	}

	reg := idx.config.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	idx.metrics = obs.NewMetrics(reg)

	cache, err := lru.New[uint32, map[string]any](metaCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create metadata cache: %w", err)
	}
	idx.metaCache = cache

	idx.indexedPaths = make(map[string]struct{}, len(idx.config.Metadata.Indexed))
	for _, path := range idx.config.Metadata.Indexed {
		idx.indexedPaths[path] = struct{}{}
	}

	metric := idx.config.Metric.vmath()
	idx.distance, err = vmath.FuncFor(metric, idx.manifest.Normalized)
	if err != nil {
		return err
	}
	idx.scoreMap, err = vmath.ParseScoreMap(idx.manifest.ScoreMap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruption, err)
	}

	idx.graph, err = hnsw.New(hnsw.Config{
		Dimension:      idx.config.Dim,
		M:              idx.config.M,
		MMax0:          idx.config.MMax0,
		EfConstruction: idx.config.EfConstruction,
		EfSearch:       idx.config.EfSearch,
		ML:             idx.manifest.ML,
		MaxLevel:       idx.config.MaxLevels,
		RandomSeed:     idx.config.RandomSeed,
	}, idx.distance, idx)
	if err != nil {
		return err
	}

	if create && idx.manifest.ItemCount == 0 {
		// Persist the initial manifest so a reopened empty index is valid
		batch := storage.NewBatch()
		if batch.Manifest, err = idx.manifest.Encode(); err != nil {
			return err
		}
		if err := idx.backend.ApplyBatch(context.Background(), batch); err != nil {
			return err
		}
		return nil
	}

	return idx.loadState()
}

// applyManifestConfig makes durable configuration win over options
func (idx *Index) applyManifestConfig(m *storage.Manifest) {
	idx.config.Dim = m.Dim
	if metric, err := vmath.ParseMetric(m.Metric); err == nil {
		idx.config.Metric = metricFromVmath(metric)
	}
	idx.config.Normalize = m.Normalized
	idx.config.M = m.M
	idx.config.MMax0 = m.MMax0
	idx.config.EfConstruction = m.EfConstruction
	idx.config.EfSearch = m.EfSearch
	idx.config.MaxLevels = m.MaxLevel
	idx.config.Metadata = MetadataConfig{
		Indexed:      m.Metadata.Indexed,
		Stored:       m.Metadata.Stored,
		MaxSizeBytes: m.Metadata.MaxSizeBytes,
		Dynamic:      m.Metadata.Dynamic,
	}
}

func (idx *Index) freshManifest() *storage.Manifest {
	metric := idx.config.Metric.vmath()
	graphConfig := hnsw.Config{
		Dimension:      idx.config.Dim,
		M:              idx.config.M,
		MMax0:          idx.config.MMax0,
		EfConstruction: idx.config.EfConstruction,
		EfSearch:       idx.config.EfSearch,
		MaxLevel:       idx.config.MaxLevels,
	}
	graphConfig.Defaults()

	return &storage.Manifest{
		Version:        storage.FormatVersion,
		Dim:            idx.config.Dim,
		Metric:         metric.String(),
		Normalized:     idx.config.Normalize,
		M:              graphConfig.M,
		MMax0:          graphConfig.MMax0,
		EfConstruction: graphConfig.EfConstruction,
		EfSearch:       graphConfig.EfSearch,
		MaxLevel:       graphConfig.MaxLevel,
		ML:             graphConfig.ML,
		EntryPoint:     -1,
		ScoreMap:       vmath.DefaultScoreMap(metric).String(),
		Metadata: storage.MetadataConfigRecord{
			Indexed:      idx.config.Metadata.Indexed,
			Stored:       idx.config.Metadata.Stored,
			MaxSizeBytes: idx.config.Metadata.MaxSizeBytes,
			Dynamic:      idx.config.Metadata.Dynamic,
		},
	}
}

// loadState rebuilds the in-memory tables from storage
func (idx *Index) loadState() error {
	idx.nextNodeID = idx.manifest.NextNodeID

	if data, err := idx.backend.GetFreeList(); err == nil {
		ids, err := storage.DecodeFreeList(data)
		if err != nil {
			return err
		}
		idx.freeList = ids
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	deleted := make(map[uint32]bool)
	err := idx.backend.ScanMetadata(func(id uuid.UUID, data []byte) error {
		record, err := storage.DecodeItemRecord(data)
		if err != nil {
			return err
		}
		idx.items[id] = &itemHeader{
			nodeID:    record.NodeID,
			version:   record.Version,
			createdAt: record.CreatedAt,
			updatedAt: record.UpdatedAt,
			deleted:   record.Deleted,
		}
		idx.nodeItems[record.NodeID] = id
		if record.Deleted {
			deleted[record.NodeID] = true
		}
		if record.NodeID >= idx.nextNodeID {
			idx.nextNodeID = record.NodeID + 1
		}
		return nil
	})
	if err != nil {
		return err
	}

	nodes := make([]*hnsw.Node, idx.nextNodeID)
	err = idx.backend.ScanGraphNodes(func(id uint32, data []byte) error {
		node, err := hnsw.DecodeNode(data)
		if err != nil {
			return fmt.Errorf("%w: graph node %d: %v", ErrCorruption, id, err)
		}
		if id >= uint32(len(nodes)) {
			return fmt.Errorf("%w: graph node %d beyond manifest bound", ErrCorruption, id)
		}
		// A node no item record points at was left behind by a vector
		// update and stays a tombstone until compaction
		_, owned := idx.nodeItems[id]
		node.Deleted = deleted[id] || !owned
		nodes[id] = node
		return nil
	})
	if err != nil {
		return err
	}

	entry := uint32(0)
	hasEntry := idx.manifest.EntryPoint >= 0
	if hasEntry {
		entry = uint32(idx.manifest.EntryPoint)
	}
	idx.graph.Restore(nodes, entry, hasEntry)
	idx.metrics.Tombstones.Set(float64(idx.graph.Tombstones()))

	if idx.graph.Size() != idx.manifest.ItemCount {
		return fmt.Errorf("%w: manifest item count %d, live nodes %d", ErrCorruption, idx.manifest.ItemCount, idx.graph.Size())
	}
	return nil
}

// Vector implements hnsw.VectorSource over the storage backend; staged rows
// are written through before graph insertion, so the overlay needs no
// separate lookup path.
func (idx *Index) Vector(id uint32) []float32 {
	vector, err := idx.backend.GetVector(id)
	if err != nil {
		return nil
	}
	return vector
}

// Stats returns the committed item and tombstone counts
func (idx *Index) Stats() *Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return &Stats{
		ItemCount:      idx.graph.Size(),
		TombstoneCount: idx.graph.Tombstones(),
		Dimension:      idx.config.Dim,
		Metric:         idx.config.Metric,
		MaxLevel:       idx.graph.MaxLevel(),
	}
}

// Close rolls back any open transaction and releases the index
func (idx *Index) Close() error {
	idx.txnMu.Lock()
	defer idx.txnMu.Unlock()
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return nil
	}
	if idx.txn != nil {
		idx.graph.Rollback()
		idx.txn = nil
	}
	idx.closed = true
	return idx.backend.Close()
}

// monotonicNow returns a unixnano timestamp that never moves backwards
// within the process.
func (idx *Index) monotonicNow() int64 {
	now := time.Now().UnixNano()
	if now <= idx.lastStamp {
		now = idx.lastStamp + 1
	}
	idx.lastStamp = now
	return now
}

// metadataFor fetches the decoded metadata document of a node through the
// LRU cache.
func (idx *Index) metadataFor(nodeID uint32) (map[string]any, error) {
	if meta, ok := idx.metaCache.Get(nodeID); ok {
		return meta, nil
	}

	itemID, ok := idx.nodeItems[nodeID]
	if !ok {
		return nil, nil
	}
	data, err := idx.backend.GetMetadata(itemID)
	if err != nil {
		return nil, err
	}
	record, err := storage.DecodeItemRecord(data)
	if err != nil {
		return nil, err
	}
	idx.metaCache.Add(nodeID, record.Metadata)
	return record.Metadata, nil
}
