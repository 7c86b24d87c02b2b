package vektordb

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xDarkicex/vektordb/internal/hnsw"
	"github.com/xDarkicex/vektordb/internal/storage"
)

// Compact rebuilds the index without tombstones: live items are renumbered
// densely, the vector file rewritten, and every neighborhood regenerated.
// It runs under the exclusive writer lock; queries pause for the duration
// and resume on the new generation. Compact fails with ErrInvalidState
// while an update block is open.
func (idx *Index) Compact(ctx context.Context) error {
	idx.txnMu.Lock()
	defer idx.txnMu.Unlock()
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return ErrClosed
	}
	if idx.txn != nil {
		return fmt.Errorf("%w: cannot compact inside a transaction", ErrInvalidState)
	}
	return idx.compactLocked(ctx)
}

// memVectors is the in-memory vector snapshot the rebuild runs against
type memVectors struct {
	rows [][]float32
}

func (m *memVectors) Vector(id uint32) []float32 {
	if id >= uint32(len(m.rows)) {
		return nil
	}
	return m.rows[id]
}

// liveItem carries one surviving item through the rebuild
type liveItem struct {
	itemID    uuid.UUID
	oldNodeID uint32
	record    *storage.ItemRecord
	vector    []float32
}

func (idx *Index) compactLocked(ctx context.Context) error {
	// Deterministic renumbering: live items ordered by old node id
	live := make([]*liveItem, 0, len(idx.items))
	var reapIDs []uuid.UUID
	for itemID, header := range idx.items {
		if header.deleted {
			reapIDs = append(reapIDs, itemID)
			continue
		}
		live = append(live, &liveItem{itemID: itemID, oldNodeID: header.nodeID})
	}
	sort.Slice(live, func(i, j int) bool { return live[i].oldNodeID < live[j].oldNodeID })

	// Snapshot vectors and records off the old layout before any row moves
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.NumCPU())
	for _, item := range live {
		item := item
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			vector, err := idx.backend.GetVector(item.oldNodeID)
			if err != nil {
				return err
			}
			item.vector = append([]float32(nil), vector...)

			data, err := idx.backend.GetMetadata(item.itemID)
			if err != nil {
				return err
			}
			item.record, err = storage.DecodeItemRecord(data)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return idx.mapSearchErr(ctx, err)
	}

	snapshot := &memVectors{rows: make([][]float32, len(live))}
	for i, item := range live {
		snapshot.rows[i] = item.vector
	}

	// Rebuild the graph against the snapshot
	graph, err := hnsw.New(hnsw.Config{
		Dimension:      idx.config.Dim,
		M:              idx.config.M,
		MMax0:          idx.config.MMax0,
		EfConstruction: idx.config.EfConstruction,
		EfSearch:       idx.config.EfSearch,
		ML:             idx.manifest.ML,
		MaxLevel:       idx.config.MaxLevels,
		RandomSeed:     idx.config.RandomSeed,
	}, idx.distance, snapshot)
	if err != nil {
		return err
	}
	if err := graph.Begin(); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	for newID := range live {
		if _, err := graph.Insert(ctx, uint32(newID)); err != nil {
			return idx.mapGraphErr(ctx, err)
		}
	}

	// One batch carries the whole new generation
	batch := storage.NewBatch()
	for newID, item := range live {
		item.record.NodeID = uint32(newID)
		data, err := item.record.Encode()
		if err != nil {
			return err
		}
		batch.Items[item.itemID] = data
	}
	for nodeID, node := range graph.StagedNodes() {
		data, err := hnsw.EncodeNode(node)
		if err != nil {
			return err
		}
		batch.GraphNodes[nodeID] = data
	}
	batch.DeletedItems = reapIDs
	for nodeID := uint32(len(live)); nodeID < idx.nextNodeID; nodeID++ {
		batch.DeletedNodes = append(batch.DeletedNodes, nodeID)
	}
	if batch.FreeList, err = storage.EncodeFreeList(nil); err != nil {
		return err
	}

	manifest := *idx.manifest
	manifest.ItemCount = len(live)
	manifest.TombstoneCount = 0
	manifest.NextNodeID = uint32(len(live))
	if len(live) > 0 {
		entry, _ := graph.StagedEntryPoint()
		manifest.EntryPoint = int64(entry)
	} else {
		manifest.EntryPoint = -1
	}

	// The optimized backend gets a fresh vector-file generation; the old
	// file stays live until the manifest referencing the new one lands, so
	// a crash on either side of the switch recovers cleanly.
	if idx.kv != nil {
		manifest.VectorGen = idx.kv.VectorGeneration() + 1
		if err := idx.kv.StageVectorGeneration(manifest.VectorGen, snapshot.rows); err != nil {
			return fmt.Errorf("failed to stage vector file: %w", err)
		}
	} else {
		for newID, item := range live {
			if err := idx.backend.PutVector(uint32(newID), item.vector); err != nil {
				return err
			}
		}
	}

	if batch.Manifest, err = manifest.Encode(); err != nil {
		if idx.kv != nil {
			idx.kv.AbortVectorGeneration()
		}
		return err
	}

	if err := idx.backend.ApplyBatch(ctx, batch); err != nil {
		if idx.kv != nil {
			idx.kv.AbortVectorGeneration()
		} else {
			idx.backend.DiscardPending()
		}
		return fmt.Errorf("compaction commit failed: %w", err)
	}
	if idx.kv != nil {
		if err := idx.kv.CommitVectorGeneration(); err != nil {
			return fmt.Errorf("failed to switch vector file: %w", err)
		}
	}

	// Publish the new generation
	graph.Commit()
	graph.SetVectorSource(idx)
	idx.graph = graph
	idx.manifest = &manifest
	idx.freeList = nil
	idx.nextNodeID = uint32(len(live))
	idx.metaCache.Purge()

	idx.items = make(map[uuid.UUID]*itemHeader, len(live))
	idx.nodeItems = make(map[uint32]uuid.UUID, len(live))
	for newID, item := range live {
		idx.items[item.itemID] = &itemHeader{
			nodeID:    uint32(newID),
			version:   item.record.Version,
			createdAt: item.record.CreatedAt,
			updatedAt: item.record.UpdatedAt,
		}
		idx.nodeItems[uint32(newID)] = item.itemID
	}

	idx.metrics.Compactions.Inc()
	idx.metrics.Tombstones.Set(0)
	return nil
}
