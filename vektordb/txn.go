package vektordb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xDarkicex/vektordb/internal/hnsw"
	"github.com/xDarkicex/vektordb/internal/storage"
)

// txn stages the mutations of one update block: full item records (the
// write path reads its own writes), reclaimed graph records, and working
// copies of the id allocator. Vector rows are written through to the mmap
// while staging; they stay invisible until the manifest inside the commit
// batch references them.
type txn struct {
	records    map[uuid.UUID]*storage.ItemRecord
	reapNodes  []uint32 // graph records to drop (tombstone overwritten by re-insert)
	freeList   []uint32
	nextNodeID uint32
	dirtyFree  bool
	failed     error
	explicit   bool

	inserts, updates, deletes int
}

func (idx *Index) newTxn(explicit bool) *txn {
	return &txn{
		records:    make(map[uuid.UUID]*storage.ItemRecord),
		freeList:   append([]uint32(nil), idx.freeList...),
		nextNodeID: idx.nextNodeID,
		explicit:   explicit,
	}
}

// allocNode takes a node id from the free list or the tail
func (t *txn) allocNode() uint32 {
	if n := len(t.freeList); n > 0 {
		id := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.dirtyFree = true
		return id
	}
	id := t.nextNodeID
	t.nextNodeID++
	return id
}

// BeginUpdate opens an explicit transaction. Only one may be open per
// index; a concurrent BeginUpdate fails with ErrInvalidState.
func (idx *Index) BeginUpdate() error {
	idx.txnMu.Lock()
	defer idx.txnMu.Unlock()
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return ErrClosed
	}
	if idx.txn != nil {
		return fmt.Errorf("%w: transaction already open", ErrInvalidState)
	}
	if err := idx.graph.Begin(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	idx.txn = idx.newTxn(true)
	return nil
}

// EndUpdate commits the open transaction. A transaction poisoned by a
// failed operation cannot commit; it is rolled back and the original
// failure returned.
func (idx *Index) EndUpdate(ctx context.Context) error {
	idx.txnMu.Lock()
	defer idx.txnMu.Unlock()
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return ErrClosed
	}
	if idx.txn == nil || !idx.txn.explicit {
		return fmt.Errorf("%w: no transaction open", ErrInvalidState)
	}
	if failure := idx.txn.failed; failure != nil {
		idx.rollbackLocked()
		return fmt.Errorf("transaction poisoned by earlier failure: %w", failure)
	}
	return idx.commitLocked(ctx)
}

// CancelUpdate rolls the open transaction back, discarding every staged
// mutation.
func (idx *Index) CancelUpdate() error {
	idx.txnMu.Lock()
	defer idx.txnMu.Unlock()
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return ErrClosed
	}
	if idx.txn == nil || !idx.txn.explicit {
		return fmt.Errorf("%w: no transaction open", ErrInvalidState)
	}
	idx.rollbackLocked()
	return nil
}

// InTransaction reports whether an explicit update block is open
func (idx *Index) InTransaction() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.txn != nil
}

// mutate runs one mutation inside the open explicit transaction, or inside
// an implicit single-operation transaction committed before it returns.
// The write lock covers staging and commit, so readers always observe the
// last committed snapshot. An error inside an explicit transaction poisons
// it; EndUpdate then rolls back.
func (idx *Index) mutate(ctx context.Context, fn func(t *txn) error) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return ErrClosed
	}

	implicit := idx.txn == nil
	if implicit {
		if err := idx.graph.Begin(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		idx.txn = idx.newTxn(false)
	} else if idx.txn.failed != nil {
		return fmt.Errorf("%w: transaction poisoned by earlier failure", ErrInvalidState)
	}

	if err := fn(idx.txn); err != nil {
		if implicit {
			idx.rollbackLocked()
		} else {
			idx.txn.failed = err
		}
		return err
	}

	if implicit {
		return idx.commitLocked(ctx)
	}
	return nil
}

// rollbackLocked discards the staged state; the committed snapshot is
// untouched and staged vector rows become don't-care bytes.
func (idx *Index) rollbackLocked() {
	idx.graph.Rollback()
	idx.backend.DiscardPending()
	idx.txn = nil
}

// commitLocked realizes the commit protocol: encode every staged record and
// graph node plus the intended manifest into one batch, hand it to the
// backend (msync + atomic KV write + bootstrap manifest), then publish the
// staged graph and item tables. A backend failure rolls the whole
// transaction back and surfaces the error; the index stays on the last
// committed state.
func (idx *Index) commitLocked(ctx context.Context) error {
	t := idx.txn
	start := time.Now()

	batch := storage.NewBatch()
	for id, record := range t.records {
		data, err := record.Encode()
		if err != nil {
			idx.rollbackLocked()
			return err
		}
		batch.Items[id] = data
	}
	for nodeID, node := range idx.graph.StagedNodes() {
		if node == nil {
			continue // reaped slot; its record is in DeletedNodes
		}
		data, err := hnsw.EncodeNode(node)
		if err != nil {
			idx.rollbackLocked()
			return err
		}
		batch.GraphNodes[nodeID] = data
	}
	batch.DeletedNodes = t.reapNodes
	if t.dirtyFree {
		data, err := storage.EncodeFreeList(t.freeList)
		if err != nil {
			idx.rollbackLocked()
			return err
		}
		batch.FreeList = data
	}

	manifest := idx.nextManifest(t)
	data, err := manifest.Encode()
	if err != nil {
		idx.rollbackLocked()
		return err
	}
	batch.Manifest = data

	if err := idx.backend.ApplyBatch(ctx, batch); err != nil {
		idx.rollbackLocked()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return fmt.Errorf("commit failed: %w", err)
	}

	// Durable; publish in memory. Reaped slots clear first so a node id
	// reclaimed and reused inside this commit keeps its new mapping.
	idx.graph.Commit()
	for _, nodeID := range t.reapNodes {
		delete(idx.nodeItems, nodeID)
		idx.metaCache.Remove(nodeID)
	}
	for id, record := range t.records {
		idx.items[id] = &itemHeader{
			nodeID:    record.NodeID,
			version:   record.Version,
			createdAt: record.CreatedAt,
			updatedAt: record.UpdatedAt,
			deleted:   record.Deleted,
		}
		idx.nodeItems[record.NodeID] = id
		idx.metaCache.Remove(record.NodeID)
	}
	idx.manifest = manifest
	idx.freeList = t.freeList
	idx.nextNodeID = t.nextNodeID
	idx.txn = nil

	idx.metrics.CommitLatency.Observe(time.Since(start).Seconds())
	idx.metrics.ItemInserts.Add(float64(t.inserts))
	idx.metrics.ItemUpdates.Add(float64(t.updates))
	idx.metrics.ItemDeletes.Add(float64(t.deletes))
	idx.metrics.Tombstones.Set(float64(idx.graph.Tombstones()))

	if idx.config.AutoCompact && idx.tombstoneRatio() > idx.config.CompactionThreshold {
		if err := idx.compactLocked(ctx); err != nil && !errors.Is(err, ErrCancelled) {
			return fmt.Errorf("post-commit compaction failed: %w", err)
		}
	}
	return nil
}

// nextManifest builds the manifest the transaction intends to commit
func (idx *Index) nextManifest(t *txn) *storage.Manifest {
	manifest := *idx.manifest

	entry, hasEntry := idx.graph.StagedEntryPoint()
	if hasEntry {
		manifest.EntryPoint = int64(entry)
	} else {
		manifest.EntryPoint = -1
	}
	live, tombstones := idx.graph.StagedCounts()
	manifest.ItemCount = live
	manifest.TombstoneCount = tombstones
	manifest.NextNodeID = t.nextNodeID
	return &manifest
}

func (idx *Index) tombstoneRatio() float64 {
	live := idx.graph.Size()
	tombstones := idx.graph.Tombstones()
	total := live + tombstones
	if total == 0 {
		return 0
	}
	return float64(tombstones) / float64(total)
}
