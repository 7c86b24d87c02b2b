package vektordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/xDarkicex/vektordb/internal/storage"
	"github.com/xDarkicex/vektordb/internal/vmath"
)

// Insert adds a new item and returns its record with version 1. A zero id
// gets a generated UUID. Inside an explicit update block the insert stays
// invisible to readers until EndUpdate; otherwise it commits immediately.
func (idx *Index) Insert(ctx context.Context, id uuid.UUID, vector []float32, metadata map[string]any) (*Item, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}

	owned, err := idx.prepareVector(vector)
	if err != nil {
		return nil, err
	}
	metadata, err = idx.prepareMetadata(metadata)
	if err != nil {
		return nil, err
	}

	var record *storage.ItemRecord
	err = idx.mutate(ctx, func(t *txn) error {
		if err := idx.stageInsert(ctx, t, id, owned, metadata, &record); err != nil {
			return err
		}
		t.inserts++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idx.itemFromRecord(record, owned), nil
}

// InsertBatch inserts every entry under one transaction: repeated single
// inserts, committed together. Entries with a zero ID get generated UUIDs;
// the entries themselves are not modified, the returned items carry the ids.
func (idx *Index) InsertBatch(ctx context.Context, entries []*Item) ([]*Item, error) {
	results := make([]*Item, 0, len(entries))
	err := idx.mutate(ctx, func(t *txn) error {
		for _, entry := range entries {
			id := entry.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			owned, err := idx.prepareVector(entry.Vector)
			if err != nil {
				return err
			}
			metadata, err := idx.prepareMetadata(entry.Metadata)
			if err != nil {
				return err
			}
			var record *storage.ItemRecord
			if err := idx.stageInsert(ctx, t, id, owned, metadata, &record); err != nil {
				return err
			}
			t.inserts++
			results = append(results, idx.itemFromRecord(record, owned))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// stageInsert is the shared insert path; it runs inside mutate
func (idx *Index) stageInsert(ctx context.Context, t *txn, id uuid.UUID, vector []float32, metadata map[string]any, out **storage.ItemRecord) error {
	// Duplicate detection sees staged records first, then committed state
	var reap []uint32
	if staged, ok := t.records[id]; ok {
		if !staged.Deleted {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		reap = append(reap, staged.NodeID)
	} else if header, ok := idx.items[id]; ok {
		if !header.deleted {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		reap = append(reap, header.nodeID)
	}

	if idx.config.MaxElements > 0 {
		live, _ := idx.graph.StagedCounts()
		if live >= idx.config.MaxElements {
			return fmt.Errorf("%w: index is at max_elements %d", ErrInvalidInput, idx.config.MaxElements)
		}
	}

	// Re-inserting over a tombstone reclaims the old slot in the same commit
	for _, nodeID := range reap {
		if err := idx.graph.Reap(nodeID); err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		t.reapNodes = append(t.reapNodes, nodeID)
		t.freeList = append(t.freeList, nodeID)
		t.dirtyFree = true
	}

	nodeID := t.allocNode()
	if err := idx.backend.PutVector(nodeID, vector); err != nil {
		return err
	}
	if _, err := idx.graph.Insert(ctx, nodeID); err != nil {
		return idx.mapGraphErr(ctx, err)
	}

	now := idx.monotonicNow()
	record := &storage.ItemRecord{
		ID:        id,
		NodeID:    nodeID,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	t.records[id] = record
	*out = record
	return nil
}

// Get returns the committed item for an id, or ErrNotFound
func (idx *Index) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, ErrClosed
	}
	header, ok := idx.items[id]
	if !ok || header.deleted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	metadata, err := idx.metadataFor(header.nodeID)
	if err != nil {
		return nil, err
	}
	vector, err := idx.backend.GetVector(header.nodeID)
	if err != nil {
		return nil, err
	}

	return &Item{
		ID:        id,
		Vector:    append([]float32(nil), vector...),
		Metadata:  metadata,
		CreatedAt: timeFromStamp(header.createdAt),
		UpdatedAt: timeFromStamp(header.updatedAt),
		Version:   header.version,
	}, nil
}

// Update replaces the vector and/or metadata of an item, incrementing its
// version. A nil vector keeps the stored one; a nil metadata map keeps the
// stored document. Replacing the vector relocates the item to a fresh graph
// node; the old node is tombstoned until compaction.
func (idx *Index) Update(ctx context.Context, id uuid.UUID, vector []float32, metadata map[string]any) (*Item, error) {
	var owned []float32
	var err error
	if vector != nil {
		owned, err = idx.prepareVector(vector)
		if err != nil {
			return nil, err
		}
	}
	if metadata != nil {
		metadata, err = idx.prepareMetadata(metadata)
		if err != nil {
			return nil, err
		}
	}

	var updated *storage.ItemRecord
	err = idx.mutate(ctx, func(t *txn) error {
		record, err := idx.stagedRecord(t, id)
		if err != nil {
			return err
		}

		if owned != nil {
			if err := idx.graph.Delete(record.NodeID); err != nil {
				return fmt.Errorf("%w: %v", ErrInternal, err)
			}
			nodeID := t.allocNode()
			if err := idx.backend.PutVector(nodeID, owned); err != nil {
				return err
			}
			if _, err := idx.graph.Insert(ctx, nodeID); err != nil {
				return idx.mapGraphErr(ctx, err)
			}
			record.NodeID = nodeID
		}
		if metadata != nil {
			record.Metadata = metadata
		}
		record.Version++
		record.UpdatedAt = idx.monotonicNow()
		t.records[id] = record
		t.updates++
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	if owned == nil {
		idx.mu.RLock()
		stored, err := idx.backend.GetVector(updated.NodeID)
		idx.mu.RUnlock()
		if err != nil {
			return nil, err
		}
		owned = append([]float32(nil), stored...)
	}
	return idx.itemFromRecord(updated, owned), nil
}

// Delete tombstones an item. The graph node stops being returned by queries
// immediately; the slot is physically reclaimed by compaction, or earlier
// when the same id is inserted again.
func (idx *Index) Delete(ctx context.Context, id uuid.UUID) error {
	return idx.mutate(ctx, func(t *txn) error {
		record, err := idx.stagedRecord(t, id)
		if err != nil {
			return err
		}
		if err := idx.graph.Delete(record.NodeID); err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		record.Deleted = true
		record.Version++
		record.UpdatedAt = idx.monotonicNow()
		t.records[id] = record
		t.deletes++
		return nil
	})
}

// List returns a page of committed items ordered by id, optionally
// restricted by a metadata filter applied before pagination.
func (idx *Index) List(ctx context.Context, offset, limit int, f Filter) ([]*Item, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: offset %d, limit %d", ErrInvalidPagination, offset, limit)
	}
	var pred predicate
	if f != nil {
		var err error
		if pred, err = predicateOf(f); err != nil {
			return nil, err
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, ErrClosed
	}

	ids := make([]uuid.UUID, 0, len(idx.items))
	for id, header := range idx.items {
		if !header.deleted {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	items := make([]*Item, 0, limit)
	matched := 0
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		default:
		}

		header := idx.items[id]
		metadata, err := idx.metadataFor(header.nodeID)
		if err != nil {
			return nil, err
		}
		if pred != nil && !pred(metadata) {
			continue
		}
		if matched < offset {
			matched++
			continue
		}
		matched++

		vector, err := idx.backend.GetVector(header.nodeID)
		if err != nil {
			return nil, err
		}
		items = append(items, &Item{
			ID:        id,
			Vector:    append([]float32(nil), vector...),
			Metadata:  metadata,
			CreatedAt: timeFromStamp(header.createdAt),
			UpdatedAt: timeFromStamp(header.updatedAt),
			Version:   header.version,
		})
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

// stagedRecord returns the mutable staged record for an id, loading the
// committed record on first touch. ErrNotFound covers both missing and
// tombstoned items.
func (idx *Index) stagedRecord(t *txn, id uuid.UUID) (*storage.ItemRecord, error) {
	if record, ok := t.records[id]; ok {
		if record.Deleted {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return record, nil
	}

	header, ok := idx.items[id]
	if !ok || header.deleted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := idx.backend.GetMetadata(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: item record for %s missing", ErrCorruption, id)
		}
		return nil, err
	}
	return storage.DecodeItemRecord(data)
}

// prepareVector validates, copies and (for cosine) normalizes an input
// vector.
func (idx *Index) prepareVector(vector []float32) ([]float32, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	if len(vector) != idx.config.Dim {
		return nil, fmt.Errorf("%w: got %d, index dimension %d", ErrDimensionMismatch, len(vector), idx.config.Dim)
	}
	if !vmath.Finite(vector) {
		return nil, fmt.Errorf("%w: vector contains non-finite values", ErrInvalidInput)
	}

	owned := append([]float32(nil), vector...)
	if idx.config.Normalize {
		if !vmath.Normalize(owned) {
			return nil, fmt.Errorf("%w: zero vector cannot be normalized", ErrInvalidInput)
		}
	}
	return owned, nil
}

// prepareMetadata enforces the metadata configuration: size bound, the
// stored flag, and the fixed schema when dynamic is off.
func (idx *Index) prepareMetadata(metadata map[string]any) (map[string]any, error) {
	if metadata == nil || !idx.config.Metadata.Stored {
		return nil, nil
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata is not JSON-compatible", ErrInvalidInput)
	}
	if max := idx.config.Metadata.MaxSizeBytes; max > 0 && len(data) > max {
		return nil, fmt.Errorf("%w: %d bytes, bound %d", ErrMetadataTooLarge, len(data), max)
	}

	if !idx.config.Metadata.Dynamic {
		for _, path := range leafPaths(metadata, "") {
			if _, ok := idx.indexedPaths[path]; !ok {
				return nil, fmt.Errorf("%w: field %q is not in the fixed schema", ErrInvalidInput, path)
			}
		}
	}

	// Round-trip through JSON so stored values match what a reopen decodes
	var canonical map[string]any
	if err := json.Unmarshal(data, &canonical); err != nil {
		return nil, fmt.Errorf("%w: metadata round-trip failed", ErrInternal)
	}
	return canonical, nil
}

// leafPaths flattens a metadata document into dotted leaf paths
func leafPaths(meta map[string]any, prefix string) []string {
	var paths []string
	for key, value := range meta {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok && len(nested) > 0 {
			paths = append(paths, leafPaths(nested, path)...)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

func (idx *Index) itemFromRecord(record *storage.ItemRecord, vector []float32) *Item {
	return &Item{
		ID:        record.ID,
		Vector:    vector,
		Metadata:  record.Metadata,
		CreatedAt: timeFromStamp(record.CreatedAt),
		UpdatedAt: timeFromStamp(record.UpdatedAt),
		Version:   record.Version,
	}
}

// mapGraphErr converts cancellation surfaced by the graph into ErrCancelled
func (idx *Index) mapGraphErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if strings.Contains(err.Error(), "dimension") {
		return fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}
