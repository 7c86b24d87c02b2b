// Package legacy implements the JSON-document storage backend kept for
// reading older data and migration: the whole item family lives in a single
// document rewritten atomically by rename-into-place. It is only accepted
// for datasets below a size bound given at open time.
package legacy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/xDarkicex/vektordb/internal/storage"
)

const documentName = "index.json"

// DefaultMaxItems is the size bound applied when the caller gives none
const DefaultMaxItems = 100_000

// document is the on-disk shape of a legacy index
type document struct {
	FormatVersion int                        `json:"format_version"`
	Manifest      json.RawMessage            `json:"manifest,omitempty"`
	Items         map[string]json.RawMessage `json:"items"`
	Graph         map[string][]byte          `json:"graph"`
	Vectors       map[string][]float32       `json:"vectors"`
	FreeList      json.RawMessage            `json:"free_list,omitempty"`
}

// Backend is the legacy JSON-document backend
type Backend struct {
	dir      string
	lock     *storage.DirLock
	doc      *document
	pending  map[string][]float32 // vector rows staged since the last batch
	maxItems int
}

// Options configures opening a legacy backend
type Options struct {
	CreateIfMissing bool
	MaxItems        int // size bound; DefaultMaxItems when zero
}

// Open acquires the directory lock and loads the document
func Open(dir string, opts Options) (*Backend, error) {
	lock, err := storage.AcquireDirLock(dir)
	if err != nil {
		return nil, err
	}

	backend, err := openLocked(dir, opts, lock)
	if err != nil {
		lock.Release()
		return nil, err
	}
	return backend, nil
}

func openLocked(dir string, opts Options, lock *storage.DirLock) (*Backend, error) {
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	backend := &Backend{dir: dir, lock: lock, maxItems: maxItems}

	data, err := os.ReadFile(filepath.Join(dir, documentName))
	switch {
	case os.IsNotExist(err):
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("%w: no legacy index at %s", storage.ErrNotFound, dir)
		}
		if err := storage.WriteFormatVersion(dir); err != nil {
			return nil, err
		}
		backend.doc = &document{
			FormatVersion: storage.FormatVersion,
			Items:         make(map[string]json.RawMessage),
			Graph:         make(map[string][]byte),
			Vectors:       make(map[string][]float32),
		}
		return backend, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read legacy document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed legacy document: %v", storage.ErrCorruption, err)
	}
	if doc.FormatVersion != storage.FormatVersion {
		return nil, fmt.Errorf("%w: legacy document version %d", storage.ErrSchemaVersionMismatch, doc.FormatVersion)
	}
	if len(doc.Items) > maxItems {
		return nil, fmt.Errorf("legacy backend refuses %d items (bound %d)", len(doc.Items), maxItems)
	}
	if doc.Items == nil {
		doc.Items = make(map[string]json.RawMessage)
	}
	if doc.Graph == nil {
		doc.Graph = make(map[string][]byte)
	}
	if doc.Vectors == nil {
		doc.Vectors = make(map[string][]float32)
	}

	backend.doc = &doc
	return backend, nil
}

// PutVector stages a vector row; it reaches the document at the next batch
func (b *Backend) PutVector(id uint32, vector []float32) error {
	if b.pending == nil {
		b.pending = make(map[string][]float32)
	}
	b.pending[nodeKey(id)] = append([]float32(nil), vector...)
	return nil
}

// GetVector returns the staged or stored vector row
func (b *Backend) GetVector(id uint32) ([]float32, error) {
	if vector, ok := b.pending[nodeKey(id)]; ok {
		return vector, nil
	}
	vector, ok := b.doc.Vectors[nodeKey(id)]
	if !ok {
		return nil, fmt.Errorf("%w: vector row %d", storage.ErrNotFound, id)
	}
	return vector, nil
}

// DiscardPending drops staged vector rows on rollback
func (b *Backend) DiscardPending() {
	b.pending = nil
}

// GetMetadata returns the item record for a uuid
func (b *Backend) GetMetadata(id uuid.UUID) ([]byte, error) {
	data, ok := b.doc.Items[id.String()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

// ScanMetadata visits every item record
func (b *Backend) ScanMetadata(fn func(id uuid.UUID, data []byte) error) error {
	for key, data := range b.doc.Items {
		id, err := uuid.Parse(key)
		if err != nil {
			return fmt.Errorf("%w: malformed item key %q", storage.ErrCorruption, key)
		}
		if err := fn(id, data); err != nil {
			return err
		}
	}
	return nil
}

// GetGraphNode returns the serialized neighbor record for a node id
func (b *Backend) GetGraphNode(id uint32) ([]byte, error) {
	data, ok := b.doc.Graph[nodeKey(id)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

// ScanGraphNodes visits every graph-node record
func (b *Backend) ScanGraphNodes(fn func(id uint32, data []byte) error) error {
	for key, data := range b.doc.Graph {
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: malformed graph key %q", storage.ErrCorruption, key)
		}
		if err := fn(uint32(id), data); err != nil {
			return err
		}
	}
	return nil
}

// GetManifest returns the manifest record
func (b *Backend) GetManifest() ([]byte, error) {
	if b.doc.Manifest == nil {
		return nil, storage.ErrNotFound
	}
	return b.doc.Manifest, nil
}

// GetFreeList returns the reclaimed-id record
func (b *Backend) GetFreeList() ([]byte, error) {
	if b.doc.FreeList == nil {
		return nil, storage.ErrNotFound
	}
	return b.doc.FreeList, nil
}

// ApplyBatch folds the batch into the document and rewrites it atomically
func (b *Backend) ApplyBatch(ctx context.Context, batch *storage.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Deletes go first: a node id reclaimed and reused inside one commit
	// appears on both sides, and the write must win.
	for _, id := range batch.DeletedItems {
		delete(b.doc.Items, id.String())
	}
	for _, id := range batch.DeletedNodes {
		delete(b.doc.Graph, nodeKey(id))
		delete(b.doc.Vectors, nodeKey(id))
	}

	for key, vector := range b.pending {
		b.doc.Vectors[key] = vector
	}
	b.pending = nil

	for id, data := range batch.Items {
		b.doc.Items[id.String()] = data
	}
	for id, data := range batch.GraphNodes {
		b.doc.Graph[nodeKey(id)] = data
	}
	if batch.FreeList != nil {
		b.doc.FreeList = batch.FreeList
	}
	if batch.Manifest != nil {
		b.doc.Manifest = batch.Manifest
	}

	if len(b.doc.Items) > b.maxItems {
		return fmt.Errorf("legacy backend size bound %d exceeded", b.maxItems)
	}
	return b.rewrite()
}

// Flush is a no-op; the document is rewritten whole at every batch
func (b *Backend) Flush() error {
	return nil
}

// Sync rewrites the document
func (b *Backend) Sync() error {
	return b.rewrite()
}

// Close releases the directory lock
func (b *Backend) Close() error {
	if b.lock == nil {
		return nil
	}
	err := b.lock.Release()
	b.lock = nil
	return err
}

func (b *Backend) rewrite() error {
	data, err := json.Marshal(b.doc)
	if err != nil {
		return fmt.Errorf("failed to encode legacy document: %w", err)
	}
	path := filepath.Join(b.dir, documentName)
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write legacy document: %w", err)
	}
	return nil
}

func nodeKey(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
