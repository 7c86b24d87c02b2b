// Package storage defines the persistence contract shared by the optimized
// (LSM + mmap) and legacy (JSON document) backends, plus the record types
// both serialize.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Storage-level sentinel errors; they bubble unchanged through the index
// into the query engine.
var (
	ErrNotFound              = errors.New("record not found")
	ErrCorruption            = errors.New("storage corruption detected")
	ErrLocked                = errors.New("index directory is locked by another process")
	ErrSchemaVersionMismatch = errors.New("unsupported on-disk format version")
)

// Batch is the atomic unit of a commit: the backend applies everything or
// nothing. Vector rows are written through PutVector while staging; the
// batch carries the durability point (msync + KV write + manifest).
type Batch struct {
	Items        map[uuid.UUID][]byte
	DeletedItems []uuid.UUID
	GraphNodes   map[uint32][]byte
	DeletedNodes []uint32
	FreeList     []byte
	Manifest     []byte
}

// NewBatch returns an empty batch
func NewBatch() *Batch {
	return &Batch{
		Items:      make(map[uuid.UUID][]byte),
		GraphNodes: make(map[uint32][]byte),
	}
}

// Backend persists vectors, item metadata records, graph-node records, the
// manifest and the free list. Implementations are single-writer; the engine
// serializes all mutating calls.
type Backend interface {
	// PutVector writes the vector row for a node id. Rows written outside a
	// committed batch are don't-care bytes until a manifest references them.
	PutVector(id uint32, vector []float32) error

	// GetVector returns a borrowed, read-only view of a vector row, valid
	// until the backend is closed or compacted or the vector file grows
	GetVector(id uint32) ([]float32, error)

	// GetMetadata returns the item record for a uuid, or ErrNotFound
	GetMetadata(id uuid.UUID) ([]byte, error)

	// ScanMetadata visits every item record in unspecified order
	ScanMetadata(fn func(id uuid.UUID, data []byte) error) error

	// GetGraphNode returns the serialized neighbor record, or ErrNotFound
	GetGraphNode(id uint32) ([]byte, error)

	// ScanGraphNodes visits every graph-node record
	ScanGraphNodes(fn func(id uint32, data []byte) error) error

	// GetManifest returns the manifest record, or ErrNotFound on a fresh
	// directory
	GetManifest() ([]byte, error)

	// GetFreeList returns the reclaimed-id record, or ErrNotFound
	GetFreeList() ([]byte, error)

	// ApplyBatch makes a commit durable: syncs touched vector rows, applies
	// every KV write atomically, and rewrites the bootstrap manifest copy
	ApplyBatch(ctx context.Context, batch *Batch) error

	// DiscardPending drops vector rows staged since the last ApplyBatch;
	// called on rollback
	DiscardPending()

	// Flush pushes buffered writes toward the OS without fsync
	Flush() error

	// Sync forces all state to stable storage
	Sync() error

	// Close releases the backend and the directory lock
	Close() error
}
