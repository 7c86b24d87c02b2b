// Package kvbadger implements the optimized storage backend: a Badger
// LSM-tree holding item records, graph-node records, manifest and free list,
// next to the fixed-stride memory-mapped vector file. Badger's write-ahead
// log and atomic write batches provide the commit guarantees; the manifest
// written inside the batch is the commit point.
package kvbadger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/xDarkicex/vektordb/internal/storage"
)

// Key prefixes, single-byte for compact keys
const (
	prefixItem     = byte('i') // 'i' + 16-byte uuid -> item record
	prefixGraph    = byte('g') // 'g' + big-endian uint32 -> neighbor record
	prefixManifest = byte('M') // manifest record
	prefixFreeList = byte('F') // reclaimed node ids
)

const (
	kvDirName         = "kv"
	vectorFileName    = "vectors.bin"
	manifestBootstrap = "manifest"
)

// Batch aliases the storage batch type for callers of this package
type Batch = storage.Batch

// Options configures opening a backend
type Options struct {
	// CreateIfMissing initializes a fresh directory; without it, opening a
	// directory with no manifest fails.
	CreateIfMissing bool

	// Dim is the vector dimensionality for a fresh directory; existing
	// directories take it from the manifest.
	Dim int

	// SyncWrites forces fsync on every KV commit. The zero value leaves it
	// off; vektordb.Create and vektordb.Open turn it on unless
	// WithSyncWrites(false) is given.
	SyncWrites bool
}

// Backend is the optimized storage backend
type Backend struct {
	dir     string
	lock    *storage.DirLock
	db      *badger.DB
	vectors *storage.VectorFile
	gen     int

	// compaction staging: the next vector-file generation being built
	staged    *storage.VectorFile
	stagedGen int
}

// Open acquires the directory lock and opens the KV store and vector file.
// It fails with storage.ErrLocked if another process holds the directory.
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
	hasVersion, err := storage.CheckFormatVersion(dir)
	if err != nil {
		return nil, err
	}
	if !hasVersion {
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("%w: no index at %s", storage.ErrNotFound, dir)
		}
		if err := storage.WriteFormatVersion(dir); err != nil {
			return nil, err
		}
	}

	badgerOpts := badger.DefaultOptions(filepath.Join(dir, kvDirName)).
		WithLogger(nil).
		WithSyncWrites(opts.SyncWrites)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}

	backend := &Backend{dir: dir, lock: lock, db: db}

	dim := opts.Dim
	manifestData, err := backend.GetManifest()
	switch {
	case err == nil:
		manifest, err := storage.DecodeManifest(manifestData)
		if err != nil {
			db.Close()
			return nil, err
		}
		dim = manifest.Dim
		backend.gen = manifest.VectorGen
	case errors.Is(err, storage.ErrNotFound):
		if !opts.CreateIfMissing || dim <= 0 {
			db.Close()
			return nil, fmt.Errorf("%w: index has no manifest", storage.ErrNotFound)
		}
	default:
		db.Close()
		return nil, err
	}

	// Drop vector-file generations the manifest does not reference; a crash
	// mid-compaction can leave one behind on either side of the switch.
	current := vectorPath(dir, backend.gen)
	if stale, err := filepath.Glob(filepath.Join(dir, "vectors*.bin")); err == nil {
		for _, path := range stale {
			if path != current {
				os.Remove(path)
			}
		}
	}

	vectors, err := storage.OpenVectorFile(current, dim)
	if err != nil {
		db.Close()
		return nil, err
	}
	backend.vectors = vectors

	return backend, nil
}

// vectorPath names a vector-file generation; generation 0 keeps the plain
// vectors.bin name.
func vectorPath(dir string, gen int) string {
	if gen == 0 {
		return filepath.Join(dir, vectorFileName)
	}
	return filepath.Join(dir, fmt.Sprintf("vectors.%d.bin", gen))
}

// PutVector writes a vector row; durability comes with the next ApplyBatch
func (b *Backend) PutVector(id uint32, vector []float32) error {
	return b.vectors.Put(id, vector)
}

// GetVector returns a borrowed view of a vector row
func (b *Backend) GetVector(id uint32) ([]float32, error) {
	return b.vectors.Get(id)
}

// VectorGeneration returns the vector-file generation in use
func (b *Backend) VectorGeneration() int {
	return b.gen
}

// StageVectorGeneration builds the next vector-file generation from a full
// row snapshot and syncs it. The current generation stays live until
// CommitVectorGeneration.
func (b *Backend) StageVectorGeneration(gen int, rows [][]float32) error {
	if b.staged != nil {
		return fmt.Errorf("vector generation %d already staged", b.stagedGen)
	}

	staged, err := storage.OpenVectorFile(vectorPath(b.dir, gen), b.vectors.Dim())
	if err != nil {
		return err
	}
	for id, row := range rows {
		if err := staged.Put(uint32(id), row); err != nil {
			staged.Close()
			os.Remove(vectorPath(b.dir, gen))
			return err
		}
	}
	if err := staged.Sync(); err != nil {
		staged.Close()
		os.Remove(vectorPath(b.dir, gen))
		return err
	}

	b.staged = staged
	b.stagedGen = gen
	return nil
}

// CommitVectorGeneration switches reads to the staged generation and
// removes the old file. Called after the batch carrying the new manifest
// has landed.
func (b *Backend) CommitVectorGeneration() error {
	if b.staged == nil {
		return fmt.Errorf("no vector generation staged")
	}
	old := b.vectors
	oldPath := old.Path()
	b.vectors = b.staged
	b.gen = b.stagedGen
	b.staged = nil

	if err := old.Close(); err != nil {
		return err
	}
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old vector file: %w", err)
	}
	return nil
}

// AbortVectorGeneration discards a staged generation after a failed
// compaction commit.
func (b *Backend) AbortVectorGeneration() {
	if b.staged == nil {
		return
	}
	path := b.staged.Path()
	b.staged.Close()
	os.Remove(path)
	b.staged = nil
}

// DiscardPending is a no-op: rows staged into the mmap without a committed
// manifest referencing them are don't-care bytes.
func (b *Backend) DiscardPending() {}

// GetMetadata returns the item record for a uuid
func (b *Backend) GetMetadata(id uuid.UUID) ([]byte, error) {
	return b.get(itemKey(id))
}

// ScanMetadata visits every item record
func (b *Backend) ScanMetadata(fn func(id uuid.UUID, data []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte{prefixItem}
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 17 {
				return fmt.Errorf("%w: malformed item key", storage.ErrCorruption)
			}
			var id uuid.UUID
			copy(id[:], key[1:])

			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read item record: %w", err)
			}
			if err := fn(id, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetGraphNode returns the serialized neighbor record for a node id
func (b *Backend) GetGraphNode(id uint32) ([]byte, error) {
	return b.get(graphKey(id))
}

// ScanGraphNodes visits every graph-node record
func (b *Backend) ScanGraphNodes(fn func(id uint32, data []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte{prefixGraph}
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 5 {
				return fmt.Errorf("%w: malformed graph key", storage.ErrCorruption)
			}
			id := binary.BigEndian.Uint32(key[1:])

			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read graph record: %w", err)
			}
			if err := fn(id, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetManifest returns the canonical manifest record from the KV store
func (b *Backend) GetManifest() ([]byte, error) {
	return b.get([]byte{prefixManifest})
}

// GetFreeList returns the reclaimed-id record
func (b *Backend) GetFreeList() ([]byte, error) {
	return b.get([]byte{prefixFreeList})
}

// ApplyBatch realizes the commit protocol: msync the vector mmap, apply all
// KV writes (manifest included) as one atomic Badger batch, then refresh the
// bootstrap manifest copy by rename. A crash before the batch lands leaves
// the prior manifest in place and the staged vector rows as don't-care
// bytes.
func (b *Backend) ApplyBatch(ctx context.Context, batch *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.vectors.Sync(); err != nil {
		return fmt.Errorf("failed to sync vector file: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	// Deletes go first: a node id reclaimed and reused inside one commit
	// appears on both sides, and the write must win.
	for _, id := range batch.DeletedItems {
		if err := wb.Delete(itemKey(id)); err != nil {
			return fmt.Errorf("failed to stage item delete: %w", err)
		}
	}
	for _, id := range batch.DeletedNodes {
		if err := wb.Delete(graphKey(id)); err != nil {
			return fmt.Errorf("failed to stage graph delete: %w", err)
		}
	}
	for id, data := range batch.Items {
		if err := wb.Set(itemKey(id), data); err != nil {
			return fmt.Errorf("failed to stage item write: %w", err)
		}
	}
	for id, data := range batch.GraphNodes {
		if err := wb.Set(graphKey(id), data); err != nil {
			return fmt.Errorf("failed to stage graph write: %w", err)
		}
	}
	if batch.FreeList != nil {
		if err := wb.Set([]byte{prefixFreeList}, batch.FreeList); err != nil {
			return fmt.Errorf("failed to stage free list: %w", err)
		}
	}
	if batch.Manifest != nil {
		if err := wb.Set([]byte{prefixManifest}, batch.Manifest); err != nil {
			return fmt.Errorf("failed to stage manifest: %w", err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to commit kv batch: %w", err)
	}

	if batch.Manifest != nil {
		path := filepath.Join(b.dir, manifestBootstrap)
		if err := renameio.WriteFile(path, batch.Manifest, 0644); err != nil {
			return fmt.Errorf("failed to write bootstrap manifest: %w", err)
		}
	}
	return nil
}

// Flush pushes buffered vector writes toward the OS
func (b *Backend) Flush() error {
	return nil // mmap writes are already in the page cache
}

// Sync forces everything to stable storage
func (b *Backend) Sync() error {
	if err := b.vectors.Sync(); err != nil {
		return err
	}
	if err := b.db.Sync(); err != nil {
		return fmt.Errorf("failed to sync kv store: %w", err)
	}
	return nil
}

// Close shuts the backend down and releases the directory lock
func (b *Backend) Close() error {
	var firstErr error
	b.AbortVectorGeneration()
	if b.vectors != nil {
		if err := b.vectors.Close(); err != nil {
			firstErr = err
		}
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close kv store: %w", err)
		}
	}
	if b.lock != nil {
		if err := b.lock.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Destroy removes an index directory entirely; used by delete_if_exists
func Destroy(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove index directory: %w", err)
	}
	return nil
}

func (b *Backend) get(key []byte) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv read failed: %w", err)
	}
	return data, nil
}

func itemKey(id uuid.UUID) []byte {
	key := make([]byte, 17)
	key[0] = prefixItem
	copy(key[1:], id[:])
	return key
}

func graphKey(id uint32) []byte {
	key := make([]byte, 5)
	key[0] = prefixGraph
	binary.BigEndian.PutUint32(key[1:], id)
	return key
}
