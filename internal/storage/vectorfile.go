package storage

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"unsafe"
)

// growChunk is the page-aligned unit the vector file is extended by
const growChunk = 1 << 20

const pageSize = 4096

// VectorFile is the fixed-stride memory-mapped vector store: row i holds the
// D float32 components of node id i at byte offset i*D*4. Reclaimed rows are
// don't-care bytes until overwritten. Reads return borrowed views into the
// mapping; the writer mutates rows only under the engine's write lock.
type VectorFile struct {
	mu     sync.RWMutex
	file   *os.File
	data   []byte
	size   int64
	dim    int
	stride int64
	path   string
}

// OpenVectorFile opens or creates vectors.bin for the given dimensionality
func OpenVectorFile(path string, dim int) (*VectorFile, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive")
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat vector file: %w", err)
	}

	size := stat.Size()
	if size == 0 {
		size = growChunk
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to size vector file: %w", err)
		}
	}

	data, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap vector file: %w", err)
	}

	return &VectorFile{
		file:   file,
		data:   data,
		size:   size,
		dim:    dim,
		stride: int64(dim) * 4,
		path:   path,
	}, nil
}

// Dim returns the row dimensionality
func (v *VectorFile) Dim() int {
	return v.dim
}

// Put writes the vector row for a node id, growing the file as needed
func (v *VectorFile) Put(id uint32, vector []float32) error {
	if len(vector) != v.dim {
		return fmt.Errorf("vector length %d does not match file stride %d", len(vector), v.dim)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.data == nil {
		return fmt.Errorf("vector file is closed")
	}

	offset := int64(id) * v.stride
	if offset+v.stride > v.size {
		if err := v.grow(offset + v.stride); err != nil {
			return err
		}
	}

	row := unsafe.Slice((*float32)(unsafe.Pointer(&v.data[offset])), v.dim)
	copy(row, vector)
	return nil
}

// Get returns a borrowed read-only view of a vector row. The view stays
// valid until the file is grown, compacted or closed; callers needing an
// owned copy must copy.
func (v *VectorFile) Get(id uint32) ([]float32, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.data == nil {
		return nil, fmt.Errorf("vector file is closed")
	}

	offset := int64(id) * v.stride
	if offset+v.stride > v.size {
		return nil, fmt.Errorf("%w: vector row %d beyond file end", ErrNotFound, id)
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&v.data[offset])), v.dim), nil
}

// Sync msyncs the mapping so committed rows are durable
func (v *VectorFile) Sync() error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.data == nil {
		return fmt.Errorf("vector file is closed")
	}

	_, _, errno := syscall.Syscall(syscall.SYS_MSYNC,
		uintptr(unsafe.Pointer(&v.data[0])),
		uintptr(v.size),
		syscall.MS_SYNC)
	if errno != 0 {
		return fmt.Errorf("msync failed: %v", errno)
	}
	return nil
}

// Path returns the backing file path
func (v *VectorFile) Path() string {
	return v.path
}

// Close unmaps and closes the file
func (v *VectorFile) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var err error
	if v.data != nil {
		if unmapErr := syscall.Munmap(v.data); unmapErr != nil {
			err = fmt.Errorf("failed to unmap vector file: %w", unmapErr)
		}
		v.data = nil
	}
	if v.file != nil {
		if closeErr := v.file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close vector file: %w", closeErr)
		}
		v.file = nil
	}
	return err
}

// grow extends the mapping in page-aligned chunks; must hold the write lock
func (v *VectorFile) grow(needed int64) error {
	newSize := v.size
	for newSize < needed {
		newSize += growChunk
	}
	return v.remap(alignPage(newSize))
}

func (v *VectorFile) remap(newSize int64) error {
	if err := syscall.Munmap(v.data); err != nil {
		return fmt.Errorf("failed to unmap vector file: %w", err)
	}
	v.data = nil

	if err := v.file.Truncate(newSize); err != nil {
		return fmt.Errorf("failed to resize vector file: %w", err)
	}

	data, err := syscall.Mmap(int(v.file.Fd()), 0, int(newSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to remap vector file: %w", err)
	}

	v.data = data
	v.size = newSize
	return nil
}

func alignPage(n int64) int64 {
	return (n + pageSize - 1) &^ (pageSize - 1)
}
