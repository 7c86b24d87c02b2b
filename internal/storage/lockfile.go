package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/renameio"
)

// LockFileName is the advisory lock marker inside an index directory
const LockFileName = "lockfile"

// FormatVersionFileName holds the integer format version for bootstrap
// discovery before the KV store is opened.
const FormatVersionFileName = "format_version"

// DirLock holds the exclusive advisory lock on an index directory. A second
// opener fails with ErrLocked instead of blocking.
type DirLock struct {
	flock *flock.Flock
}

// AcquireDirLock takes the directory lock without blocking
func AcquireDirLock(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	fl := flock.New(filepath.Join(dir, LockFileName))
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire directory lock: %w", err)
	}
	if !acquired {
		return nil, ErrLocked
	}
	return &DirLock{flock: fl}, nil
}

// Release drops the lock; safe to call more than once
func (l *DirLock) Release() error {
	if l.flock == nil {
		return nil
	}
	err := l.flock.Unlock()
	l.flock = nil
	if err != nil {
		return fmt.Errorf("failed to release directory lock: %w", err)
	}
	return nil
}

// WriteFormatVersion writes the format_version file by atomic rename
func WriteFormatVersion(dir string) error {
	path := filepath.Join(dir, FormatVersionFileName)
	if err := renameio.WriteFile(path, fmt.Appendf(nil, "%d\n", FormatVersion), 0644); err != nil {
		return fmt.Errorf("failed to write format version: %w", err)
	}
	return nil
}

// CheckFormatVersion verifies the format_version file when present. A
// missing file reports exists=false with no error; the caller decides
// whether the directory may be initialized.
func CheckFormatVersion(dir string) (exists bool, err error) {
	path := filepath.Join(dir, FormatVersionFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read format version: %w", err)
	}

	var version int
	if _, err := fmt.Sscanf(string(data), "%d", &version); err != nil {
		return true, fmt.Errorf("%w: unreadable format_version", ErrCorruption)
	}
	if version != FormatVersion {
		return true, fmt.Errorf("%w: on-disk version %d, supported %d", ErrSchemaVersionMismatch, version, FormatVersion)
	}
	return true, nil
}
