package vektordb

import (
	"errors"
	"fmt"

	"github.com/xDarkicex/vektordb/internal/storage"
)

// Core errors
var (
	ErrClosed        = errors.New("index is closed")
	ErrNotFound      = errors.New("item not found")
	ErrAlreadyExists = errors.New("index already exists")
	ErrInvalidState  = errors.New("invalid transaction state")
	ErrCancelled     = errors.New("operation cancelled")
	ErrInternal      = errors.New("internal error")
)

// Input validation errors, all matching ErrInvalidInput via errors.Is
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", ErrInvalidInput)
	ErrEmptyVector       = fmt.Errorf("%w: vector is empty", ErrInvalidInput)
	ErrInvalidK          = fmt.Errorf("%w: k must be positive", ErrInvalidInput)
	ErrMetadataTooLarge  = fmt.Errorf("%w: metadata exceeds configured size", ErrInvalidInput)
	ErrInvalidID         = fmt.Errorf("%w: malformed item id", ErrInvalidInput)
	ErrInvalidPagination = fmt.Errorf("%w: invalid pagination bounds", ErrInvalidInput)
	ErrInvalidConfig     = fmt.Errorf("%w: invalid index configuration", ErrInvalidInput)
)

// ErrDuplicateID reports an insert with an id that already exists
var ErrDuplicateID = errors.New("item id already exists")

// Storage errors surface unchanged from the storage layer
var (
	ErrCorruption            = storage.ErrCorruption
	ErrLocked                = storage.ErrLocked
	ErrSchemaVersionMismatch = storage.ErrSchemaVersionMismatch
)
