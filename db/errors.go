package db

import "errors"

var (
	// ErrNotFound is returned when neither key form resolves to an entry.
	ErrNotFound = errors.New("entry not found")

	// ErrDuplicateKey is returned when a data id or example id is already
	// taken, whether committed or still staged in the write buffer.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrReadOnly is returned on any write attempt against a read-mode handle.
	ErrReadOnly = errors.New("store is read-only")

	// ErrAlreadyLocked is returned when opening in write mode while another
	// live writer holds the store.
	ErrAlreadyLocked = errors.New("store is locked by another writer")

	// ErrSchemaMismatch is returned when an existing file does not carry the
	// expected table layout or carries a newer schema version.
	ErrSchemaMismatch = errors.New("incompatible store schema")

	// ErrCodecMismatch is returned when an existing file was written with a
	// different codec than the one requested at open time.
	ErrCodecMismatch = errors.New("store codec mismatch")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("store is closed")
)
