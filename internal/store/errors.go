package store

import "errors"

var (
	// ErrNotOpen is returned when an operation targets a store that is not open.
	ErrNotOpen = errors.New("store not open")

	// ErrLockUnavailable is returned when the value log's exclusive lock is held
	// by another writer. The call did not modify anything and may be retried.
	ErrLockUnavailable = errors.New("value log lock unavailable")

	// ErrCorrupted is returned when the index references bytes the value log
	// does not have.
	ErrCorrupted = errors.New("index and value log out of sync")

	// ErrDecode is returned when a stored payload cannot be decoded by the codec.
	ErrDecode = errors.New("decode value")

	// ErrUnsupportedVersion is returned when an index file carries the magic
	// marker with a version this package cannot read.
	ErrUnsupportedVersion = errors.New("unsupported index version")

	ErrInvalidName = errors.New("invalid store name")
	ErrEmptyKey    = errors.New("key cannot be empty")
)
