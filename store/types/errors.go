package types

import "fmt"

type errorType string

func (e errorType) Error() string {
	return string(e)
}

const (
	// ErrClosedStore is returned by every operation on a store that has been
	// closed.
	ErrClosedStore = errorType("store is closed")

	// ErrKeyNotFound indicates that the index refers to a key whose value
	// could not be loaded. It signals index/log inconsistency, not absence.
	ErrKeyNotFound = errorType("key in index but not found in value log")

	// ErrOutOfBounds indicates a value log offset beyond the end of the log.
	ErrOutOfBounds = errorType("offset is out of bounds")

	// ErrChecksum indicates a value log record whose payload does not match
	// its stored checksum.
	ErrChecksum = errorType("record checksum mismatch")
)

// ErrTypeMismatch is returned when a store is opened with codecs that differ
// from the ones it was created with.
type ErrTypeMismatch struct {
	Stored   string
	Expected string
}

func (e ErrTypeMismatch) Error() string {
	return fmt.Sprintf("storage contains %q; expected %q", e.Stored, e.Expected)
}

// ErrCorruptIndex is returned when the persisted key index is truncated or
// malformed.
type ErrCorruptIndex struct {
	Path string
	Err  error
}

func (e *ErrCorruptIndex) Error() string {
	return fmt.Sprintf("corrupt key index %s: %s", e.Path, e.Err)
}

func (e *ErrCorruptIndex) Unwrap() error {
	return e.Err
}

// ErrIOFailure wraps a failure of the underlying storage.
type ErrIOFailure struct {
	Op  string
	Err error
}

func (e *ErrIOFailure) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ErrIOFailure) Unwrap() error {
	return e.Err
}
