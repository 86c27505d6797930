package memstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no live entry exists for a key.
	ErrNotFound = errors.New("entry not found")

	// ErrAlreadyExists is returned by CreateEntry when the key is taken.
	ErrAlreadyExists = errors.New("entry already exists")

	// ErrInvalidArgument is returned for negative offsets or lengths and out-of-range stream indexes.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupported is returned when sparse and non-sparse access are mixed on one entry,
	// or when a lifecycle call is made on a child entry.
	ErrUnsupported = errors.New("operation not supported")

	// ErrSizeLimitExceeded is returned when a write would grow a stream past the per-entry ceiling.
	ErrSizeLimitExceeded = errors.New("entry size limit exceeded")

	// ErrDoomed is returned when opening or using an entry that has been doomed and released.
	ErrDoomed = errors.New("entry is doomed")

	// ErrNotOpen is returned by Close on an entry with no open references.
	ErrNotOpen = errors.New("entry is not open")

	// ErrClosed is returned when the backend has been closed.
	ErrClosed = errors.New("backend closed")
)

// EntryTooLargeError reports a write whose end offset exceeds the per-entry ceiling.
type EntryTooLargeError struct {
	End   int64 // saturates at math.MaxInt64
	Limit int64
}

func (e *EntryTooLargeError) Error() string {
	return fmt.Sprintf("write end %d exceeds entry size limit %d", e.End, e.Limit)
}

func (e *EntryTooLargeError) Unwrap() error { return ErrSizeLimitExceeded }

func invalidStream(index int) error {
	return fmt.Errorf("%w: stream index %d out of range [0,%d)", ErrInvalidArgument, index, NumStreams)
}

func invalidOffset(offset int64) error {
	return fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, offset)
}
