package entrycache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/entrycache/internal/memstore"
)

var (
	// ErrNotFound is returned when no live entry exists for a key.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by CreateEntry when the key is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument is returned for negative offsets or lengths and
	// stream indexes outside [0, NumStreams).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupported is returned when sparse and regular access to stream 2
	// are mixed on one entry.
	ErrUnsupported = errors.New("not supported")

	// ErrSizeLimitExceeded is returned when a write would grow a stream past the
	// per-entry limit.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")

	// ErrDoomed is returned when an entry has been doomed and released.
	ErrDoomed = errors.New("doomed")

	// ErrNotOpen is returned when using an entry handle after Close.
	ErrNotOpen = errors.New("not open")

	// ErrClosed is returned by cache calls after Close.
	ErrClosed = errors.New("cache closed")
)

// ErrEntryTooLarge indicates a write whose end offset exceeds the per-entry limit.
//
// It matches ErrSizeLimitExceeded with errors.Is. The original underlying
// error can be accessed via errors.Unwrap.
type ErrEntryTooLarge struct {
	End   int64
	Limit int64
	cause error
}

func (e *ErrEntryTooLarge) Error() string {
	return fmt.Sprintf("entry too large: write ends at %d, limit is %d", e.End, e.Limit)
}

func (e *ErrEntryTooLarge) Unwrap() error { return e.cause }

// Is reports whether target is ErrSizeLimitExceeded.
func (e *ErrEntryTooLarge) Is(target error) bool { return target == ErrSizeLimitExceeded }

var errorMap = []struct {
	core, public error
}{
	{memstore.ErrNotFound, ErrNotFound},
	{memstore.ErrAlreadyExists, ErrAlreadyExists},
	{memstore.ErrInvalidArgument, ErrInvalidArgument},
	{memstore.ErrUnsupported, ErrUnsupported},
	{memstore.ErrSizeLimitExceeded, ErrSizeLimitExceeded},
	{memstore.ErrDoomed, ErrDoomed},
	{memstore.ErrNotOpen, ErrNotOpen},
	{memstore.ErrClosed, ErrClosed},
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var tl *memstore.EntryTooLargeError
	if errors.As(err, &tl) {
		return &ErrEntryTooLarge{End: tl.End, Limit: tl.Limit, cause: err}
	}

	for _, m := range errorMap {
		if errors.Is(err, m.core) {
			return fmt.Errorf("%w: %w", m.public, err)
		}
	}

	// resource.ErrMemoryLimitExceeded and anything else pass through.
	return err
}
