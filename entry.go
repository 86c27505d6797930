package entrycache

import (
	"time"

	"github.com/hupe1980/entrycache/internal/memstore"
)

// Entry is an open handle to a cache entry. Each handle holds one reference
// and must be closed exactly once. A handle stays valid after the entry is
// doomed or the cache is closed.
type Entry struct {
	c      *Cache
	e      *memstore.Entry
	closed bool
}

// Close releases the handle. Closing a handle twice returns ErrNotOpen.
func (h *Entry) Close() error {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()

	if h.closed {
		return ErrNotOpen
	}
	h.closed = true
	return translateError(h.e.Close())
}

// Doom removes the entry from the cache. The handle stays usable.
func (h *Entry) Doom() {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()

	if h.closed {
		return
	}
	h.c.metrics.RecordDoom()
	h.c.logger.LogDoom(h.e.Key())
	h.e.Doom()
}

// Key returns the key the entry was created with.
func (h *Entry) Key() string {
	return h.e.Key()
}

// DataSize returns the length of stream index, or 0 for an invalid index.
func (h *Entry) DataSize(index int) int64 {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.e.DataSize(index)
}

// LastUsed returns the time of the last read, write or external hit.
func (h *Entry) LastUsed() time.Time {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.e.LastUsed()
}

// LastModified returns the time of the last write.
func (h *Entry) LastModified() time.Time {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.e.LastModified()
}

// CouldBeSparse reports whether sparse I/O has been used on the entry.
func (h *Entry) CouldBeSparse() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.e.CouldBeSparse()
}

// Read copies up to len(p) bytes of stream index starting at offset and
// returns the number of bytes copied. Reading at or past the end returns 0.
func (h *Entry) Read(index int, offset int64, p []byte) (int, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()

	if h.closed {
		return 0, ErrNotOpen
	}
	n, err := h.e.Read(index, offset, p)
	h.c.metrics.RecordRead(n, err)
	return n, translateError(err)
}

// Write stores p at offset in stream index. A gap between the previous end
// and offset reads back as zeros. With truncate set the stream ends exactly
// at offset+len(p).
func (h *Entry) Write(index int, offset int64, p []byte, truncate bool) (int, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()

	if h.closed {
		return 0, ErrNotOpen
	}
	n, err := h.e.Write(index, offset, p, truncate)
	h.c.metrics.RecordWrite(n, err)
	return n, translateError(err)
}

// ReadSparse reads sparse data at offset. It stops at the first byte that
// was never written, so it may return fewer than len(p) bytes.
func (h *Entry) ReadSparse(offset int64, p []byte) (int, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()

	if h.closed {
		return 0, ErrNotOpen
	}
	n, err := h.e.ReadSparse(offset, p)
	h.c.metrics.RecordRead(n, err)
	return n, translateError(err)
}

// WriteSparse writes p at sparse offset. On error the returned count is the
// number of bytes that were stored before the failure.
func (h *Entry) WriteSparse(offset int64, p []byte) (int, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()

	if h.closed {
		return 0, ErrNotOpen
	}
	n, err := h.e.WriteSparse(offset, p)
	h.c.metrics.RecordWrite(n, err)
	return n, translateError(err)
}

// GetAvailableRange returns the first written sparse byte in
// [offset, offset+length) and the number of contiguous written bytes from
// there. It returns (offset, 0) when nothing in the window was written.
func (h *Entry) GetAvailableRange(offset int64, length int) (start int64, n int, err error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()

	if h.closed {
		return offset, 0, ErrNotOpen
	}
	start, n, err = h.e.GetAvailableRange(offset, length)
	return start, n, translateError(err)
}
