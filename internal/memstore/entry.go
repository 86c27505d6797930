package memstore

import (
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/entrycache/internal/ranking"
)

// NumStreams is the number of independent data streams per entry.
const NumStreams = 3

// SparseStream is the stream that holds sparse data. Within a parent it
// backs the first sparse chunk; within a child it backs that child's chunk.
const SparseStream = 2

// Entry is one unit of storage: a keyed parent entry, or a child entry
// backing one chunk of a parent's sparse data.
//
// Parents are reference counted. Children have no references of their own;
// they belong to their parent's child table and are released when doomed
// or when the parent is released.
type Entry struct {
	b *Backend

	key     string
	parent  *Entry // nil for parents
	childID uint32

	data [NumStreams][]byte

	refCount  int
	doomed    bool
	destroyed bool

	lastUsed     time.Time
	lastModified time.Time

	handle ranking.Handle
	seq    uint64

	// Sparse state, parents only. children[0] is the parent itself.
	children map[uint32]*Entry
	present  *roaring.Bitmap

	// firstValid is the first in-chunk offset holding written sparse data.
	firstValid int
}

// Key returns the key of a parent entry and "" for a child.
func (e *Entry) Key() string { return e.key }

// IsChild reports whether e backs a sparse chunk of another entry.
func (e *Entry) IsChild() bool { return e.parent != nil }

// Parent returns the owning entry of a child, nil for a parent.
func (e *Entry) Parent() *Entry { return e.parent }

// LastUsed returns the time of the last read, write or open-by-hit.
func (e *Entry) LastUsed() time.Time { return e.lastUsed }

// LastModified returns the time of the last write.
func (e *Entry) LastModified() time.Time { return e.lastModified }

// Doomed reports whether the entry has been unbound from its key.
func (e *Entry) Doomed() bool { return e.doomed || e.destroyed }

// RefCount returns the number of open references.
func (e *Entry) RefCount() int { return e.refCount }

// InUse reports whether a caller holds the entry open. Children are never in use.
func (e *Entry) InUse() bool { return e.parent == nil && e.refCount > 0 }

// CouldBeSparse reports whether sparse I/O has been initialized on e.
func (e *Entry) CouldBeSparse() bool { return e.children != nil }

// DataSize returns the length of stream index, or 0 when index is out of range.
func (e *Entry) DataSize(index int) int64 {
	if index < 0 || index >= NumStreams {
		return 0
	}
	return int64(len(e.data[index]))
}

// StorageSize is the key length plus the length of every stream.
func (e *Entry) StorageSize() int64 {
	size := int64(len(e.key))
	for i := range e.data {
		size += int64(len(e.data[i]))
	}
	return size
}

// Open adds a reference. Opening a doomed entry fails.
func (e *Entry) Open() error {
	if e.parent != nil {
		return ErrUnsupported
	}
	if e.doomed || e.destroyed {
		return ErrDoomed
	}
	e.refCount++
	return nil
}

// Close drops a reference. The last Close of a doomed entry releases it.
func (e *Entry) Close() error {
	if e.parent != nil {
		return ErrUnsupported
	}
	if e.refCount == 0 {
		return ErrNotOpen
	}
	e.refCount--
	if e.refCount == 0 && e.doomed {
		e.destroy()
	}
	return nil
}

// Doom unbinds the entry from its key and the ranking. A parent is released
// once its last reference is closed; a child is released immediately.
func (e *Entry) Doom() {
	if e.parent != nil {
		if e.destroyed {
			return
		}
		e.b.onDoomed(e)
		e.destroy()
		return
	}

	if e.doomed {
		return
	}
	e.doomed = true
	e.b.onDoomed(e)
	if e.refCount == 0 {
		e.destroy()
	}
}

func (e *Entry) destroy() {
	if e.destroyed {
		return
	}
	e.destroyed = true

	if e.parent == nil && e.children != nil {
		children := e.children
		e.children = nil
		e.present = nil
		for id, c := range children {
			if id != 0 {
				c.Doom()
			}
		}
	} else if p := e.parent; p != nil && p.children != nil {
		delete(p.children, e.childID)
		p.present.Remove(e.childID)
	}

	size := e.StorageSize()
	for i := range e.data {
		e.data[i] = nil
	}
	e.b.modifyStorageSize(size, 0)
}

// Read copies up to len(p) bytes of stream index starting at offset.
// Reading at or past the end returns 0 and no error.
func (e *Entry) Read(index int, offset int64, p []byte) (int, error) {
	if index < 0 || index >= NumStreams {
		return 0, invalidStream(index)
	}
	if offset < 0 {
		return 0, invalidOffset(offset)
	}
	if index == SparseStream && e.children != nil {
		return 0, ErrUnsupported
	}
	if e.destroyed {
		return 0, ErrDoomed
	}
	return e.readData(index, offset, p), nil
}

// Write stores p at offset in stream index. The stream grows as needed and
// any gap between the old end and offset reads back as zeros. With truncate
// set the stream ends exactly at offset+len(p).
func (e *Entry) Write(index int, offset int64, p []byte, truncate bool) (int, error) {
	if index < 0 || index >= NumStreams {
		return 0, invalidStream(index)
	}
	if offset < 0 {
		return 0, invalidOffset(offset)
	}
	if index == SparseStream && e.children != nil {
		return 0, ErrUnsupported
	}
	if e.destroyed {
		return 0, ErrDoomed
	}
	return e.writeData(index, offset, p, truncate)
}

func (e *Entry) readData(index int, offset int64, p []byte) int {
	buf := e.data[index]
	if offset >= int64(len(buf)) || len(p) == 0 {
		return 0
	}
	n := copy(p, buf[offset:])
	e.touch(false)
	return n
}

func (e *Entry) writeData(index int, offset int64, p []byte, truncate bool) (int, error) {
	if offset > e.b.maxEntrySize-int64(len(p)) {
		end := int64(math.MaxInt64)
		if offset <= math.MaxInt64-int64(len(p)) {
			end = offset + int64(len(p))
		}
		return 0, &EntryTooLargeError{End: end, Limit: e.b.maxEntrySize}
	}
	end := offset + int64(len(p))

	oldLen := len(e.data[index])
	newLen := oldLen
	if truncate || int64(oldLen) < end {
		newLen = int(end)
	}

	prev := e.b.pinned
	e.b.pinned = e
	defer func() { e.b.pinned = prev }()

	if err := e.b.reserve(int64(newLen - oldLen)); err != nil {
		return 0, err
	}

	buf := resize(e.data[index], newLen)
	copy(buf[offset:], p)
	e.data[index] = buf

	e.touch(true)
	e.b.modifyStorageSize(int64(oldLen), int64(newLen))
	return len(p), nil
}

// touch records a use and moves e to the head of the ranking. Doomed entries
// are no longer ranked and only get their timestamps updated.
func (e *Entry) touch(modified bool) {
	now := e.b.now()
	e.lastUsed = now
	if modified {
		e.lastModified = now
	}
	if e.b.ranking.UpdateRank(e.handle) == nil {
		e.seq = e.b.nextSeq()
	}
}

// resize returns buf with length n. Bytes between the old length and n are zero.
func resize(buf []byte, n int) []byte {
	old := len(buf)
	switch {
	case n <= old:
		if n < cap(buf)/4 {
			shrunk := make([]byte, n)
			copy(shrunk, buf)
			return shrunk
		}
		return buf[:n]
	case n <= cap(buf):
		buf = buf[:n]
		clear(buf[old:])
		return buf
	default:
		grown := make([]byte, n, max(n, 2*cap(buf)))
		copy(grown, buf)
		return grown
	}
}
