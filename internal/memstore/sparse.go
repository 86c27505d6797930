package memstore

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	// SparseChunkBits is log2 of the sparse chunk size.
	SparseChunkBits = 12
	// SparseChunkSize is the span of sparse address space one child covers.
	SparseChunkSize = 1 << SparseChunkBits

	// MaxSparseOffset bounds sparse addresses so chunk ids fit in a uint32.
	MaxSparseOffset = int64(math.MaxUint32+1) << SparseChunkBits
)

func chunkID(offset int64) uint32 { return uint32(offset >> SparseChunkBits) }

func chunkOffset(offset int64) int { return int(offset & (SparseChunkSize - 1)) }

func checkSparseRange(offset int64, length int) error {
	if offset < 0 {
		return invalidOffset(offset)
	}
	if length < 0 {
		return fmt.Errorf("%w: negative length %d", ErrInvalidArgument, length)
	}
	if offset > MaxSparseOffset-int64(length) {
		return fmt.Errorf("%w: sparse range [%d,+%d) beyond %d", ErrInvalidArgument, offset, length, MaxSparseOffset)
	}
	return nil
}

// initSparse enables sparse I/O on a parent. It fails when the sparse stream
// already holds regular data.
func (e *Entry) initSparse() error {
	if e.parent != nil {
		return ErrUnsupported
	}
	if e.children != nil {
		return nil
	}
	if len(e.data[SparseStream]) > 0 {
		return fmt.Errorf("%w: stream %d holds non-sparse data", ErrUnsupported, SparseStream)
	}
	e.children = map[uint32]*Entry{0: e}
	e.present = roaring.New()
	e.present.Add(0)
	return nil
}

// child returns the entry backing the chunk that contains offset, creating
// it when create is set. It returns nil when the chunk has no entry.
func (e *Entry) child(offset int64, create bool) *Entry {
	id := chunkID(offset)
	if c, ok := e.children[id]; ok {
		return c
	}
	if !create {
		return nil
	}

	now := e.b.now()
	c := &Entry{
		b:            e.b,
		parent:       e,
		childID:      id,
		lastUsed:     now,
		lastModified: now,
	}
	c.handle = e.b.ranking.Insert(c)
	c.seq = e.b.nextSeq()
	e.children[id] = c
	e.present.Add(id)
	return c
}

// nextPresent returns the smallest chunk id >= from that has an entry.
func (e *Entry) nextPresent(from uint64) (uint32, bool) {
	if from > math.MaxUint32 {
		return 0, false
	}
	it := e.present.Iterator()
	it.AdvanceIfNeeded(uint32(from))
	if !it.HasNext() {
		return 0, false
	}
	return it.Next(), true
}

// ReadSparse reads sparse data starting at offset. It stops at the first
// byte that was never written, so it may return fewer than len(p) bytes.
func (e *Entry) ReadSparse(offset int64, p []byte) (int, error) {
	if err := checkSparseRange(offset, len(p)); err != nil {
		return 0, err
	}
	if e.destroyed {
		return 0, ErrDoomed
	}
	if err := e.initSparse(); err != nil {
		return 0, err
	}

	read := 0
	for read < len(p) {
		pos := offset + int64(read)
		c := e.child(pos, false)
		if c == nil {
			break
		}
		co := chunkOffset(pos)
		if c.firstValid > co {
			break
		}
		limit := min(len(p), read+SparseChunkSize-co)
		n := c.readData(SparseStream, int64(co), p[read:limit])
		if n == 0 {
			break
		}
		read += n
	}

	e.touch(false)
	return read, nil
}

// WriteSparse writes p at sparse offset, creating chunk entries as needed.
// On error the bytes written to earlier chunks are kept and counted.
func (e *Entry) WriteSparse(offset int64, p []byte) (int, error) {
	if err := checkSparseRange(offset, len(p)); err != nil {
		return 0, err
	}
	if e.destroyed {
		return 0, ErrDoomed
	}
	if err := e.initSparse(); err != nil {
		return 0, err
	}

	written := 0
	for written < len(p) {
		pos := offset + int64(written)
		_, existed := e.children[chunkID(pos)]
		c := e.child(pos, true)
		co := chunkOffset(pos)
		n := min(len(p)-written, SparseChunkSize-co)

		prevEnd := len(c.data[SparseStream])
		if _, err := c.writeData(SparseStream, int64(co), p[written:written+n], true); err != nil {
			if !existed {
				c.Doom()
			}
			return written, err
		}
		// A write that does not continue the chunk's data leaves a gap before it.
		if prevEnd != co {
			c.firstValid = co
		}
		written += n
	}

	e.touch(true)
	return written, nil
}

// GetAvailableRange finds the first written sparse byte in [offset, offset+length)
// and returns its position with the number of contiguous written bytes from
// there, bounded by the window. When nothing is written in the window it
// returns (offset, 0).
func (e *Entry) GetAvailableRange(offset int64, length int) (int64, int, error) {
	if err := checkSparseRange(offset, length); err != nil {
		return offset, 0, err
	}
	if e.destroyed {
		return offset, 0, ErrDoomed
	}
	if err := e.initSparse(); err != nil {
		return offset, 0, err
	}

	empty, c := e.findNextChild(offset, int64(length))
	if c == nil || empty >= int64(length) {
		return offset, 0, nil
	}

	start := offset + empty
	remaining := int64(length) - empty
	var contiguous int64
	for remaining > 0 && c != nil {
		avail := int64(len(c.data[SparseStream]) - chunkOffset(start+contiguous))
		avail = min(avail, remaining)
		contiguous += avail
		remaining -= avail

		var gap int64
		gap, c = e.findNextChild(start+contiguous, remaining)
		if gap > 0 {
			break
		}
	}
	return start, int(contiguous), nil
}

// findNextChild scans [offset, offset+length) for the first chunk holding data
// at or after the scan position. It returns the number of bytes skipped and
// the chunk entry, or a count >= length and nil when there is none.
func (e *Entry) findNextChild(offset, length int64) (int64, *Entry) {
	var scanned int64
	for scanned < length {
		pos := offset + scanned
		co := chunkOffset(pos)
		if c := e.child(pos, false); c != nil {
			first := max(co, c.firstValid)
			if first < len(c.data[SparseStream]) {
				return scanned + int64(first-co), c
			}
			scanned += int64(SparseChunkSize - co)
			continue
		}

		id, ok := e.nextPresent(uint64(chunkID(pos)) + 1)
		if !ok {
			return max(scanned, length), nil
		}
		scanned += int64(id)<<SparseChunkBits - pos
	}
	return scanned, nil
}
