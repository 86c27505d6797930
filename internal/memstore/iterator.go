package memstore

import "github.com/hupe1980/entrycache/internal/ranking"

// Iterator enumerates parent entries from most to least recently used.
//
// Every entry it returns has been opened; the caller must Close it. Entries
// touched after the cursor passed them are not visited again, and dooming
// the entry under the cursor does not end the iteration.
type Iterator struct {
	b       *Backend
	cursor  ranking.Handle
	seq     uint64
	started bool
	done    bool
}

// NewIterator returns an iterator positioned before the most recently used entry.
func (b *Backend) NewIterator() *Iterator {
	return &Iterator{b: b}
}

// Next opens and returns the next entry, or false when the ranking is exhausted.
func (it *Iterator) Next() (*Entry, bool) {
	if it.done || it.b.closed {
		return nil, false
	}
	l := it.b.ranking

	var h ranking.Handle
	var ok bool
	switch {
	case !it.started:
		h, ok = l.Prev(0)
	case it.cursorValid():
		h, ok = l.Prev(it.cursor)
	default:
		// The cursor entry was touched or doomed: resume at the first entry
		// ranked before it was.
		for h, ok = l.Prev(0); ok; h, ok = l.Prev(h) {
			if e, _ := l.Value(h); e.seq < it.seq {
				break
			}
		}
	}
	it.started = true

	for ok {
		if e, _ := l.Value(h); !e.IsChild() {
			break
		}
		h, ok = l.Prev(h)
	}
	if !ok {
		it.done = true
		return nil, false
	}

	e, _ := l.Value(h)
	it.cursor, it.seq = h, e.seq
	if err := e.Open(); err != nil {
		it.done = true
		return nil, false
	}
	return e, true
}

func (it *Iterator) cursorValid() bool {
	e, ok := it.b.ranking.Value(it.cursor)
	return ok && e.seq == it.seq
}
