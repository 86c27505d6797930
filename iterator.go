package entrycache

import (
	"iter"

	"github.com/hupe1980/entrycache/internal/memstore"
)

// Iterator walks the cache from the most to the least recently used entry.
//
// Each returned Entry is open and must be closed by the caller. Entries used
// after the iterator passed them are not returned again, and dooming entries
// while iterating is safe.
type Iterator struct {
	c  *Cache
	it *memstore.Iterator
}

// NewIterator returns an Iterator positioned before the most recently used entry.
func (c *Cache) NewIterator() (*Iterator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	return &Iterator{c: c, it: c.b.NewIterator()}, nil
}

// Next returns the next entry, or false when there are no more.
func (it *Iterator) Next() (*Entry, bool) {
	it.c.mu.Lock()
	defer it.c.mu.Unlock()

	e, ok := it.it.Next()
	if !ok {
		return nil, false
	}
	return it.c.handle(e), true
}

// All returns a range-over-func sequence of entries, newest first. Each
// entry is closed once the loop body returns.
//
// Example:
//
//	for e := range c.All() {
//	    fmt.Println(e.Key(), e.DataSize(1))
//	}
func (c *Cache) All() iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		it, err := c.NewIterator()
		if err != nil {
			return
		}
		for {
			e, ok := it.Next()
			if !ok {
				return
			}
			cont := yield(e)
			_ = e.Close()
			if !cont {
				return
			}
		}
	}
}
