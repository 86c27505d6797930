// Package entrycache provides an in-memory, size-bounded key/value entry cache
// with LRU eviction and sparse data support.
//
// Every entry is addressed by a string key and holds three independent byte
// streams. Stream 2 can instead be used as a sparse address space: data is
// stored in 4 KiB chunks, and the cache can report which ranges were written.
//
// # Quick Start
//
//	c, err := entrycache.New(entrycache.WithMaxBytes(64 << 20))
//	if err != nil {
//	    panic(err)
//	}
//	defer c.Close()
//
//	e, _ := c.CreateEntry("https://example.com/a")
//	e.Write(0, 0, []byte("headers"), false)
//	e.Write(1, 0, body, false)
//	e.Close()
//
//	e, err = c.OpenEntry("https://example.com/a")
//	if errors.Is(err, entrycache.ErrNotFound) {
//	    // evicted or never stored
//	}
//
// # Sparse Data
//
//	e, _ := c.CreateEntry("video")
//	e.WriteSparse(1<<20, chunk)
//	start, n, _ := e.GetAvailableRange(0, 4<<20) // start == 1<<20
//
// # Lifetime
//
// Entries are reference counted. Dooming an entry removes it from the key
// table immediately, but open handles keep reading and writing it until
// the last one is closed. Eviction only ever drops entries nobody holds.
//
// # Size Accounting
//
// The cache charges each entry for its key plus the length of every stream.
// When the total exceeds the budget, least recently used entries are
// evicted until the total falls to the budget minus the eviction margin.
// A single stream write may not end past the per-entry limit.
//
// # Concurrency
//
// A Cache and its Entry handles are safe for concurrent use. All operations
// are serialized on one lock and never block on I/O.
package entrycache
