// Package memstore implements the in-memory entry store behind a cache.
//
// # Entries
//
// A parent Entry is addressed by key and holds NumStreams independent byte
// streams. Parents are reference counted: CreateEntry and OpenEntry each hand
// out one reference and Close drops it. Doom unbinds the key right away; the
// bytes are released with the last Close.
//
// # Sparse Data
//
// Sparse I/O treats an entry as one large address space split into
// SparseChunkSize chunks. The parent stores chunk 0 in SparseStream; every
// other chunk is a child Entry created on first write. A roaring bitmap of
// present chunks lets range queries jump over unwritten regions.
//
// # Size Accounting
//
// The Backend keeps CurrentSize equal to the key lengths plus stream lengths
// of every live entry. When a write pushes it over MaxSize, a trim pass dooms
// idle entries from the least recently used end until the size drops below
// MaxSize minus the eviction margin.
//
// # Thread Safety
//
// Nothing in this package is synchronized. The public cache wraps every call
// in a mutex.
package memstore
