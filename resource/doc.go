// Package resource implements a memory budget shared by several caches.
//
// Every cache enforces its own max size by evicting least recently used
// entries. A Controller adds a process-wide ceiling: caches charge each byte
// they store against it and release the charge when the bytes are freed.
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 256 << 20,
//	})
//
//	a, _ := entrycache.New(entrycache.WithMaxBytes(200<<20), entrycache.WithResourceController(rc))
//	b, _ := entrycache.New(entrycache.WithMaxBytes(200<<20), entrycache.WithResourceController(rc))
//
// AcquireMemory never blocks; it fails fast with ErrMemoryLimitExceeded and
// the cache decides whether to evict idle entries and retry.
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
