package sysmem

// DefaultCacheSize is the cache size used when physical memory is unknown.
const DefaultCacheSize int64 = 10 * 1024 * 1024

// maxAutoCacheSize caps the size derived from physical memory.
const maxAutoCacheSize = 5 * DefaultCacheSize

// Stats is a point-in-time view of host memory.
type Stats struct {
	// Total is the physical memory in bytes.
	Total int64
	// Available is the memory the kernel reports as free or reclaimable.
	Available int64
}

// CacheSizeFor derives a cache budget from the physical memory size:
// 2% of total, capped at 5x DefaultCacheSize. A non-positive total yields
// DefaultCacheSize.
func CacheSizeFor(total int64) int64 {
	if total <= 0 {
		return DefaultCacheSize
	}
	size := total * 2 / 100
	if size > maxAutoCacheSize {
		return maxAutoCacheSize
	}
	if size <= 0 {
		return DefaultCacheSize
	}
	return size
}

// DefaultMaxSize queries the host once and returns CacheSizeFor(Total).
func DefaultMaxSize() int64 {
	st, err := Read()
	if err != nil {
		return DefaultCacheSize
	}
	return CacheSizeFor(st.Total)
}
