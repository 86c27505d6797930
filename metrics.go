package entrycache

import (
	"sync/atomic"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Collectors are called while the cache lock is held and must not call back
// into the cache.
type MetricsCollector interface {
	// RecordOpen is called after each OpenEntry. hit is false on a miss.
	RecordOpen(hit bool)

	// RecordCreate is called after each CreateEntry, err is nil if successful.
	RecordCreate(err error)

	// RecordRead is called after each regular or sparse read with the number
	// of bytes copied.
	RecordRead(bytes int, err error)

	// RecordWrite is called after each regular or sparse write with the number
	// of bytes stored.
	RecordWrite(bytes int, err error)

	// RecordDoom is called for each explicit doom request.
	RecordDoom()

	// RecordEviction is called for each entry dropped by a trim pass.
	// child is true for sparse chunk entries.
	RecordEviction(child bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordOpen(bool)        {}
func (NoopMetricsCollector) RecordCreate(error)     {}
func (NoopMetricsCollector) RecordRead(int, error)  {}
func (NoopMetricsCollector) RecordWrite(int, error) {}
func (NoopMetricsCollector) RecordDoom()            {}
func (NoopMetricsCollector) RecordEviction(bool)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	OpenHits       atomic.Int64
	OpenMisses     atomic.Int64
	CreateCount    atomic.Int64
	CreateErrors   atomic.Int64
	ReadCount      atomic.Int64
	ReadBytes      atomic.Int64
	ReadErrors     atomic.Int64
	WriteCount     atomic.Int64
	WriteBytes     atomic.Int64
	WriteErrors    atomic.Int64
	DoomCount      atomic.Int64
	Evictions      atomic.Int64
	ChildEvictions atomic.Int64
}

// RecordOpen implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOpen(hit bool) {
	if hit {
		b.OpenHits.Add(1)
	} else {
		b.OpenMisses.Add(1)
	}
}

// RecordCreate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCreate(err error) {
	b.CreateCount.Add(1)
	if err != nil {
		b.CreateErrors.Add(1)
	}
}

// RecordRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRead(bytes int, err error) {
	b.ReadCount.Add(1)
	b.ReadBytes.Add(int64(bytes))
	if err != nil {
		b.ReadErrors.Add(1)
	}
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(bytes int, err error) {
	b.WriteCount.Add(1)
	b.WriteBytes.Add(int64(bytes))
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// RecordDoom implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDoom() {
	b.DoomCount.Add(1)
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(child bool) {
	b.Evictions.Add(1)
	if child {
		b.ChildEvictions.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		OpenHits:       b.OpenHits.Load(),
		OpenMisses:     b.OpenMisses.Load(),
		HitRatio:       b.hitRatio(),
		CreateCount:    b.CreateCount.Load(),
		CreateErrors:   b.CreateErrors.Load(),
		ReadCount:      b.ReadCount.Load(),
		ReadBytes:      b.ReadBytes.Load(),
		ReadErrors:     b.ReadErrors.Load(),
		WriteCount:     b.WriteCount.Load(),
		WriteBytes:     b.WriteBytes.Load(),
		WriteErrors:    b.WriteErrors.Load(),
		DoomCount:      b.DoomCount.Load(),
		Evictions:      b.Evictions.Load(),
		ChildEvictions: b.ChildEvictions.Load(),
	}
}

func (b *BasicMetricsCollector) hitRatio() float64 {
	hits := b.OpenHits.Load()
	total := hits + b.OpenMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	OpenHits       int64
	OpenMisses     int64
	HitRatio       float64
	CreateCount    int64
	CreateErrors   int64
	ReadCount      int64
	ReadBytes      int64
	ReadErrors     int64
	WriteCount     int64
	WriteBytes     int64
	WriteErrors    int64
	DoomCount      int64
	Evictions      int64
	ChildEvictions int64
}
