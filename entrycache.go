package entrycache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/entrycache/internal/memstore"
	"github.com/hupe1980/entrycache/internal/pressure"
	"github.com/hupe1980/entrycache/internal/sysmem"
	"golang.org/x/sync/errgroup"
)

// NumStreams is the number of independent data streams per entry.
const NumStreams = memstore.NumStreams

// SparseChunkSize is the granularity of sparse storage.
const SparseChunkSize = memstore.SparseChunkSize

// MemoryPressureLevel is the severity passed to OnMemoryPressure.
type MemoryPressureLevel = pressure.Level

const (
	// MemoryPressureNone requests no action.
	MemoryPressureNone = pressure.None
	// MemoryPressureModerate evicts idle entries until the cache is at half its budget.
	MemoryPressureModerate = pressure.Moderate
	// MemoryPressureCritical evicts idle entries until the cache is at a tenth of its budget.
	MemoryPressureCritical = pressure.Critical
)

// Stats is a point-in-time snapshot of cache state.
type Stats struct {
	Entries     int
	CurrentSize int64
	MaxSize     int64
	Hits        int64
	Misses      int64
	Evictions   int64
}

// Cache is an in-memory, size-bounded entry cache.
type Cache struct {
	mu sync.Mutex
	b  *memstore.Backend

	logger  *Logger
	metrics MetricsCollector

	hits      int64
	misses    int64
	evictions int64

	stopWatcher context.CancelFunc
	watchers    *errgroup.Group

	closed bool
}

// New creates a Cache.
func New(optFns ...Option) (*Cache, error) {
	o := applyOptions(optFns)

	maxBytes := o.maxBytes
	if maxBytes < 0 {
		return nil, fmt.Errorf("%w: max bytes %d", ErrInvalidArgument, maxBytes)
	}
	if maxBytes == 0 {
		maxBytes = sysmem.DefaultMaxSize()
	}

	c := &Cache{
		logger:  o.logger,
		metrics: o.metricsCollector,
	}

	b, err := memstore.New(memstore.Config{
		MaxSize:        maxBytes,
		MaxEntrySize:   o.maxEntrySize,
		EvictionMargin: o.evictionMargin,
		Clock:          o.clock,
		Controller:     o.controller,
		OnEvict:        c.onEvict,
	})
	if err != nil {
		return nil, translateError(err)
	}
	c.b = b

	if o.pressureInterval > 0 {
		probe := pressure.SystemProbe()
		if o.pressureProbe != nil {
			probe = o.pressureProbe
		}
		c.startWatcher(pressure.Config{Interval: o.pressureInterval}, probe)
	}

	return c, nil
}

func (c *Cache) startWatcher(cfg pressure.Config, probe pressure.Probe) {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	w := pressure.NewWatcher(cfg, probe, c.OnMemoryPressure)
	g.Go(func() error {
		return w.Run(ctx)
	})

	c.stopWatcher = cancel
	c.watchers = g
}

// onEvict runs under c.mu from inside the backend's trim pass.
func (c *Cache) onEvict(e *memstore.Entry) {
	c.evictions++
	c.metrics.RecordEviction(e.IsChild())

	key := e.Key()
	if p := e.Parent(); p != nil {
		key = p.Key()
	}
	c.logger.LogEviction(key, e.StorageSize(), e.IsChild())
}

// OpenEntry opens the entry stored under key.
// It returns ErrNotFound when there is none.
func (c *Cache) OpenEntry(key string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	e, err := c.b.OpenEntry(key)
	hit := err == nil
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.metrics.RecordOpen(hit)
	c.logger.LogOpen(key, hit)
	if err != nil {
		return nil, translateError(err)
	}
	return c.handle(e), nil
}

// CreateEntry creates an empty entry under key and opens it.
// It returns ErrAlreadyExists when key is taken.
func (c *Cache) CreateEntry(key string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	e, err := c.b.CreateEntry(key)
	c.metrics.RecordCreate(err)
	c.logger.LogCreate(key, err)
	if err != nil {
		return nil, translateError(err)
	}
	return c.handle(e), nil
}

// OpenOrCreateEntry opens key, creating it if it does not exist.
// created reports which of the two happened.
func (c *Cache) OpenOrCreateEntry(key string) (entry *Entry, created bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false, ErrClosed
	}
	e, created, err := c.b.OpenOrCreateEntry(key)
	if err != nil {
		c.metrics.RecordCreate(err)
		c.logger.LogCreate(key, err)
		return nil, false, translateError(err)
	}
	if created {
		c.misses++
		c.metrics.RecordCreate(nil)
	} else {
		c.hits++
		c.metrics.RecordOpen(true)
	}
	return c.handle(e), created, nil
}

// DoomEntry removes key from the cache. Open handles to the entry stay
// usable until closed. Dooming a missing key is not an error.
func (c *Cache) DoomEntry(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.metrics.RecordDoom()
	c.logger.LogDoom(key)
	c.b.DoomEntry(key)
	return nil
}

// DoomAllEntries removes every entry from the cache.
func (c *Cache) DoomAllEntries() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	before := c.b.CurrentSize()
	n := c.b.EntryCount()
	c.b.DoomAllEntries()
	c.logger.LogTrim("doom_all", n, before, c.b.CurrentSize())
	return nil
}

// DoomEntriesSince removes every entry last used at or after t.
func (c *Cache) DoomEntriesSince(t time.Time) error {
	return c.DoomEntriesBetween(t, time.Time{})
}

// DoomEntriesBetween removes every entry last used in [from, to).
// A zero to means no upper bound.
func (c *Cache) DoomEntriesBetween(from, to time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	before := c.b.CurrentSize()
	n := c.b.EntryCount()
	c.b.DoomEntriesBetween(from, to)
	c.logger.LogTrim("doom_range", n-c.b.EntryCount(), before, c.b.CurrentSize())
	return nil
}

// OnExternalCacheHit marks key as recently used without any I/O.
// It is ignored for missing keys and after Close.
func (c *Cache) OnExternalCacheHit(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.b.OnExternalCacheHit(key)
}

// OnMemoryPressure evicts idle entries: down to half the budget for
// MemoryPressureModerate, and to a tenth for MemoryPressureCritical.
// It is called by the pressure watcher and may be called directly.
func (c *Cache) OnMemoryPressure(level MemoryPressureLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	var target int64
	switch level {
	case MemoryPressureModerate:
		target = c.b.MaxSize() / 2
	case MemoryPressureCritical:
		target = c.b.MaxSize() / 10
	default:
		return
	}

	c.logger.LogMemoryPressure(level, target)
	before := c.b.CurrentSize()
	evicted := c.b.EvictTill(target)
	c.logger.LogTrim("memory_pressure", evicted, before, c.b.CurrentSize())
}

// EntryCount returns the number of keyed entries.
func (c *Cache) EntryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.EntryCount()
}

// MaxSize returns the budget in bytes.
func (c *Cache) MaxSize() int64 {
	return c.b.MaxSize()
}

// CurrentSize returns the bytes charged to live entries, including doomed
// entries that are still open.
func (c *Cache) CurrentSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.CurrentSize()
}

// SizeOfEntriesBetween returns the storage size of entries last used in
// [from, to). A zero to means no upper bound; both zero means everything.
func (c *Cache) SizeOfEntriesBetween(from, to time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.SizeOfEntriesBetween(from, to)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:     c.b.EntryCount(),
		CurrentSize: c.b.CurrentSize(),
		MaxSize:     c.b.MaxSize(),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
	}
}

// Close stops the pressure watcher and dooms every entry. Calls on the
// cache return ErrClosed afterwards; open Entry handles keep working until
// they are closed. Close is idempotent.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stop, g := c.stopWatcher, c.watchers
	c.mu.Unlock()

	// The watcher callback takes c.mu, so wait for it unlocked.
	var err error
	if stop != nil {
		stop()
		err = g.Wait()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	n, size := c.b.EntryCount(), c.b.CurrentSize()
	c.b.Close()
	c.logger.LogClose(n, size, err)
	return err
}

func (c *Cache) handle(e *memstore.Entry) *Entry {
	return &Entry{c: c, e: e}
}
