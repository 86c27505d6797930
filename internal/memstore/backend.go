package memstore

import (
	"fmt"
	"time"

	"github.com/hupe1980/entrycache/internal/ranking"
	"github.com/hupe1980/entrycache/resource"
)

// DefaultEvictionMargin is how far below the max size a trim pass goes,
// so that the next small write does not immediately trim again.
const DefaultEvictionMargin int64 = 1024 * 1024

// Config configures a Backend.
type Config struct {
	// MaxSize is the byte budget. Must be positive.
	MaxSize int64

	// MaxEntrySize bounds offset+length of any single stream write.
	// 0 selects MaxSize/8.
	MaxEntrySize int64

	// EvictionMargin lowers the trim target to MaxSize-EvictionMargin.
	// 0 selects DefaultEvictionMargin.
	EvictionMargin int64

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Controller, if set, is charged for every stored byte.
	Controller *resource.Controller

	// OnEvict is called with each entry a trim pass is about to doom.
	OnEvict func(e *Entry)
}

// Backend owns the key table, the recency ranking and the size accounting.
//
// Backend is not safe for concurrent use; callers serialize access.
type Backend struct {
	maxSize      int64
	maxEntrySize int64
	margin       int64
	currentSize  int64

	entries map[string]*Entry
	ranking *ranking.List[*Entry]
	seq     uint64

	now     func() time.Time
	rc      *resource.Controller
	onEvict func(*Entry)

	// pinned is the entry whose write is in progress; trimming skips it and its parent.
	pinned *Entry
	closed bool
}

// New creates a Backend.
func New(cfg Config) (*Backend, error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("%w: max size %d", ErrInvalidArgument, cfg.MaxSize)
	}
	if cfg.MaxEntrySize < 0 || cfg.EvictionMargin < 0 {
		return nil, fmt.Errorf("%w: negative size limit", ErrInvalidArgument)
	}
	if cfg.MaxEntrySize == 0 {
		cfg.MaxEntrySize = cfg.MaxSize / 8
	}
	if cfg.EvictionMargin == 0 {
		cfg.EvictionMargin = DefaultEvictionMargin
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Backend{
		maxSize:      cfg.MaxSize,
		maxEntrySize: cfg.MaxEntrySize,
		margin:       cfg.EvictionMargin,
		entries:      make(map[string]*Entry),
		ranking:      ranking.New[*Entry](),
		now:          cfg.Clock,
		rc:           cfg.Controller,
		onEvict:      cfg.OnEvict,
	}, nil
}

// MaxSize returns the byte budget.
func (b *Backend) MaxSize() int64 { return b.maxSize }

// MaxEntrySize returns the per-stream write ceiling.
func (b *Backend) MaxEntrySize() int64 { return b.maxEntrySize }

// CurrentSize returns the bytes held by every live entry, including doomed
// entries that are still referenced.
func (b *Backend) CurrentSize() int64 { return b.currentSize }

// EntryCount returns the number of keys in the table.
func (b *Backend) EntryCount() int { return len(b.entries) }

// Closed reports whether Close has run.
func (b *Backend) Closed() bool { return b.closed }

// OpenEntry returns the live entry for key with one more reference.
func (b *Backend) OpenEntry(key string) (*Entry, error) {
	if b.closed {
		return nil, ErrClosed
	}
	e, ok := b.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if err := e.Open(); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateEntry adds a new entry for key, opened once on behalf of the caller.
func (b *Backend) CreateEntry(key string) (*Entry, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.entries[key]; ok {
		return nil, ErrAlreadyExists
	}

	size := int64(len(key))
	if err := b.reserve(size); err != nil {
		return nil, err
	}

	now := b.now()
	e := &Entry{
		b:            b,
		key:          key,
		refCount:     1,
		lastUsed:     now,
		lastModified: now,
	}
	b.entries[key] = e
	e.handle = b.ranking.Insert(e)
	e.seq = b.nextSeq()
	b.modifyStorageSize(0, size)
	return e, nil
}

// OpenOrCreateEntry opens key if it exists and creates it otherwise.
func (b *Backend) OpenOrCreateEntry(key string) (*Entry, bool, error) {
	e, err := b.OpenEntry(key)
	if err == nil {
		return e, false, nil
	}
	e, err = b.CreateEntry(key)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// DoomEntry dooms the entry for key. A missing key is a no-op.
func (b *Backend) DoomEntry(key string) {
	if e, ok := b.entries[key]; ok {
		e.Doom()
	}
}

// DoomAllEntries dooms every ranked entry, open or not.
// Open handles stay usable but are no longer bound to a key.
func (b *Backend) DoomAllEntries() {
	b.Trim(true)
}

// DoomEntriesSince dooms every entry used at or after t.
func (b *Backend) DoomEntriesSince(t time.Time) {
	b.doomBetween(t, time.Time{})
}

// DoomEntriesBetween dooms every entry whose last use falls in [from, to).
// A zero to means no upper bound.
func (b *Backend) DoomEntriesBetween(from, to time.Time) {
	b.doomBetween(from, to)
}

func (b *Backend) doomBetween(from, to time.Time) {
	h, ok := b.ranking.Prev(0)
	for ok {
		e, _ := b.ranking.Value(h)
		// Newest first: nothing further down can be in range.
		if e.lastUsed.Before(from) {
			return
		}
		doom := to.IsZero() || e.lastUsed.Before(to)
		next, nok := b.step(h, e, doom, true)
		if doom {
			e.Doom()
		}
		h, ok = next, nok
	}
}

// OnExternalCacheHit marks key as used without any I/O.
func (b *Backend) OnExternalCacheHit(key string) {
	if e, ok := b.entries[key]; ok {
		e.touch(false)
	}
}

// SizeOfEntriesBetween sums the storage size of ranked entries last used in [from, to).
// A zero to means no upper bound.
func (b *Backend) SizeOfEntriesBetween(from, to time.Time) int64 {
	if from.IsZero() && to.IsZero() {
		return b.currentSize
	}
	var total int64
	for h, ok := b.ranking.Prev(0); ok; h, ok = b.ranking.Prev(h) {
		e, _ := b.ranking.Value(h)
		if e.lastUsed.Before(from) {
			break
		}
		if to.IsZero() || e.lastUsed.Before(to) {
			total += e.StorageSize()
		}
	}
	return total
}

// Trim dooms entries from the least recently used end until the size is at
// most MaxSize minus the eviction margin. Open parents and the entry being
// written are skipped. With empty set, every ranked entry is doomed.
func (b *Backend) Trim(empty bool) int {
	if empty {
		return b.evict(0, true)
	}
	return b.evict(max(0, b.maxSize-b.margin), false)
}

// EvictTill dooms idle entries, oldest first, until CurrentSize <= target.
func (b *Backend) EvictTill(target int64) int {
	return b.evict(max(0, target), false)
}

func (b *Backend) evict(target int64, empty bool) int {
	evicted := 0
	h, ok := b.ranking.Next(0)
	for ok && (empty || b.currentSize > target) {
		e, _ := b.ranking.Value(h)
		doom := empty || b.evictable(e)
		next, nok := b.step(h, e, doom, false)
		if doom {
			if !empty && b.onEvict != nil {
				b.onEvict(e)
			}
			e.Doom()
			evicted++
		}
		h, ok = next, nok
	}
	return evicted
}

func (b *Backend) evictable(e *Entry) bool {
	if e.InUse() {
		return false
	}
	if p := b.pinned; p != nil && (e == p || e == p.parent) {
		return false
	}
	return true
}

// step returns the neighbour of h, towards the tail when older is set and
// towards the head otherwise. Dooming an unreferenced parent releases its
// children, which may sit right next to it, so those are stepped over.
func (b *Backend) step(h ranking.Handle, e *Entry, dooming, older bool) (ranking.Handle, bool) {
	move := b.ranking.Next
	if older {
		move = b.ranking.Prev
	}
	next, ok := move(h)
	if !dooming || e.parent != nil || e.refCount > 0 {
		return next, ok
	}
	for ok {
		c, _ := b.ranking.Value(next)
		if c.parent != e {
			break
		}
		next, ok = move(next)
	}
	return next, ok
}

// Close dooms and releases every entry. Entries still referenced by callers
// stay readable and writable until their last Close.
func (b *Backend) Close() {
	if b.closed {
		return
	}
	b.closed = true
	b.Trim(true)
}

// reserve charges a pending growth against the shared controller. When the
// controller refuses, idle entries of this backend are evicted and the charge
// is retried once.
func (b *Backend) reserve(delta int64) error {
	if delta <= 0 || b.rc == nil {
		return nil
	}
	if err := b.rc.AcquireMemory(delta); err == nil {
		return nil
	}
	b.evict(max(0, b.currentSize-delta), false)
	return b.rc.AcquireMemory(delta)
}

// modifyStorageSize applies a size change that has already been reserved.
func (b *Backend) modifyStorageSize(oldSize, newSize int64) {
	delta := newSize - oldSize
	if delta == 0 {
		return
	}
	b.currentSize += delta
	if b.currentSize < 0 {
		panic(fmt.Sprintf("memstore: storage size went negative (%d)", b.currentSize))
	}
	if delta < 0 {
		b.rc.ReleaseMemory(-delta)
	}
	if b.currentSize > b.maxSize {
		b.Trim(false)
	}
}

// onDoomed unbinds e from the key table and the ranking.
func (b *Backend) onDoomed(e *Entry) {
	if e.parent == nil {
		if cur, ok := b.entries[e.key]; ok && cur == e {
			delete(b.entries, e.key)
		}
	}
	// Doom runs once per entry; a failure here means the entry was never ranked.
	_ = b.ranking.Remove(e.handle)
}

func (b *Backend) nextSeq() uint64 {
	b.seq++
	return b.seq
}
