package memstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/hupe1980/entrycache/resource"
	"github.com/hupe1980/entrycache/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	t time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time { return c.t }

func (c *manualClock) Advance(d time.Duration) time.Time {
	c.t = c.t.Add(d)
	return c.t
}

func newTestBackend(t *testing.T, cfg Config) (*Backend, *manualClock) {
	t.Helper()
	clock := newManualClock()
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 1 << 20
	}
	cfg.Clock = clock.Now
	b, err := New(cfg)
	require.NoError(t, err)
	return b, clock
}

// rankedStorage sums the storage size of every entry still in the ranking.
func rankedStorage(b *Backend) int64 {
	var total int64
	for h, ok := b.ranking.Next(0); ok; h, ok = b.ranking.Next(h) {
		e, _ := b.ranking.Value(h)
		total += e.StorageSize()
	}
	return total
}

// requireSizeInvariant checks CurrentSize against the ranked entries plus the
// doomed-but-open parents the test still holds.
func requireSizeInvariant(t *testing.T, b *Backend, doomedOpen ...*Entry) {
	t.Helper()
	want := rankedStorage(b)
	for _, e := range doomedOpen {
		want += e.StorageSize()
	}
	require.Equal(t, want, b.CurrentSize(), "size counter drifted from stored bytes")
}

func writeString(t *testing.T, e *Entry, index int, offset int64, s string) {
	t.Helper()
	n, err := e.Write(index, offset, []byte(s), false)
	require.NoError(t, err)
	require.Equal(t, len(s), n)
}

func readString(t *testing.T, e *Entry, index int, offset int64, n int) string {
	t.Helper()
	buf := make([]byte, n)
	got, err := e.Read(index, offset, buf)
	require.NoError(t, err)
	return string(buf[:got])
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(Config{MaxSize: -1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(Config{MaxSize: 10, MaxEntrySize: -1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	b, err := New(Config{MaxSize: 800})
	require.NoError(t, err)
	assert.Equal(t, int64(800), b.MaxSize())
	assert.Equal(t, int64(100), b.MaxEntrySize())
	assert.Equal(t, int64(0), b.CurrentSize())
}

func TestBackend_CreateWriteCloseOpenRead(t *testing.T) {
	b, _ := newTestBackend(t, Config{})

	e, err := b.CreateEntry("a")
	require.NoError(t, err)
	writeString(t, e, 0, 0, "hello")
	require.NoError(t, e.Close())

	e, err = b.OpenEntry("a")
	require.NoError(t, err)
	assert.Equal(t, "hello", readString(t, e, 0, 0, 5))
	require.NoError(t, e.Close())

	assert.Equal(t, int64(len("a")+len("hello")), b.CurrentSize())
	requireSizeInvariant(t, b)
}

func TestBackend_CreateDuplicateKey(t *testing.T) {
	b, _ := newTestBackend(t, Config{})

	e, err := b.CreateEntry("k")
	require.NoError(t, err)
	defer e.Close()

	_, err = b.CreateEntry("k")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, 1, b.EntryCount())
	assert.Equal(t, int64(1), b.CurrentSize())
}

func TestBackend_OpenMissing(t *testing.T) {
	b, _ := newTestBackend(t, Config{})

	_, err := b.OpenEntry("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBackend_OpenOrCreate(t *testing.T) {
	b, _ := newTestBackend(t, Config{})

	e, created, err := b.OpenOrCreateEntry("k")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, e.RefCount())

	e2, created, err := b.OpenOrCreateEntry("k")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, e, e2)
	assert.Equal(t, 2, e.RefCount())
}

func TestBackend_EvictsLeastRecentlyUsed(t *testing.T) {
	b, _ := newTestBackend(t, Config{MaxSize: 100, MaxEntrySize: 100})
	payload := make([]byte, 80)

	a, err := b.CreateEntry("a")
	require.NoError(t, err)
	_, err = a.Write(0, 0, payload, false)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	bEntry, err := b.CreateEntry("b")
	require.NoError(t, err)
	_, err = bEntry.Write(0, 0, payload, false)
	require.NoError(t, err)
	require.NoError(t, bEntry.Close())

	assert.LessOrEqual(t, b.CurrentSize(), b.MaxSize())

	_, err = b.OpenEntry("a")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := b.OpenEntry("b")
	require.NoError(t, err)
	require.NoError(t, got.Close())
	requireSizeInvariant(t, b)
}

func TestBackend_TrimSkipsOpenEntries(t *testing.T) {
	b, _ := newTestBackend(t, Config{MaxSize: 100, MaxEntrySize: 100})

	held, err := b.CreateEntry("held")
	require.NoError(t, err)
	_, err = held.Write(0, 0, make([]byte, 40), false)
	require.NoError(t, err)

	idle, err := b.CreateEntry("idle")
	require.NoError(t, err)
	_, err = idle.Write(0, 0, make([]byte, 40), false)
	require.NoError(t, err)
	require.NoError(t, idle.Close())

	// The oldest entry is open, so the trim must pass over it.
	w, err := b.CreateEntry("w")
	require.NoError(t, err)
	_, err = w.Write(0, 0, make([]byte, 40), false)
	require.NoError(t, err)

	_, err = b.OpenEntry("idle")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, held.Doomed())
	assert.False(t, w.Doomed())
	assert.LessOrEqual(t, b.CurrentSize(), b.MaxSize())
	requireSizeInvariant(t, b)
}

func TestBackend_TrimStopsAtTarget(t *testing.T) {
	b, _ := newTestBackend(t, Config{MaxSize: 100, MaxEntrySize: 100, EvictionMargin: 30})

	for i := range 4 {
		e, err := b.CreateEntry(fmt.Sprintf("%d", i))
		require.NoError(t, err)
		_, err = e.Write(0, 0, make([]byte, 19), false)
		require.NoError(t, err)
		require.NoError(t, e.Close())
	}
	assert.Equal(t, int64(80), b.CurrentSize())

	e, err := b.CreateEntry("4")
	require.NoError(t, err)
	_, err = e.Write(0, 0, make([]byte, 19), false)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	assert.Equal(t, int64(100), b.CurrentSize())
	assert.Equal(t, 5, b.EntryCount())

	e, err = b.CreateEntry("5")
	require.NoError(t, err)
	_, err = e.Write(0, 0, make([]byte, 19), false)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// Creating "5" crosses the limit by one byte and trims to 70.
	assert.Equal(t, int64(80), b.CurrentSize())
	for _, key := range []string{"0", "1"} {
		_, err := b.OpenEntry(key)
		assert.ErrorIs(t, err, ErrNotFound, key)
	}
	for _, key := range []string{"2", "3", "4", "5"} {
		e, err := b.OpenEntry(key)
		require.NoError(t, err, key)
		require.NoError(t, e.Close())
	}
}

func TestBackend_DoomAllKeepsHandlesUsable(t *testing.T) {
	b, _ := newTestBackend(t, Config{})

	open, err := b.CreateEntry("open")
	require.NoError(t, err)
	writeString(t, open, 1, 0, "data")

	closed, err := b.CreateEntry("closed")
	require.NoError(t, err)
	writeString(t, closed, 0, 0, "bytes")
	require.NoError(t, closed.Close())

	b.DoomAllEntries()

	assert.Equal(t, 0, b.EntryCount())
	assert.True(t, open.Doomed())
	_, err = b.OpenEntry("open")
	assert.ErrorIs(t, err, ErrNotFound)

	// Still readable and writable, no longer bound to a key.
	assert.Equal(t, "data", readString(t, open, 1, 0, 4))
	writeString(t, open, 1, 4, "more")
	assert.Equal(t, "datamore", readString(t, open, 1, 0, 8))
	requireSizeInvariant(t, b, open)

	// A new entry may reuse the key.
	fresh, err := b.CreateEntry("open")
	require.NoError(t, err)
	assert.NotSame(t, open, fresh)
	require.NoError(t, fresh.Close())

	require.NoError(t, open.Close())
	requireSizeInvariant(t, b)
	assert.Equal(t, int64(len("open")), b.CurrentSize())
}

func TestBackend_DoomEntryIsIdempotent(t *testing.T) {
	b, _ := newTestBackend(t, Config{})

	e, err := b.CreateEntry("k")
	require.NoError(t, err)
	writeString(t, e, 0, 0, "v")
	require.NoError(t, e.Close())

	b.DoomEntry("k")
	b.DoomEntry("k")

	_, err = b.OpenEntry("k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(0), b.CurrentSize())
	assert.Equal(t, 0, b.EntryCount())
}

func TestBackend_DoomEntryWhileOpen(t *testing.T) {
	b, _ := newTestBackend(t, Config{})

	e, err := b.CreateEntry("k")
	require.NoError(t, err)
	writeString(t, e, 0, 0, "value")

	b.DoomEntry("k")
	assert.ErrorIs(t, e.Open(), ErrDoomed)
	_, err = b.OpenEntry("k")
	assert.ErrorIs(t, err, ErrNotFound)

	// Memory persists until the last reference is dropped.
	assert.Equal(t, int64(6), b.CurrentSize())
	require.NoError(t, e.Close())
	assert.Equal(t, int64(0), b.CurrentSize())
	assert.ErrorIs(t, e.Close(), ErrNotOpen)
}

func TestBackend_DoomEntriesSince(t *testing.T) {
	b, clock := newTestBackend(t, Config{})

	create := func(key string) {
		e, err := b.CreateEntry(key)
		require.NoError(t, err)
		require.NoError(t, e.Close())
	}

	create("old1")
	create("old2")
	since := clock.Advance(time.Minute)
	create("new1")
	clock.Advance(time.Second)
	create("new2")

	b.DoomEntriesSince(since)

	assert.Equal(t, 2, b.EntryCount())
	for _, key := range []string{"old1", "old2"} {
		e, err := b.OpenEntry(key)
		require.NoError(t, err, key)
		require.NoError(t, e.Close())
	}
	requireSizeInvariant(t, b)
}

func TestBackend_DoomEntriesBetween(t *testing.T) {
	b, clock := newTestBackend(t, Config{})

	create := func(key string) {
		e, err := b.CreateEntry(key)
		require.NoError(t, err)
		require.NoError(t, e.Close())
		clock.Advance(time.Second)
	}

	create("t0")
	from := clock.Now()
	create("t1")
	create("t2")
	to := clock.Now()
	create("t3")

	b.DoomEntriesBetween(from, to)

	var left []string
	it := b.NewIterator()
	for e, ok := it.Next(); ok; e, ok = it.Next() {
		left = append(left, e.Key())
		require.NoError(t, e.Close())
	}
	assert.Equal(t, []string{"t3", "t0"}, left)
}

func TestBackend_DoomEntriesBetweenReleasesChildren(t *testing.T) {
	b, clock := newTestBackend(t, Config{})

	e, err := b.CreateEntry("sparse")
	require.NoError(t, err)
	_, err = e.WriteSparse(0, make([]byte, 3*SparseChunkSize))
	require.NoError(t, err)
	require.NoError(t, e.Close())
	clock.Advance(time.Second)

	b.DoomEntriesSince(time.Time{})

	assert.Equal(t, 0, b.EntryCount())
	assert.Equal(t, 0, b.ranking.Len())
	assert.Equal(t, int64(0), b.CurrentSize())
}

func TestBackend_OnExternalCacheHitUpdatesRank(t *testing.T) {
	b, clock := newTestBackend(t, Config{MaxSize: 100, MaxEntrySize: 100, EvictionMargin: 20})

	for _, key := range []string{"a", "b"} {
		e, err := b.CreateEntry(key)
		require.NoError(t, err)
		_, err = e.Write(0, 0, make([]byte, 30), false)
		require.NoError(t, err)
		require.NoError(t, e.Close())
		clock.Advance(time.Second)
	}

	// "a" is older, but an external hit makes it the most recent.
	hitAt := clock.Advance(time.Second)
	b.OnExternalCacheHit("a")
	b.OnExternalCacheHit("missing")

	e, err := b.CreateEntry("c")
	require.NoError(t, err)
	_, err = e.Write(0, 0, make([]byte, 40), false)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = b.OpenEntry("b")
	assert.ErrorIs(t, err, ErrNotFound)

	a, err := b.OpenEntry("a")
	require.NoError(t, err)
	assert.Equal(t, hitAt, a.LastUsed())
	require.NoError(t, a.Close())
}

func TestBackend_SizeOfEntriesBetween(t *testing.T) {
	b, clock := newTestBackend(t, Config{})

	for i, key := range []string{"a", "bb", "ccc"} {
		e, err := b.CreateEntry(key)
		require.NoError(t, err)
		_, err = e.Write(0, 0, make([]byte, 10*(i+1)), false)
		require.NoError(t, err)
		require.NoError(t, e.Close())
		clock.Advance(time.Second)
	}

	start := clock.Now().Add(-3 * time.Second)
	assert.Equal(t, b.CurrentSize(), b.SizeOfEntriesBetween(time.Time{}, time.Time{}))
	assert.Equal(t, int64(11+22+33), b.SizeOfEntriesBetween(start, time.Time{}))
	assert.Equal(t, int64(22), b.SizeOfEntriesBetween(start.Add(time.Second), start.Add(2*time.Second)))
	assert.Equal(t, int64(0), b.SizeOfEntriesBetween(clock.Now(), time.Time{}))
}

func TestBackend_OnEvictCallback(t *testing.T) {
	var evicted []string
	b, _ := newTestBackend(t, Config{
		MaxSize:      50,
		MaxEntrySize: 50,
		OnEvict: func(e *Entry) {
			evicted = append(evicted, e.Key())
		},
	})

	for _, key := range []string{"x", "y", "z"} {
		e, err := b.CreateEntry(key)
		require.NoError(t, err)
		_, err = e.Write(0, 0, make([]byte, 20), false)
		require.NoError(t, err)
		require.NoError(t, e.Close())
	}

	assert.Equal(t, []string{"x", "y"}, evicted)
}

func TestBackend_ControllerBudget(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	b1, _ := newTestBackend(t, Config{MaxSize: 1000, MaxEntrySize: 1000, Controller: rc})
	b2, _ := newTestBackend(t, Config{MaxSize: 1000, MaxEntrySize: 1000, Controller: rc})

	// b2 holds 61 bytes open, so b1 can only use what is left.
	held, err := b2.CreateEntry("h")
	require.NoError(t, err)
	_, err = held.Write(0, 0, make([]byte, 60), false)
	require.NoError(t, err)

	idle, err := b1.CreateEntry("i")
	require.NoError(t, err)
	_, err = idle.Write(0, 0, make([]byte, 30), false)
	require.NoError(t, err)
	require.NoError(t, idle.Close())
	assert.Equal(t, int64(92), rc.MemoryUsage())

	// The controller refuses, b1 evicts its idle entry and retries.
	w, err := b1.CreateEntry("w")
	require.NoError(t, err)
	_, err = w.Write(0, 0, make([]byte, 20), false)
	require.NoError(t, err)
	_, err = b1.OpenEntry("i")
	assert.ErrorIs(t, err, ErrNotFound)

	// Nothing idle is left to evict: the write fails and changes nothing.
	before := b1.CurrentSize()
	_, err = w.Write(0, 20, make([]byte, 30), false)
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Equal(t, before, b1.CurrentSize())
	assert.Equal(t, int64(20), w.DataSize(0))

	assert.Equal(t, b1.CurrentSize()+b2.CurrentSize(), rc.MemoryUsage())

	require.NoError(t, w.Close())
	require.NoError(t, held.Close())
	b1.Close()
	b2.Close()
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestBackend_CloseReleasesEverything(t *testing.T) {
	b, _ := newTestBackend(t, Config{})

	open, err := b.CreateEntry("open")
	require.NoError(t, err)
	_, err = open.WriteSparse(2*SparseChunkSize, []byte("sparse"))
	require.NoError(t, err)

	idle, err := b.CreateEntry("idle")
	require.NoError(t, err)
	writeString(t, idle, 0, 0, "x")
	require.NoError(t, idle.Close())

	b.Close()
	b.Close()

	assert.True(t, b.Closed())
	assert.Equal(t, 0, b.EntryCount())
	assert.Equal(t, 0, b.ranking.Len())
	_, err = b.OpenEntry("idle")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.CreateEntry("new")
	assert.ErrorIs(t, err, ErrClosed)

	// The open handle keeps working until closed.
	writeString(t, open, 0, 0, "still here")
	require.NoError(t, open.Close())
	assert.Equal(t, int64(0), b.CurrentSize())
}

func TestBackend_LRUOrderFollowsTouches(t *testing.T) {
	b, clock := newTestBackend(t, Config{})
	rng := testutil.NewRNG(7)

	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		e, err := b.CreateEntry(k)
		require.NoError(t, err)
		require.NoError(t, e.Close())
	}

	buf := make([]byte, 4)
	for range 100 {
		clock.Advance(time.Duration(rng.Intn(3)) * time.Second)
		e, err := b.OpenEntry(keys[rng.Intn(len(keys))])
		require.NoError(t, err)
		if rng.Intn(2) == 0 {
			_, err = e.Write(0, 0, buf, false)
		} else {
			_, err = e.Read(0, 0, buf)
		}
		require.NoError(t, err)
		require.NoError(t, e.Close())
	}

	var last time.Time
	var lastSeq uint64
	for h, ok := b.ranking.Prev(0); ok; h, ok = b.ranking.Prev(h) {
		e, _ := b.ranking.Value(h)
		if !last.IsZero() {
			assert.False(t, e.LastUsed().After(last), "ranking out of timestamp order")
			assert.Less(t, e.seq, lastSeq)
		}
		last, lastSeq = e.LastUsed(), e.seq
	}
}

func TestBackend_SizeInvariantRandomized(t *testing.T) {
	const maxSize = 64 * 1024
	b, clock := newTestBackend(t, Config{MaxSize: maxSize})
	rng := testutil.NewRNG(42)

	var open []*Entry
	closeOne := func() {
		i := rng.Intn(len(open))
		require.NoError(t, open[i].Close())
		open = append(open[:i], open[i+1:]...)
	}
	doomedOpen := func() []*Entry {
		seen := make(map[*Entry]bool)
		var out []*Entry
		for _, e := range open {
			if e.Doomed() && !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
		return out
	}

	for step := range 2000 {
		clock.Advance(time.Millisecond)
		key := fmt.Sprintf("key-%02d", rng.Intn(32))

		switch op := rng.Intn(8); {
		case op == 0 && len(open) < 2:
			e, _, err := b.OpenOrCreateEntry(key)
			require.NoError(t, err)
			open = append(open, e)
		case op == 1 && len(open) > 0:
			closeOne()
		case op == 2 && len(open) > 0:
			e := open[rng.Intn(len(open))]
			off := int64(rng.Intn(4096))
			_, err := e.Write(rng.Intn(2), off, rng.Bytes(rng.Intn(4096)), rng.Intn(2) == 0)
			require.NoError(t, err)
		case op == 3 && len(open) > 0:
			e := open[rng.Intn(len(open))]
			_, err := e.WriteSparse(int64(rng.Intn(64*1024)), rng.Bytes(rng.Intn(6000)))
			if err != nil {
				require.ErrorIs(t, err, ErrSizeLimitExceeded)
			}
		case op == 4:
			b.DoomEntry(key)
		case op == 5 && len(open) > 0:
			open[rng.Intn(len(open))].Doom()
		case op == 6 && step%97 == 0:
			b.DoomAllEntries()
		default:
			e, err := b.CreateEntry(key)
			if err != nil {
				require.ErrorIs(t, err, ErrAlreadyExists)
				continue
			}
			_, err = e.Write(0, 0, rng.Bytes(rng.Intn(2048)), false)
			require.NoError(t, err)
			require.NoError(t, e.Close())
		}

		requireSizeInvariant(t, b, doomedOpen()...)
		require.LessOrEqual(t, b.CurrentSize(), int64(maxSize), "step %d", step)
	}

	for len(open) > 0 {
		closeOne()
	}
	b.Close()
	assert.Equal(t, int64(0), b.CurrentSize())
}
