package ranking

import "errors"

// ErrNotLinked is returned when a handle does not refer to a node that is
// currently in the list (never inserted, already removed, or stale).
var ErrNotLinked = errors.New("ranking: handle not linked")

// Handle identifies a node in a List. The zero Handle is never valid and is
// used by Next and Prev to start an iteration from one end.
//
// A handle carries the generation of its slot, so a handle kept after Remove
// is detected as stale even if the slot has been reused.
type Handle uint64

const none = 0

func makeHandle(slot, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(slot+1))
}

func (h Handle) slot() (uint32, bool) {
	s := uint32(h)
	if s == none {
		return 0, false
	}
	return s - 1, true
}

func (h Handle) gen() uint32 { return uint32(h >> 32) }

type node[T any] struct {
	value  T
	prev   uint32 // slot+1 of the more recently used neighbour, 0 at head
	next   uint32 // slot+1 of the less recently used neighbour, 0 at tail
	gen    uint32
	linked bool
}

// List is a recency list over values of type T.
//
// Nodes live in an arena slice and link to each other by slot index, so the
// list never holds pointers into the values it orders. The head is the most
// recently used node and the tail the least recently used one.
//
// List is not safe for concurrent use.
type List[T any] struct {
	nodes []node[T]
	free  []uint32
	head  uint32
	tail  uint32
	n     int
}

// New returns an empty list.
func New[T any]() *List[T] {
	return &List[T]{}
}

// Len returns the number of linked nodes.
func (l *List[T]) Len() int { return l.n }

// Insert links v at the head (most recently used position) and returns its handle.
func (l *List[T]) Insert(v T) Handle {
	var slot uint32
	if k := len(l.free); k > 0 {
		slot = l.free[k-1]
		l.free = l.free[:k-1]
	} else {
		l.nodes = append(l.nodes, node[T]{})
		slot = uint32(len(l.nodes) - 1)
	}

	nd := &l.nodes[slot]
	nd.value = v
	nd.linked = true
	l.pushFront(slot)
	l.n++
	return makeHandle(slot, nd.gen)
}

// Remove unlinks the node identified by h and releases its slot.
// Removing a node twice returns ErrNotLinked.
func (l *List[T]) Remove(h Handle) error {
	slot, ok := l.lookup(h)
	if !ok {
		return ErrNotLinked
	}
	l.unlink(slot)

	nd := &l.nodes[slot]
	var zero T
	nd.value = zero
	nd.linked = false
	nd.gen++
	l.free = append(l.free, slot)
	l.n--
	return nil
}

// UpdateRank moves the node identified by h to the head.
func (l *List[T]) UpdateRank(h Handle) error {
	slot, ok := l.lookup(h)
	if !ok {
		return ErrNotLinked
	}
	if l.head == slot+1 {
		return nil
	}
	l.unlink(slot)
	l.pushFront(slot)
	return nil
}

// Contains reports whether h refers to a linked node.
func (l *List[T]) Contains(h Handle) bool {
	_, ok := l.lookup(h)
	return ok
}

// Value returns the value stored under h.
func (l *List[T]) Value(h Handle) (T, bool) {
	slot, ok := l.lookup(h)
	if !ok {
		var zero T
		return zero, false
	}
	return l.nodes[slot].value, true
}

// Next steps towards the head. A zero handle starts at the tail, so repeated
// calls visit nodes from least to most recently used.
func (l *List[T]) Next(h Handle) (Handle, bool) {
	if h == none {
		return l.handleAt(l.tail)
	}
	slot, ok := l.lookup(h)
	if !ok {
		return none, false
	}
	return l.handleAt(l.nodes[slot].prev)
}

// Prev steps towards the tail. A zero handle starts at the head, so repeated
// calls visit nodes from most to least recently used.
func (l *List[T]) Prev(h Handle) (Handle, bool) {
	if h == none {
		return l.handleAt(l.head)
	}
	slot, ok := l.lookup(h)
	if !ok {
		return none, false
	}
	return l.handleAt(l.nodes[slot].next)
}

func (l *List[T]) handleAt(ref uint32) (Handle, bool) {
	if ref == none {
		return none, false
	}
	return makeHandle(ref-1, l.nodes[ref-1].gen), true
}

func (l *List[T]) lookup(h Handle) (uint32, bool) {
	slot, ok := h.slot()
	if !ok || int(slot) >= len(l.nodes) {
		return 0, false
	}
	nd := &l.nodes[slot]
	if !nd.linked || nd.gen != h.gen() {
		return 0, false
	}
	return slot, true
}

// Internal link helpers (slot must be valid)

func (l *List[T]) pushFront(slot uint32) {
	ref := slot + 1
	nd := &l.nodes[slot]
	nd.prev = none
	nd.next = l.head
	if l.head != none {
		l.nodes[l.head-1].prev = ref
	}
	l.head = ref
	if l.tail == none {
		l.tail = ref
	}
}

func (l *List[T]) unlink(slot uint32) {
	nd := &l.nodes[slot]
	if nd.prev != none {
		l.nodes[nd.prev-1].next = nd.next
	} else {
		l.head = nd.next
	}
	if nd.next != none {
		l.nodes[nd.next-1].prev = nd.prev
	} else {
		l.tail = nd.prev
	}
	nd.prev = none
	nd.next = none
}
