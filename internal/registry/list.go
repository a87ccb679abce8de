package registry

import (
	"errors"
	"iter"
)

const nilSlot = -1

var (
	ErrDuplicateKey = errors.New("key already present")
	ErrNotFound     = errors.New("not found")
)

type slot[K comparable, V any] struct {
	key  K
	val  V
	prev int
	next int
	live bool
}

// List is an insertion-ordered collection stored in a slot arena. Entries are
// chained through slot indices, so removal by key is O(1) and iteration order
// is stable. Freed slots are reused by later inserts.
type List[K comparable, V any] struct {
	slots []slot[K, V]
	free  []int
	index map[K]int
	head  int
	tail  int
}

func NewList[K comparable, V any]() *List[K, V] {
	return &List[K, V]{
		index: make(map[K]int),
		head:  nilSlot,
		tail:  nilSlot,
	}
}

func (l *List[K, V]) Len() int {
	return len(l.index)
}

// PushBack appends v at the tail.
func (l *List[K, V]) PushBack(key K, v V) error {
	if _, ok := l.index[key]; ok {
		return ErrDuplicateKey
	}

	s := slot[K, V]{key: key, val: v, prev: l.tail, next: nilSlot, live: true}
	var i int
	if n := len(l.free); n > 0 {
		i = l.free[n-1]
		l.free = l.free[:n-1]
		l.slots[i] = s
	} else {
		i = len(l.slots)
		l.slots = append(l.slots, s)
	}

	if l.tail != nilSlot {
		l.slots[l.tail].next = i
	} else {
		l.head = i
	}
	l.tail = i
	l.index[key] = i
	return nil
}

func (l *List[K, V]) Get(key K) (V, bool) {
	i, ok := l.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return l.slots[i].val, true
}

// Remove unlinks key and returns its value. A missing key is reported and
// leaves the list untouched.
func (l *List[K, V]) Remove(key K) (V, bool) {
	i, ok := l.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	s := l.slots[i]

	if s.prev != nilSlot {
		l.slots[s.prev].next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nilSlot {
		l.slots[s.next].prev = s.prev
	} else {
		l.tail = s.prev
	}

	delete(l.index, key)
	l.slots[i] = slot[K, V]{prev: nilSlot, next: nilSlot}
	l.free = append(l.free, i)
	return s.val, true
}

// All yields entries head to tail.
func (l *List[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for i := l.head; i != nilSlot; i = l.slots[i].next {
			if !yield(l.slots[i].key, l.slots[i].val) {
				return
			}
		}
	}
}

func (l *List[K, V]) Values() []V {
	out := make([]V, 0, len(l.index))
	for _, v := range l.All() {
		out = append(out, v)
	}
	return out
}

func (l *List[K, V]) Keys() []K {
	out := make([]K, 0, len(l.index))
	for k := range l.All() {
		out = append(out, k)
	}
	return out
}

// Clear drops every entry and returns the values in list order.
func (l *List[K, V]) Clear() []V {
	vals := l.Values()
	l.slots = nil
	l.free = nil
	l.index = make(map[K]int)
	l.head, l.tail = nilSlot, nilSlot
	return vals
}
