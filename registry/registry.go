// Package registry maps entity ids to arena slots and tracks instances waiting for an id to appear.
//
// A Registry is not safe for concurrent use. It belongs to the coordinating goroutine,
// other goroutines reach it through a relay.
package registry

import (
	"errors"
	"fmt"
)

// ID identifies a Variable or ResultData across processes
type ID uint64

// String formats the id the way definition strings carry it
func (id ID) String() string {
	return fmt.Sprintf("0x%X", uint64(id))
}

var (
	// ErrDuplicateID is returned when an owner already holds the id
	ErrDuplicateID = errors.New("registry: duplicate id")
	// ErrZeroID is returned when registering id 0, which is reserved for the zero entity
	ErrZeroID = errors.New("registry: id 0 is reserved")
)

// Handle refers to an arena slot. A handle outlives its entry safely:
// once the slot is released the generation moves on and the handle resolves to nothing.
type Handle struct {
	index      uint32
	generation uint32
}

// IsZero reports whether h was never issued
func (h Handle) IsZero() bool {
	return h.generation == 0
}

type slot[T any] struct {
	id         ID
	entry      T
	generation uint32
	used       bool
}

// Registry is an arena of entries keyed by id, plus per-id waiter lists.
// W identifies a waiter, typically an instance pointer.
type Registry[T any, W comparable] struct {
	slots   []slot[T]
	free    []uint32
	byID    map[ID]Handle
	waiters map[ID][]W
}

// New creates an empty registry
func New[T any, W comparable]() *Registry[T, W] {
	return &Registry[T, W]{
		byID:    make(map[ID]Handle),
		waiters: make(map[ID][]W),
	}
}

// Register stores entry under id
func (r *Registry[T, W]) Register(id ID, entry T) (Handle, error) {
	if id == 0 {
		return Handle{}, ErrZeroID
	}
	if _, exists := r.byID[id]; exists {
		return Handle{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, slot[T]{})
		idx = uint32(len(r.slots) - 1)
	}

	s := &r.slots[idx]
	s.generation++
	s.id = id
	s.entry = entry
	s.used = true

	h := Handle{index: idx, generation: s.generation}
	r.byID[id] = h
	return h, nil
}

func (r *Registry[T, W]) slot(h Handle) *slot[T] {
	if h.IsZero() || int(h.index) >= len(r.slots) {
		return nil
	}
	s := &r.slots[h.index]
	if !s.used || s.generation != h.generation {
		return nil
	}
	return s
}

// Unregister releases the slot of h. Stale handles are ignored.
func (r *Registry[T, W]) Unregister(h Handle) bool {
	s := r.slot(h)
	if s == nil {
		return false
	}
	delete(r.byID, s.id)
	var zero T
	s.entry = zero
	s.used = false
	s.id = 0
	r.free = append(r.free, h.index)
	return true
}

// Resolve returns the handle registered for id
func (r *Registry[T, W]) Resolve(id ID) (Handle, bool) {
	h, ok := r.byID[id]
	return h, ok
}

// Get returns the entry behind h
func (r *Registry[T, W]) Get(h Handle) (T, bool) {
	s := r.slot(h)
	if s == nil {
		var zero T
		return zero, false
	}
	return s.entry, true
}

// Lookup resolves id and returns its entry
func (r *Registry[T, W]) Lookup(id ID) (T, bool) {
	h, ok := r.byID[id]
	if !ok {
		var zero T
		return zero, false
	}
	return r.Get(h)
}

// Len returns the number of registered entries
func (r *Registry[T, W]) Len() int {
	return len(r.byID)
}

// Each visits live entries in slot order until fn returns false
func (r *Registry[T, W]) Each(fn func(ID, T) bool) {
	for i := range r.slots {
		s := &r.slots[i]
		if s.used && !fn(s.id, s.entry) {
			return
		}
	}
}

// Entries returns a snapshot of live entries in slot order
func (r *Registry[T, W]) Entries() []T {
	out := make([]T, 0, len(r.byID))
	r.Each(func(_ ID, e T) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Await records w as waiting for id. Adding the same waiter twice is a no-op.
func (r *Registry[T, W]) Await(id ID, w W) {
	if id == 0 {
		return
	}
	for _, x := range r.waiters[id] {
		if x == w {
			return
		}
	}
	r.waiters[id] = append(r.waiters[id], w)
}

// Cancel removes w from the waiters of id
func (r *Registry[T, W]) Cancel(id ID, w W) bool {
	list := r.waiters[id]
	for i, x := range list {
		if x == w {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(r.waiters, id)
			} else {
				r.waiters[id] = list
			}
			return true
		}
	}
	return false
}

// Waiters returns a snapshot of the waiters of id in registration order
func (r *Registry[T, W]) Waiters(id ID) []W {
	list := r.waiters[id]
	out := make([]W, len(list))
	copy(out, list)
	return out
}

// BroadcastNewID calls fn for every waiter of id, in registration order, before returning.
// The visit runs over a snapshot so fn may cancel or add waiters.
func (r *Registry[T, W]) BroadcastNewID(id ID, fn func(W)) int {
	snapshot := r.Waiters(id)
	for _, w := range snapshot {
		fn(w)
	}
	return len(snapshot)
}
