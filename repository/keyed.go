package repository

import "sync"

// slot holds one user's state behind its own mutex. Holding slot.mu
// serializes every read-modify-write for that user only.
type slot[T any] struct {
	mu     sync.Mutex
	loaded bool
	// keep marks state worth holding after the last caller leaves: a stored
	// document or an in-memory change. Guarded by mu.
	keep bool
	val  T

	refs int // guarded by slots.mu
}

// slots hands out one slot per user key. The outer mutex is held only long
// enough to find, create or drop the slot, so different users never wait on
// each other's I/O. Slots nobody holds and nothing marked keep are dropped,
// so reads for unknown users leave no trace.
type slots[T any] struct {
	mu sync.Mutex
	m  map[string]*slot[T]
}

func newSlots[T any]() *slots[T] {
	return &slots[T]{m: make(map[string]*slot[T])}
}

// lock returns the user's slot with its mutex held. The returned func
// unlocks it and must be called exactly once.
func (s *slots[T]) lock(key string) (*slot[T], func()) {
	s.mu.Lock()
	sl, ok := s.m[key]
	if !ok {
		sl = &slot[T]{}
		s.m[key] = sl
	}
	sl.refs++
	s.mu.Unlock()

	sl.mu.Lock()
	return sl, func() {
		// sl.mu is still held here, so keep cannot change underneath us.
		s.mu.Lock()
		sl.refs--
		if sl.refs == 0 && !sl.keep {
			delete(s.m, key)
		}
		s.mu.Unlock()
		sl.mu.Unlock()
	}
}

func (s *slots[T]) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
