package tools

import "sync"

type listenerEntry[T any] struct {
	id uint64
	l  T
}

// Listeners is a concurrent set of event subscribers.
// Dispatch runs over a snapshot, so subscribers may unsubscribe from inside a callback.
type Listeners[T any] struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []listenerEntry[T]
}

// Add registers l and returns a function that removes it. The returned function is idempotent.
func (s *Listeners[T]) Add(l T) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.entries = append(s.entries, listenerEntry[T]{id: id, l: l})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.entries {
			if e.id == id {
				s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of registered listeners.
func (s *Listeners[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Each calls fn for every listener in registration order.
func (s *Listeners[T]) Each(fn func(T)) {
	s.mu.RLock()
	snapshot := s.entries
	s.mu.RUnlock()

	for _, e := range snapshot {
		fn(e.l)
	}
}
