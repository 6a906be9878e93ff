package core

import (
	"slices"
	"sync"
)

// observerSet keeps registration order and hands out snapshots,
// so an observer may remove itself while being notified.
type observerSet[T comparable] struct {
	mu    sync.Mutex
	items []T
}

func (s *observerSet[T]) add(o T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.items, o) {
		return
	}
	s.items = append(s.items, o)
}

func (s *observerSet[T]) remove(o T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.items, o); i >= 0 {
		s.items = slices.Delete(s.items, i, i+1)
	}
}

func (s *observerSet[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

func (s *observerSet[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
