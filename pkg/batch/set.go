package batch

import (
	"sort"
	"sync"
)

// Set holds the batches an evaluation may address and remembers the most
// recently loaded one.
type Set struct {
	mu      sync.RWMutex
	batches map[string]*Batch
	loaded  string
}

// NewSet creates a set from batches; the last one becomes the loaded batch.
func NewSet(batches ...*Batch) *Set {
	s := &Set{batches: make(map[string]*Batch)}
	for _, b := range batches {
		s.Add(b)
	}
	return s
}

// Add registers b and marks it as the loaded batch.
func (s *Set) Add(b *Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b
	s.loaded = b.ID
}

// Remove forgets a batch.
func (s *Set) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, id)
	if s.loaded == id {
		s.loaded = ""
	}
}

// Get returns the batch with the given id.
func (s *Set) Get(id string) (*Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	return b, ok
}

// Len returns the number of batches.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches)
}

// Only returns the batch when the set holds exactly one.
func (s *Set) Only() (*Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.batches) != 1 {
		return nil, false
	}
	for _, b := range s.batches {
		return b, true
	}
	return nil, false
}

// Loaded returns the most recently loaded batch.
func (s *Set) Loaded() (*Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loaded == "" {
		return nil, false
	}
	b, ok := s.batches[s.loaded]
	return b, ok
}

// IDs returns the batch ids in sorted order.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.batches))
	for id := range s.batches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
