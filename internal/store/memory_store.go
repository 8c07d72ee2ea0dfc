package store

import (
	"context"
	"sync"

	"github.com/Alfredo-rv/SAAI/internal/model"
)

// MemoryResultStore keeps the most recent results in a ring
type MemoryResultStore struct {
	mu       sync.RWMutex
	results  []*model.ConsensusResult
	next     int
	full     bool
	capacity int
}

// NewMemoryResultStore creates a store holding at most capacity results
func NewMemoryResultStore(capacity int) *MemoryResultStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryResultStore{
		results:  make([]*model.ConsensusResult, capacity),
		capacity: capacity,
	}
}

// Save stores a copy of result, evicting the oldest one when full
func (s *MemoryResultStore) Save(_ context.Context, result *model.ConsensusResult) error {
	cp := *result
	s.mu.Lock()
	s.results[s.next] = &cp
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
	s.mu.Unlock()
	return nil
}

// List returns matching results newest first
func (s *MemoryResultStore) List(_ context.Context, filter ResultFilter) ([]*model.ConsensusResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = s.capacity
	}
	limit := filter.limit()
	out := make([]*model.ConsensusResult, 0)
	for i := 0; i < n && len(out) < limit; i++ {
		idx := (s.next - 1 - i + s.capacity) % s.capacity
		r := s.results[idx]
		if filter.matches(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Len returns the number of stored results
func (s *MemoryResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return s.capacity
	}
	return s.next
}

func (s *MemoryResultStore) Ping(context.Context) error { return nil }

func (s *MemoryResultStore) Close() error { return nil }
