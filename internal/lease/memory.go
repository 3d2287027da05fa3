package lease

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Reader used by tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	leases map[string]*Lease
	err    error
}

var _ Reader = (*MemoryStore)(nil)

// NewMemoryStore creates a store seeded with leases.
func NewMemoryStore(leases ...*Lease) *MemoryStore {
	s := &MemoryStore{leases: make(map[string]*Lease)}
	for _, l := range leases {
		s.Put(l)
	}
	return s
}

// Put inserts or replaces a lease.
func (s *MemoryStore) Put(l *Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.leases[l.ID] = &cp
}

// SetErr makes every subsequent read fail with err; nil clears it.
func (s *MemoryStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// ListActive returns active leases ordered by id.
func (s *MemoryStore) ListActive(_ context.Context) ([]*Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	var out []*Lease
	for _, l := range s.leases {
		if l.IsActive() {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns one lease by id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	l, ok := s.leases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *l
	return &cp, nil
}
