package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Log.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	err     error
}

var _ Log = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory audit log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// SetErr makes every subsequent call fail with err; nil clears it.
func (s *MemoryStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemoryStore) Record(_ context.Context, rec *Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}

	prepare(rec)
	if _, ok := s.records[rec.ID]; ok {
		return "", fmt.Errorf("audit record %s already exists", rec.ID)
	}
	s.records[rec.ID] = copyRecord(rec)
	return rec.ID, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id string, status Status, outcome string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid audit status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.Outcome = outcome
	rec.ProcessedAt = &now
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	var out []*Record
	for _, rec := range s.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.PaymentID != "" && rec.PaymentID != filter.PaymentID {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyRecord(rec *Record) *Record {
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	if rec.ProcessedAt != nil {
		t := *rec.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}
