package statestore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation of the Store interface.
// It is thread-safe and suitable for development, testing, and single-instance deployments.
// For records that must outlive the process, use RedisStore or BadgerStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		now:     time.Now,
	}
}

// Save stores a copy of rec.
func (s *MemoryStore) Save(_ context.Context, rec *CallRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	rec.SavedAt = s.now()

	// Records are kept encoded so callers never share state with the store.
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = data
	return nil
}

// Load returns a copy of the record.
func (s *MemoryStore) Load(_ context.Context, id string) (*CallRecord, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	data, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeRecord(data)
}

// List returns copies of the stored records.
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*CallRecord, error) {
	s.mu.RLock()
	recs := make([]*CallRecord, 0, len(s.records))
	for _, data := range s.records {
		rec, err := decodeRecord(data)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	return sortAndPage(recs, opts), nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
