package session

import (
	"context"
	"sync"
)

// NewInMemoryStore returns a Store backed by an in-memory map.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

// InMemoryStore implements Store for tests and local development.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// Save persists the provided record.
func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	data := append([]byte(nil), record.Data...)
	record.Data = data
	s.mu.Lock()
	s.records[record.ID] = record
	s.mu.Unlock()
	return nil
}

// Find retrieves a record by id.
func (s *InMemoryStore) Find(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	record, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	return record, nil
}

// Delete removes the record associated with id.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// Has reports whether a record exists. Useful for tests.
func (s *InMemoryStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok
}
