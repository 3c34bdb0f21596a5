package preference

import (
	"context"
	"sync"
)

// MemoryStore keeps recipients in a map for the lifetime of one run.
type MemoryStore struct {
	mu         sync.RWMutex
	recipients map[int64]Recipient
	closed     bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recipients: make(map[int64]Recipient),
	}
}

// GetOrCreate implements Store.
func (s *MemoryStore) GetOrCreate(_ context.Context, id int64) (Recipient, error) {
	s.mu.RLock()
	r, ok := s.recipients[id]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return Recipient{}, ErrStoreClosed
	}
	if ok {
		return r, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if r, ok := s.recipients[id]; ok {
		return r, nil
	}
	r = DefaultRecipient(id)
	s.recipients[id] = r
	return r, nil
}

// ApplyUpdate implements Store.
func (s *MemoryStore) ApplyUpdate(_ context.Context, id int64, personal, marketing *bool) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Recipient{}, ErrStoreClosed
	}

	r, ok := s.recipients[id]
	if !ok {
		r = DefaultRecipient(id)
	}
	r = r.apply(personal, marketing)
	s.recipients[id] = r
	return r, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id int64) (Recipient, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Recipient{}, false, ErrStoreClosed
	}
	r, ok := s.recipients[id]
	return r, ok, nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.recipients), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
