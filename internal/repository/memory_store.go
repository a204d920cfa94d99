package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/kursadbilgin/notify-sync/internal/domain"
)

var _ SnapshotStore = (*MemoryStore)(nil)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: snapshot %q", domain.ErrNotFound, key)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	s.values[key] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}
