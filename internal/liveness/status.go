package liveness

import (
	"context"
	"sync"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// MemoryStatusStore is a process-local LiveStatusStore.
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[domain.IdentityKey]domain.LiveStatus
}

var _ domain.LiveStatusStore = (*MemoryStatusStore)(nil)

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[domain.IdentityKey]domain.LiveStatus)}
}

func (s *MemoryStatusStore) Record(_ context.Context, key domain.IdentityKey, status domain.LiveStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[key] = status
	return nil
}

func (s *MemoryStatusStore) Get(_ context.Context, key domain.IdentityKey) (domain.LiveStatus, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[key]
	return status, ok, nil
}
