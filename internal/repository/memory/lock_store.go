package memory

import (
	"context"
	"sync"

	"github.com/cassiomorais/pospay/internal/domain/payment"
)

// LockStore implements payment.LockStore in process memory. A restarted
// process forgets its locks, so stations that must stay blocked across
// restarts use the Redis or PostgreSQL store.
type LockStore struct {
	mu    sync.RWMutex
	locks map[string]payment.TerminalLock
}

// NewLockStore creates an empty LockStore.
func NewLockStore() *LockStore {
	return &LockStore{locks: make(map[string]payment.TerminalLock)}
}

func (s *LockStore) Load(_ context.Context, stationID string) (payment.TerminalLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locks[stationID], nil
}

func (s *LockStore) Save(_ context.Context, stationID string, lock payment.TerminalLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[stationID] = lock
	return nil
}

func (s *LockStore) Clear(_ context.Context, stationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, stationID)
	return nil
}
