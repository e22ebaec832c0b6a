package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/swapline/pool-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	pools  map[string]*model.Pool
	events []model.PoolEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools: make(map[string]*model.Pool),
	}
}

func (s *MemoryStore) UpsertPool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *p
	s.pools[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s not found", id)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *p)
	}
	return pools, nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, ev *model.PoolEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryStore) GetEventsByPool(_ context.Context, poolID string) ([]model.PoolEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PoolEvent
	for _, ev := range s.events {
		if ev.PoolID == poolID {
			result = append(result, ev)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetEventsByActor(_ context.Context, actor string) ([]model.PoolEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PoolEvent
	for _, ev := range s.events {
		if ev.Actor == actor {
			result = append(result, ev)
		}
	}
	return result, nil
}
