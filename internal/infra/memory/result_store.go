package memory

import (
	"context"
	"sync"

	"spacescape-service/internal/domain"
)

// ResultStore keeps game results in memory when no database is configured.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string][]domain.GameResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string][]domain.GameResult)}
}

func (s *ResultStore) RecordResult(_ context.Context, result domain.GameResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.RoomID] = append(s.results[result.RoomID], result)
	return nil
}

// ListResults returns results newest first.
func (s *ResultStore) ListResults(_ context.Context, roomID string) ([]domain.GameResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.results[roomID]
	out := make([]domain.GameResult, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}
