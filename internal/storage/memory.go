package storage

import (
	"context"
	"sort"
	"sync"

	"nasfit/internal/model"
)

type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]model.ResultRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = make(map[string]model.ResultRecord)
	return nil
}

func (s *MemoryStore) SaveResult(_ context.Context, record model.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[record.ID] = record
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, id string) (model.ResultRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.results[id]
	return record, ok, nil
}

func (s *MemoryStore) ListResults(_ context.Context) ([]model.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ResultRecord, 0, len(s.results))
	for _, record := range s.results {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtUTC != out[j].CreatedAtUTC {
			return out[i].CreatedAtUTC < out[j].CreatedAtUTC
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
