package task

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type Store interface {
	Get(ctx context.Context, id uuid.UUID) (Task, bool, error)
	Set(ctx context.Context, t Task) error
	ListAssigned(ctx context.Context) ([]Task, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[uuid.UUID]Task)}
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Task, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *MemoryStore) ListAssigned(_ context.Context) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0)
	for _, t := range s.tasks {
		if t.State == StateAssigned {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
