package store

import (
	"context"
	"sync"

	"goalsync/api/internal/util"
)

// MemoryStore is an in-process GoalStore used for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	goals map[string]Goal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{goals: make(map[string]Goal)}
}

func (s *MemoryStore) InsertGoal(ctx context.Context, goal Goal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	goal.ID = util.NewID("goal")
	s.goals[goal.ID] = goal.Clone()
	return goal.ID, nil
}

func (s *MemoryStore) ReplaceGoal(ctx context.Context, goal Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.goals[goal.ID]; !ok {
		return ErrNotFound
	}
	s.goals[goal.ID] = goal.Clone()
	return nil
}

func (s *MemoryStore) ReplaceGoalIfStatus(ctx context.Context, goal Goal, expected Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.goals[goal.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expected {
		return ErrStatusMismatch
	}
	s.goals[goal.ID] = goal.Clone()
	return nil
}

func (s *MemoryStore) DeleteGoal(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.goals[id]; !ok {
		return ErrNotFound
	}
	delete(s.goals, id)
	return nil
}

func (s *MemoryStore) GetGoal(ctx context.Context, id string) (Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	goal, ok := s.goals[id]
	if !ok {
		return Goal{}, ErrNotFound
	}
	return goal.Clone(), nil
}

func (s *MemoryStore) FindGoals(ctx context.Context, filter Filter) ([]Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Goal, 0, len(s.goals))
	for _, goal := range s.goals {
		if filter.Match(goal) {
			list = append(list, goal.Clone())
		}
	}
	return list, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

var _ GoalStore = (*MemoryStore)(nil)
