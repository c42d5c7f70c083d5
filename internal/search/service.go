package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"goalsync/api/internal/changefeed"
	"goalsync/api/internal/store"
)

// Index is a search engine that also accepts goal records.
type Index interface {
	Searcher
	IndexGoals(records []GoalRecord) error
	DeleteGoal(id string) error
}

// Service is the facade that tries the index first and falls back otherwise.
type Service struct {
	index    Index
	fallback Searcher
	goals    store.GoalStore
	logger   *slog.Logger

	// Changes are indexed one at a time, in feed order, so an older read of a goal can
	// never land after a newer one.
	mu      sync.Mutex
	queue   []changefeed.Change
	running bool
	wg      sync.WaitGroup
}

// NewService creates a search service. index may be nil when Meilisearch is not
// configured.
func NewService(index Index, fallback Searcher, goals store.GoalStore, logger *slog.Logger) *Service {
	return &Service{index: index, fallback: fallback, goals: goals, logger: logger}
}

var ErrOrganizationRequired = errors.New("organizationId is required")

func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if strings.TrimSpace(q.OrganizationID) == "" {
		return Response{}, ErrOrganizationRequired
	}
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: s.index.Name()}, nil
		}
		s.logger.Warn("search index failed, falling back", "engine", s.index.Name(), "fallback", s.fallback.Name(), "error", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", "engine", s.fallback.Name(), "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Engine: s.fallback.Name()}, nil
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: s.fallback.Name()}, nil
}

// HandleChange keeps the index in step with the change feed. It only queues the
// change; a single background worker applies the queue so the feed is never blocked.
func (s *Service) HandleChange(change changefeed.Change) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, change)
	if s.running {
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.drain()
}

func (s *Service) drain() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.queue = nil
			s.mu.Unlock()
			return
		}
		change := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.apply(change)
	}
}

func (s *Service) apply(change changefeed.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch change.Kind {
	case changefeed.KindDeleted:
		if err := s.index.DeleteGoal(change.GoalID); err != nil {
			s.logger.Warn("search delete failed", "goal_id", change.GoalID, "error", err)
		}
	case changefeed.KindResync:
		s.reindex(ctx)
	default:
		goal, err := s.goals.GetGoal(ctx, change.GoalID)
		if errors.Is(err, store.ErrNotFound) {
			// Deleted again before we got here.
			_ = s.index.DeleteGoal(change.GoalID)
			return
		}
		if err != nil {
			s.logger.Warn("search load goal failed", "goal_id", change.GoalID, "error", err)
			return
		}
		if err := s.index.IndexGoals([]GoalRecord{RecordFromGoal(goal)}); err != nil {
			s.logger.Warn("search index failed", "goal_id", change.GoalID, "error", err)
		}
	}
}

// Reindex pushes every stored goal into the index.
func (s *Service) Reindex(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.reindex(ctx)
}

func (s *Service) reindex(ctx context.Context) {
	goals, err := s.goals.FindGoals(ctx, store.Filter{})
	if err != nil {
		s.logger.Warn("search reindex load failed", "error", err)
		return
	}
	records := make([]GoalRecord, 0, len(goals))
	for _, g := range goals {
		records = append(records, RecordFromGoal(g))
	}
	if err := s.index.IndexGoals(records); err != nil {
		s.logger.Warn("search reindex failed", "error", err)
		return
	}
	s.logger.Info("search reindexed", "goals", len(records))
}

// Wait blocks until the queued changes have been indexed.
func (s *Service) Wait() {
	s.wg.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
