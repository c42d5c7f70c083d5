package app

import (
	"context"
	"log/slog"
	"net/http"

	"goalsync/api/internal/export"
	"goalsync/api/internal/goals"
	"goalsync/api/internal/search"
	"goalsync/api/internal/store"
)

// Searcher is the part of the search service the facade needs.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (search.Response, error)
}

// Exporter renders goal exports.
type Exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Deps are the engine components behind the facade. Search and Export may be nil.
type Deps struct {
	Repository *goals.Repository
	Resolver   goals.GoalResolver
	Notifier   *goals.Notifier
	Controller *goals.Controller
	Search     Searcher
	Export     Exporter
	Logger     *slog.Logger
}

// Service is the single entry point the transports call into.
type Service struct {
	repo       *goals.Repository
	resolver   goals.GoalResolver
	notifier   *goals.Notifier
	controller *goals.Controller
	search     Searcher
	export     Exporter
	logger     *slog.Logger
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       d.Repository,
		resolver:   d.Resolver,
		notifier:   d.Notifier,
		controller: d.Controller,
		search:     d.Search,
		export:     d.Export,
		logger:     logger,
	}
}

// Progress is the computed view of a goal's metrics. Progress itself is the stored,
// authoritative value.
type Progress struct {
	GoalID       string         `json:"goalId"`
	Progress     int            `json:"progress"`
	MetricRollup int            `json:"metricRollup"`
	Metrics      map[string]int `json:"metrics"`
	KeyResults   map[string]int `json:"keyResults"`
}

func (s *Service) CreateGoal(ctx context.Context, goal store.Goal) (store.Goal, error) {
	id, err := s.repo.Create(ctx, goal)
	if err != nil {
		return store.Goal{}, err
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateGoal(ctx context.Context, id string, goal store.Goal) (store.Goal, error) {
	return s.repo.Update(ctx, id, goal)
}

func (s *Service) DeleteGoal(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) GetGoal(ctx context.Context, id string) (store.Goal, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListChildren(ctx context.Context, id string) ([]store.Goal, error) {
	return s.repo.Children(ctx, id)
}

func (s *Service) ResolveGoals(ctx context.Context, sel goals.Selector) ([]store.Goal, error) {
	return s.resolver.Resolve(ctx, sel)
}

func (s *Service) SubscribeGoals(ctx context.Context, sel goals.Selector) (*goals.Subscription, error) {
	return s.notifier.Subscribe(ctx, sel)
}

// DropGoal changes a goal's status. view is the caller's board, or nil.
func (s *Service) DropGoal(ctx context.Context, id string, from, to store.Status, view *goals.Board) (goals.TransitionResult, error) {
	return s.controller.Drop(ctx, id, from, to, view)
}

func (s *Service) ReopenGoal(ctx context.Context, id string) (goals.TransitionResult, error) {
	return s.controller.Reopen(ctx, id)
}

func (s *Service) GoalProgress(ctx context.Context, id string) (Progress, error) {
	goal, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	krs := make(map[string]int, len(goal.KeyResults))
	for _, kr := range goal.KeyResults {
		krs[kr.ID] = goals.KeyResultPercent(kr)
	}
	return Progress{
		GoalID:       goal.ID,
		Progress:     goal.Progress,
		MetricRollup: goals.MetricRollup(goal),
		Metrics:      goals.MetricPercents(goal),
		KeyResults:   krs,
	}, nil
}

func (s *Service) SearchGoals(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(ctx, q)
}

func (s *Service) ExportGoals(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	return s.export.Export(ctx, req)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
