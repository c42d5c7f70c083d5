package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"goalsync/api/internal/changefeed"
	"goalsync/api/internal/export"
	"goalsync/api/internal/goals"
	"goalsync/api/internal/search"
	"goalsync/api/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testStore is a memory store whose ping, replace and find can be made to fail.
type testStore struct {
	*store.MemoryStore
	mu         sync.Mutex
	pingErr    error
	replaceErr error
	findErr    error
}

func (s *testStore) set(fn func(*testStore)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

func (s *testStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *testStore) ReplaceGoal(ctx context.Context, goal store.Goal) error {
	s.mu.Lock()
	err := s.replaceErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.ReplaceGoal(ctx, goal)
}

func (s *testStore) ReplaceGoalIfStatus(ctx context.Context, goal store.Goal, expected store.Status) error {
	s.mu.Lock()
	err := s.replaceErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.ReplaceGoalIfStatus(ctx, goal, expected)
}

func (s *testStore) FindGoals(ctx context.Context, filter store.Filter) ([]store.Goal, error) {
	s.mu.Lock()
	err := s.findErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.FindGoals(ctx, filter)
}

type harness struct {
	store    *testStore
	service  *Service
	metrics  *Metrics
	notifier *goals.Notifier
	handler  http.Handler
}

type harnessConfig struct {
	limiter *RateLimiter
}

func newHarness(t *testing.T, opts ...func(*harnessConfig)) *harness {
	t.Helper()
	var cfg harnessConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := discardLogger()
	st := &testStore{MemoryStore: store.NewMemoryStore()}
	metrics := NewMetrics()
	local := changefeed.NewLocal()
	repo := goals.NewRepository(st, logger, goals.WithPublisher(local))
	resolver := goals.NewResolver(st)
	notifier := goals.NewNotifier(resolver, logger, goals.WithObserver(metrics))
	unsubscribeNotifier := local.Subscribe(notifier.Notify)
	unsubscribeMetrics := local.Subscribe(metrics.ObserveChange)
	t.Cleanup(func() {
		unsubscribeNotifier()
		unsubscribeMetrics()
		notifier.Close()
	})

	fakePDF := func(context.Context, []byte) ([]byte, error) { return []byte("%PDF-1.7"), nil }
	svc := NewService(Deps{
		Repository: repo,
		Resolver:   resolver,
		Notifier:   notifier,
		Controller: goals.NewController(repo, logger, metrics),
		Search:     search.NewService(nil, search.NewScan(st), st, logger),
		Export:     export.NewService(resolver, logger, export.WithPDFRenderer(fakePDF)),
		Logger:     logger,
	})
	server := NewHTTPServer(svc, "*",
		WithLogger(logger),
		WithMetrics(metrics),
		WithRateLimiter(cfg.limiter),
	)
	return &harness{
		store:    st,
		service:  svc,
		metrics:  metrics,
		notifier: notifier,
		handler:  server.Handler(),
	}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func (h *harness) createGoal(t *testing.T, body map[string]any) store.Goal {
	t.Helper()
	rr := h.do(t, http.MethodPost, "/api/goals", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var goal store.Goal
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &goal))
	return goal
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func weeklyGoalBody(org, title string) map[string]any {
	return map[string]any{
		"organizationId": org,
		"title":          title,
		"timeframe":      "weekly",
		"type":           "team",
		"priority":       "medium",
		"startDate":      "2025-03-17T00:00:00Z",
		"endDate":        "2025-03-23T00:00:00Z",
		"calendarWeek":   12,
		"year":           2025,
	}
}

func goalBody(org, title, timeframe string) map[string]any {
	return map[string]any{
		"organizationId": org,
		"title":          title,
		"timeframe":      timeframe,
		"type":           "company",
		"priority":       "high",
		"startDate":      "2025-01-01T00:00:00Z",
		"endDate":        "2025-12-31T00:00:00Z",
	}
}
