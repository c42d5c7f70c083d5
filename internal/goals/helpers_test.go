package goals

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"goalsync/api/internal/changefeed"
	"goalsync/api/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// tickingClock returns a clock that advances one second per call.
func tickingClock(start time.Time) func() time.Time {
	var (
		mu  sync.Mutex
		now = start
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newGoal(org string, tf store.Timeframe) store.Goal {
	g := store.Goal{
		OrganizationID: org,
		Title:          "goal",
		Timeframe:      tf,
		Type:           store.GoalTypeTeam,
		Priority:       store.PriorityMedium,
		StartDate:      day(2025, 1, 1),
		EndDate:        day(2025, 12, 31),
	}
	if tf == store.TimeframeWeekly {
		g.StartDate = day(2025, 3, 17)
		g.EndDate = day(2025, 3, 23)
		g.CalendarWeek = intPtr(12)
		g.Year = intPtr(2025)
	}
	return g
}

// flakyStore fails selected operations on demand.
type flakyStore struct {
	*store.MemoryStore
	mu         sync.Mutex
	replaceErr error
	findErr    error
	// beforeSwap runs inside ReplaceGoalIfStatus ahead of the write, standing in for
	// another writer that gets there first.
	beforeSwap func(context.Context)
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: store.NewMemoryStore()}
}

func (s *flakyStore) failReplace(err error) {
	s.mu.Lock()
	s.replaceErr = err
	s.mu.Unlock()
}

func (s *flakyStore) failFind(err error) {
	s.mu.Lock()
	s.findErr = err
	s.mu.Unlock()
}

func (s *flakyStore) ReplaceGoal(ctx context.Context, goal store.Goal) error {
	s.mu.Lock()
	err := s.replaceErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.ReplaceGoal(ctx, goal)
}

func (s *flakyStore) ReplaceGoalIfStatus(ctx context.Context, goal store.Goal, expected store.Status) error {
	s.mu.Lock()
	err, before := s.replaceErr, s.beforeSwap
	s.beforeSwap = nil
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if before != nil {
		before(ctx)
	}
	return s.MemoryStore.ReplaceGoalIfStatus(ctx, goal, expected)
}

func (s *flakyStore) FindGoals(ctx context.Context, filter store.Filter) ([]store.Goal, error) {
	s.mu.Lock()
	err := s.findErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.FindGoals(ctx, filter)
}

type engine struct {
	store      *flakyStore
	repo       *Repository
	notifier   *Notifier
	controller *Controller
}

// newEngine wires repository writes through a local change feed into a notifier.
func newEngine(t *testing.T, opts ...NotifierOption) *engine {
	t.Helper()
	s := newFlakyStore()
	local := changefeed.NewLocal()
	logger := discardLogger()
	repo := NewRepository(s, logger, WithClock(tickingClock(day(2025, 1, 1))), WithPublisher(local))
	notifier := NewNotifier(NewResolver(s), logger, opts...)
	unsubscribe := local.Subscribe(notifier.Notify)
	t.Cleanup(func() {
		unsubscribe()
		notifier.Close()
	})
	return &engine{
		store:      s,
		repo:       repo,
		notifier:   notifier,
		controller: NewController(repo, logger, nil),
	}
}

func receive(t *testing.T, ch <-chan Snapshot, within time.Duration) (Snapshot, bool) {
	t.Helper()
	select {
	case snap, ok := <-ch:
		return snap, ok
	case <-time.After(within):
		return Snapshot{}, false
	}
}

func ids(goals []store.Goal) []string {
	out := make([]string, len(goals))
	for i, g := range goals {
		out[i] = g.ID
	}
	return out
}
