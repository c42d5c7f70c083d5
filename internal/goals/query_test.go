package goals

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalsync/api/internal/store"
)

// threeClauseOverlap is the historical starts-in/ends-in/spans formulation.
func threeClauseOverlap(gStart, gEnd, rStart, rEnd time.Time) bool {
	startsIn := !gStart.Before(rStart) && !gStart.After(rEnd)
	endsIn := !gEnd.Before(rStart) && !gEnd.After(rEnd)
	spans := !gStart.After(rStart) && !gEnd.Before(rEnd)
	return startsIn || endsIn || spans
}

func TestOverlapsMatchesThreeClauseForm(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	base := day(2025, 1, 1)
	interval := func() (time.Time, time.Time) {
		a := base.Add(time.Duration(r.Intn(40)) * time.Hour)
		b := a
		if r.Intn(4) != 0 {
			b = base.Add(time.Duration(r.Intn(40)) * time.Hour)
		}
		if b.Before(a) {
			a, b = b, a
		}
		return a, b
	}

	degenerate := 0
	for i := 0; i < 10000; i++ {
		gs, ge := interval()
		rs, re := interval()
		if gs.Equal(ge) || rs.Equal(re) {
			degenerate++
		}
		require.Equal(t, threeClauseOverlap(gs, ge, rs, re), Overlaps(gs, ge, rs, re),
			"goal [%s, %s] range [%s, %s]", gs, ge, rs, re)
	}
	assert.Greater(t, degenerate, 0)
}

func TestOverlapsBoundaries(t *testing.T) {
	a, b, c := day(2025, 3, 17), day(2025, 3, 23), day(2025, 3, 24)
	assert.True(t, Overlaps(a, b, b, c), "touching endpoints overlap")
	assert.False(t, Overlaps(a, b, c, c))
	assert.True(t, Overlaps(a, a, a, a))
}

func TestSelectorValidate(t *testing.T) {
	ok := Selector{Timeframe: store.TimeframeWeekly, OrganizationID: "org_x"}
	tests := []struct {
		name   string
		mutate func(*Selector)
		field  string
	}{
		{"missing org", func(s *Selector) { s.OrganizationID = "" }, "organizationId"},
		{"bad timeframe", func(s *Selector) { s.Timeframe = "daily" }, "timeframe"},
		{"week without year", func(s *Selector) { s.CalendarWeek = intPtr(12) }, "calendarWeek"},
		{"year without week", func(s *Selector) { s.Year = intPtr(2025) }, "calendarWeek"},
		{"week out of range", func(s *Selector) { s.CalendarWeek, s.Year = intPtr(54), intPtr(2025) }, "calendarWeek"},
		{"start without end", func(s *Selector) { s.StartDate = timePtr(day(2025, 1, 1)) }, "startDate"},
		{"inverted range", func(s *Selector) {
			s.StartDate, s.EndDate = timePtr(day(2025, 2, 1)), timePtr(day(2025, 1, 1))
		}, "endDate"},
	}
	require.NoError(t, ok.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := ok
			tt.mutate(&sel)
			err := sel.Validate()
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestResolveWeeklyByCalendarWeek(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	id, err := e.repo.Create(ctx, newGoal("org_x", store.TimeframeWeekly))
	require.NoError(t, err)

	got, err := NewResolver(e.store).Resolve(ctx, Selector{
		Timeframe: store.TimeframeWeekly, OrganizationID: "org_x", CalendarWeek: intPtr(12), Year: intPtr(2025),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids(got))

	got, err = NewResolver(e.store).Resolve(ctx, Selector{
		Timeframe: store.TimeframeWeekly, OrganizationID: "org_x", CalendarWeek: intPtr(13), Year: intPtr(2025),
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveOrdersNewestFirstOnEveryBranch(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	var created []string
	for i := 0; i < 6; i++ {
		g := newGoal("org_x", store.TimeframeWeekly)
		g.Title = "weekly"
		id, err := e.repo.Create(ctx, g)
		require.NoError(t, err)
		created = append(created, id)
	}
	other := newGoal("org_y", store.TimeframeWeekly)
	_, err := e.repo.Create(ctx, other)
	require.NoError(t, err)

	want := make([]string, len(created))
	for i, id := range created {
		want[len(created)-1-i] = id
	}

	selectors := map[string]Selector{
		"week":  {Timeframe: store.TimeframeWeekly, OrganizationID: "org_x", CalendarWeek: intPtr(12), Year: intPtr(2025)},
		"range": {Timeframe: store.TimeframeWeekly, OrganizationID: "org_x", StartDate: timePtr(day(2025, 3, 20)), EndDate: timePtr(day(2025, 4, 1))},
		"none":  {Timeframe: store.TimeframeWeekly, OrganizationID: "org_x"},
	}
	resolver := NewResolver(e.store)
	for name, sel := range selectors {
		t.Run(name, func(t *testing.T) {
			got, err := resolver.Resolve(ctx, sel)
			require.NoError(t, err)
			assert.Equal(t, want, ids(got))
			for i := 1; i < len(got); i++ {
				assert.True(t, got[i-1].CreatedAt.After(got[i].CreatedAt))
			}
		})
	}
}

func TestResolveBreaksCreatedAtTiesByID(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	at := day(2025, 1, 1)
	for i := 0; i < 5; i++ {
		g := newGoal("org_x", store.TimeframeAnnual)
		g.CreatedAt = at
		_, err := s.InsertGoal(ctx, g)
		require.NoError(t, err)
	}

	resolver := NewResolver(s)
	sel := Selector{Timeframe: store.TimeframeAnnual, OrganizationID: "org_x"}
	first, err := resolver.Resolve(ctx, sel)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := resolver.Resolve(ctx, sel)
		require.NoError(t, err)
		assert.Equal(t, ids(first), ids(again))
	}
	for i := 1; i < len(first); i++ {
		assert.Less(t, first[i-1].ID, first[i].ID)
	}
}

func TestResolveIgnoresWeekParametersForOtherTimeframes(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	id, err := e.repo.Create(ctx, newGoal("org_x", store.TimeframeQuarterly))
	require.NoError(t, err)

	got, err := NewResolver(e.store).Resolve(ctx, Selector{
		Timeframe: store.TimeframeQuarterly, OrganizationID: "org_x",
		CalendarWeek: intPtr(40), Year: intPtr(1999),
		StartDate: timePtr(day(1999, 1, 1)), EndDate: timePtr(day(1999, 1, 2)),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids(got))
}

type duplicatingStore struct{ *store.MemoryStore }

func (s duplicatingStore) FindGoals(ctx context.Context, f store.Filter) ([]store.Goal, error) {
	goals, err := s.MemoryStore.FindGoals(ctx, f)
	if err != nil {
		return nil, err
	}
	out := append([]store.Goal{}, goals...)
	for _, g := range goals {
		g.Title = "second copy"
		g.Status = ""
		out = append(out, g)
	}
	return out, nil
}

func TestResolveDedupsAndDefaultsStatus(t *testing.T) {
	s := duplicatingStore{store.NewMemoryStore()}
	ctx := context.Background()
	_, err := s.InsertGoal(ctx, newGoal("org_x", store.TimeframeAnnual))
	require.NoError(t, err)

	got, err := NewResolver(s).Resolve(ctx, Selector{Timeframe: store.TimeframeAnnual, OrganizationID: "org_x"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second copy", got[0].Title, "last copy wins")
	assert.Equal(t, store.StatusNotStarted, got[0].Status)
	assert.NotNil(t, got[0].Metrics)
	assert.NotNil(t, got[0].Tags)
}

func TestResolveMapsBackendFailure(t *testing.T) {
	s := newFlakyStore()
	s.failFind(errors.New("connection reset"))
	_, err := NewResolver(s).Resolve(context.Background(), Selector{Timeframe: store.TimeframeAnnual, OrganizationID: "org_x"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
