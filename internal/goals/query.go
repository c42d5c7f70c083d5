package goals

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"goalsync/api/internal/store"
)

// Selector parameterizes a query or subscription. Week/year and the date range only
// narrow weekly goals; for other timeframes they are accepted and ignored.
type Selector struct {
	Timeframe      store.Timeframe `json:"timeframe"`
	OrganizationID string          `json:"organizationId"`
	CalendarWeek   *int            `json:"calendarWeek,omitempty"`
	Year           *int            `json:"year,omitempty"`
	StartDate      *time.Time      `json:"startDate,omitempty"`
	EndDate        *time.Time      `json:"endDate,omitempty"`
}

func (s Selector) Validate() error {
	if s.OrganizationID == "" {
		return invalid("organizationId", "is required")
	}
	if !s.Timeframe.Valid() {
		return invalid("timeframe", fmt.Sprintf("unknown timeframe %q", s.Timeframe))
	}
	if (s.CalendarWeek == nil) != (s.Year == nil) {
		return invalid("calendarWeek", "calendarWeek and year must be given together")
	}
	if s.CalendarWeek != nil && (*s.CalendarWeek < 1 || *s.CalendarWeek > 53) {
		return invalid("calendarWeek", "must be between 1 and 53")
	}
	if (s.StartDate == nil) != (s.EndDate == nil) {
		return invalid("startDate", "startDate and endDate must be given together")
	}
	if s.StartDate != nil && s.StartDate.After(*s.EndDate) {
		return invalid("endDate", "must not be before startDate")
	}
	return nil
}

func (s Selector) hasWeek() bool  { return s.CalendarWeek != nil && s.Year != nil }
func (s Selector) hasRange() bool { return s.StartDate != nil && s.EndDate != nil }

// Matches applies the selector to a single goal.
func (s Selector) Matches(g store.Goal) bool {
	if g.OrganizationID != s.OrganizationID || g.Timeframe != s.Timeframe {
		return false
	}
	if s.Timeframe != store.TimeframeWeekly {
		return true
	}
	switch {
	case s.hasWeek():
		return g.CalendarWeek != nil && g.Year != nil &&
			*g.CalendarWeek == *s.CalendarWeek && *g.Year == *s.Year
	case s.hasRange():
		return Overlaps(g.StartDate, g.EndDate, *s.StartDate, *s.EndDate)
	default:
		return true
	}
}

// filter is the part of the selector pushed down to the backend.
func (s Selector) filter() store.Filter {
	f := store.Filter{OrganizationID: s.OrganizationID, Timeframe: s.Timeframe}
	if s.Timeframe == store.TimeframeWeekly && s.hasWeek() {
		f.CalendarWeek = s.CalendarWeek
		f.Year = s.Year
	}
	return f
}

// Overlaps reports whether the closed intervals [aStart, aEnd] and [bStart, bEnd]
// share at least one instant.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !aEnd.Before(bStart)
}

// SortNewestFirst orders goals by createdAt descending, then by id.
func SortNewestFirst(goals []store.Goal) {
	slices.SortStableFunc(goals, func(a, b store.Goal) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// GoalResolver is what subscriptions re-run on every change.
type GoalResolver interface {
	Resolve(ctx context.Context, sel Selector) ([]store.Goal, error)
}

type Resolver struct {
	store store.GoalStore
}

func NewResolver(s store.GoalStore) *Resolver {
	return &Resolver{store: s}
}

func (r *Resolver) Resolve(ctx context.Context, sel Selector) ([]store.Goal, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	found, err := r.store.FindGoals(ctx, sel.filter())
	if err != nil {
		return nil, storeError("resolve goals", err)
	}

	out := make([]store.Goal, 0, len(found))
	for _, g := range DedupByID(found) {
		g = Normalize(g)
		if sel.Matches(g) {
			out = append(out, g)
		}
	}
	SortNewestFirst(out)
	return out, nil
}
