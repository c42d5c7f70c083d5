package search

import (
	"context"
	"fmt"
	"strings"

	"goalsync/api/internal/store"
)

// Scan searches by case-insensitive substring over an organization's goals. It is the
// fallback for backends without a text index.
type Scan struct {
	store store.GoalStore
}

func NewScan(s store.GoalStore) *Scan {
	return &Scan{store: s}
}

func (s *Scan) Name() string  { return "scan" }
func (s *Scan) Healthy() bool { return true }

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}
	goals, err := s.store.FindGoals(ctx, store.Filter{OrganizationID: q.OrganizationID, Timeframe: q.Timeframe})
	if err != nil {
		return nil, 0, fmt.Errorf("scan goals: %w", err)
	}

	var matches []Result
	for _, g := range goals {
		rec := RecordFromGoal(g)
		if q.Status != "" && rec.Status != string(q.Status) {
			continue
		}
		haystack := strings.ToLower(rec.Title + "\n" + rec.Description + "\n" + strings.Join(rec.Tags, " "))
		if !strings.Contains(haystack, needle) {
			continue
		}
		matches = append(matches, Result{
			ID:             rec.ID,
			OrganizationID: rec.OrganizationID,
			Title:          rec.Title,
			Snippet:        snippet(rec.Description, 160),
			Timeframe:      rec.Timeframe,
			Status:         rec.Status,
		})
	}

	total := len(matches)
	offset := max(q.Offset, 0)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+normalizeLimit(q.Limit), total)
	return matches[offset:end], total, nil
}
