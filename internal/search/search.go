// Package search finds goals by text. Meilisearch is used when it is reachable;
// otherwise queries fall back to Postgres full-text search or a store scan.
package search

import (
	"context"
	"strings"

	"goalsync/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Title          string `json:"title"`
	Snippet        string `json:"snippet"`
	Timeframe      string `json:"timeframe"`
	Status         string `json:"status"`
}

// Query describes a search request. OrganizationID is required.
type Query struct {
	Text           string
	OrganizationID string
	Timeframe      store.Timeframe
	Status         store.Status
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
	Name() string
}

// GoalRecord is the data we index for a goal.
type GoalRecord struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organizationId"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Timeframe      string   `json:"timeframe"`
	Status         string   `json:"status"`
	Tags           []string `json:"tags"`
}

func RecordFromGoal(g store.Goal) GoalRecord {
	tags := g.Tags
	if tags == nil {
		tags = []string{}
	}
	status := string(g.Status)
	if status == "" {
		status = string(store.StatusNotStarted)
	}
	return GoalRecord{
		ID:             g.ID,
		OrganizationID: g.OrganizationID,
		Title:          g.Title,
		Description:    g.Description,
		Timeframe:      string(g.Timeframe),
		Status:         status,
		Tags:           tags,
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return min(limit, 100)
}

func snippet(text string, maxRunes int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "…"
}
