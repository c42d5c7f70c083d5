package goals

import (
	"goalsync/api/internal/store"
)

// Normalize returns a copy of goal that downstream code can use without nil checks:
// collections are non-nil, status is set, progress is in range and times are UTC.
func Normalize(goal store.Goal) store.Goal {
	g := goal.Clone()
	if g.Status == "" {
		g.Status = store.StatusNotStarted
	}
	g.Progress = ClampProgress(g.Progress)
	g.StartDate = g.StartDate.UTC()
	g.EndDate = g.EndDate.UTC()
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()

	g.Metrics = normalizeMetrics(g.Metrics)
	if g.KeyResults == nil {
		g.KeyResults = []store.KeyResult{}
	}
	for i := range g.KeyResults {
		g.KeyResults[i].TargetDate = g.KeyResults[i].TargetDate.UTC()
		g.KeyResults[i].Metrics = normalizeMetrics(g.KeyResults[i].Metrics)
	}
	if g.Milestones == nil {
		g.Milestones = []store.Milestone{}
	}
	for i := range g.Milestones {
		g.Milestones[i].DueDate = g.Milestones[i].DueDate.UTC()
		if g.Milestones[i].Status == "" {
			g.Milestones[i].Status = store.StatusNotStarted
		}
	}
	g.Assignees = DedupAssignees(g.Assignees)
	for i := range g.Assignees {
		g.Assignees[i].AssignedAt = g.Assignees[i].AssignedAt.UTC()
	}
	g.TeamRoles = DedupTeamRoles(g.TeamRoles)
	if g.Tags == nil {
		g.Tags = []string{}
	}
	return g
}

func normalizeMetrics(metrics []store.Metric) []store.Metric {
	if metrics == nil {
		return []store.Metric{}
	}
	return metrics
}

// DedupAssignees keeps the last assignment per user, at the position the user was
// first assigned.
func DedupAssignees(in []store.Assignee) []store.Assignee {
	return lastWins(in, func(a store.Assignee) string { return a.UserID })
}

// DedupTeamRoles keeps the last role per team.
func DedupTeamRoles(in []store.TeamRole) []store.TeamRole {
	return lastWins(in, func(r store.TeamRole) string { return r.TeamID })
}

// DedupByID collapses goals reported more than once; the last copy wins.
func DedupByID(in []store.Goal) []store.Goal {
	return lastWins(in, func(g store.Goal) string { return g.ID })
}

func lastWins[T any](in []T, key func(T) string) []T {
	out := make([]T, 0, len(in))
	index := make(map[string]int, len(in))
	for _, item := range in {
		k := key(item)
		if i, ok := index[k]; ok {
			out[i] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}
