package goals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalsync/api/internal/store"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	g := Normalize(store.Goal{
		ID:         "goal_1",
		Progress:   140,
		StartDate:  time.Date(2025, 3, 17, 1, 0, 0, 0, loc),
		KeyResults: []store.KeyResult{{ID: "kr1"}},
		Milestones: []store.Milestone{{ID: "ms1"}},
	})

	assert.Equal(t, store.StatusNotStarted, g.Status)
	assert.Equal(t, 100, g.Progress)
	assert.Equal(t, time.UTC, g.StartDate.Location())
	assert.Equal(t, 0, g.StartDate.Hour())
	assert.NotNil(t, g.Metrics)
	assert.NotNil(t, g.KeyResults[0].Metrics)
	assert.Equal(t, store.StatusNotStarted, g.Milestones[0].Status)
	assert.NotNil(t, g.Assignees)
	assert.NotNil(t, g.TeamRoles)
	assert.NotNil(t, g.Tags)
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := store.Goal{Tags: []string{"a"}, Assignees: []store.Assignee{{UserID: "u1"}, {UserID: "u1"}}}
	_ = Normalize(in)
	assert.Len(t, in.Assignees, 2)
}

func TestDedupAssigneesLastAssignmentWins(t *testing.T) {
	got := DedupAssignees([]store.Assignee{
		{UserID: "u1", Role: store.AssigneeContributor},
		{UserID: "u2", Role: store.AssigneeReviewer},
		{UserID: "u1", Role: store.AssigneeOwner},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, store.AssigneeOwner, got[0].Role)
	assert.Equal(t, "u2", got[1].UserID)
}

func TestDedupTeamRolesLastRoleWins(t *testing.T) {
	got := DedupTeamRoles([]store.TeamRole{
		{TeamID: "t1", Role: store.TeamRolePrimary},
		{TeamID: "t1", Role: store.TeamRoleSupporting},
	})
	assert.Equal(t, []store.TeamRole{{TeamID: "t1", Role: store.TeamRoleSupporting}}, got)
}

func TestDedupByIDIsIdempotent(t *testing.T) {
	in := []store.Goal{{ID: "a", Title: "1"}, {ID: "b"}, {ID: "a", Title: "2"}, {ID: "c"}, {ID: "b", Title: "3"}}
	once := DedupByID(in)
	twice := DedupByID(once)

	assert.Equal(t, []string{"a", "b", "c"}, ids(once))
	assert.Equal(t, "2", once[0].Title)
	assert.Equal(t, "3", once[1].Title)
	assert.Equal(t, once, twice)
	assert.Equal(t, ids(once), ids(DedupByID(append(once, once...))))
}

func TestValidateGoal(t *testing.T) {
	valid := Normalize(newGoal("org_x", store.TimeframeWeekly))
	require.NoError(t, Validate(valid))

	tests := []struct {
		name   string
		mutate func(*store.Goal)
		field  string
	}{
		{"missing org", func(g *store.Goal) { g.OrganizationID = " " }, "organizationId"},
		{"bad type", func(g *store.Goal) { g.Type = "guild" }, "type"},
		{"bad priority", func(g *store.Goal) { g.Priority = "urgent" }, "priority"},
		{"bad status", func(g *store.Goal) { g.Status = "blocked" }, "status"},
		{"end before start", func(g *store.Goal) { g.EndDate = g.StartDate.Add(-time.Hour) }, "endDate"},
		{"weekly without week", func(g *store.Goal) { g.CalendarWeek = nil }, "calendarWeek"},
		{"week out of range", func(g *store.Goal) { g.CalendarWeek = intPtr(0) }, "calendarWeek"},
		{"negative target", func(g *store.Goal) {
			g.Metrics = []store.Metric{{ID: "m1", Target: -1}}
		}, "metrics[0].target"},
		{"duplicate metric", func(g *store.Goal) {
			g.Metrics = []store.Metric{{ID: "m1"}, {ID: "m1"}}
		}, "metrics[1].id"},
		{"key result metric target", func(g *store.Goal) {
			g.KeyResults = []store.KeyResult{{ID: "kr1", Metrics: []store.Metric{{ID: "m1", Target: -3}}}}
		}, "keyResults[0].metrics[0].target"},
		{"duplicate milestone", func(g *store.Goal) {
			g.Milestones = []store.Milestone{{ID: "ms", Status: store.StatusNotStarted}, {ID: "ms", Status: store.StatusNotStarted}}
		}, "milestones[1].id"},
		{"assignee role", func(g *store.Goal) {
			g.Assignees = []store.Assignee{{UserID: "u1", Role: "boss"}}
		}, "assignees[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := valid.Clone()
			tt.mutate(&g)
			err := Validate(g)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
