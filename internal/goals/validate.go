package goals

import (
	"fmt"
	"strings"

	"goalsync/api/internal/store"
)

// Validate checks a normalized goal document. Parent existence is checked by the
// repository since it needs the store.
func Validate(goal store.Goal) error {
	if strings.TrimSpace(goal.OrganizationID) == "" {
		return invalid("organizationId", "is required")
	}
	if !goal.Timeframe.Valid() {
		return invalid("timeframe", fmt.Sprintf("unknown timeframe %q", goal.Timeframe))
	}
	if !goal.Type.Valid() {
		return invalid("type", fmt.Sprintf("unknown type %q", goal.Type))
	}
	if !goal.Priority.Valid() {
		return invalid("priority", fmt.Sprintf("unknown priority %q", goal.Priority))
	}
	if !goal.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown status %q", goal.Status))
	}
	if goal.StartDate.IsZero() || goal.EndDate.IsZero() {
		return invalid("startDate", "startDate and endDate are required")
	}
	if goal.EndDate.Before(goal.StartDate) {
		return invalid("endDate", "must not be before startDate")
	}
	if goal.Timeframe == store.TimeframeWeekly {
		if goal.CalendarWeek == nil || goal.Year == nil {
			return invalid("calendarWeek", "weekly goals require calendarWeek and year")
		}
		if *goal.CalendarWeek < 1 || *goal.CalendarWeek > 53 {
			return invalid("calendarWeek", "must be between 1 and 53")
		}
	}
	if goal.ParentGoalID != "" && goal.ParentGoalID == goal.ID {
		return invalid("parentGoalId", "a goal cannot be its own parent")
	}

	if err := validateMetrics("metrics", goal.Metrics); err != nil {
		return err
	}
	krIDs := make(map[string]struct{}, len(goal.KeyResults))
	for i, kr := range goal.KeyResults {
		if err := uniqueID(krIDs, fmt.Sprintf("keyResults[%d].id", i), kr.ID); err != nil {
			return err
		}
		if err := validateMetrics(fmt.Sprintf("keyResults[%d].metrics", i), kr.Metrics); err != nil {
			return err
		}
	}
	msIDs := make(map[string]struct{}, len(goal.Milestones))
	for i, ms := range goal.Milestones {
		if err := uniqueID(msIDs, fmt.Sprintf("milestones[%d].id", i), ms.ID); err != nil {
			return err
		}
		if !ms.Status.Valid() {
			return invalid(fmt.Sprintf("milestones[%d].status", i), fmt.Sprintf("unknown status %q", ms.Status))
		}
	}
	for i, a := range goal.Assignees {
		if a.UserID == "" || !a.Role.Valid() {
			return invalid(fmt.Sprintf("assignees[%d]", i), "userId and a valid role are required")
		}
	}
	for i, r := range goal.TeamRoles {
		if r.TeamID == "" || !r.Role.Valid() {
			return invalid(fmt.Sprintf("teamRoles[%d]", i), "teamId and a valid role are required")
		}
	}
	return nil
}

func validateMetrics(field string, metrics []store.Metric) error {
	ids := make(map[string]struct{}, len(metrics))
	for i, m := range metrics {
		if err := uniqueID(ids, fmt.Sprintf("%s[%d].id", field, i), m.ID); err != nil {
			return err
		}
		if m.Target < 0 {
			return invalid(fmt.Sprintf("%s[%d].target", field, i), "must not be negative")
		}
		if m.Frequency != "" && !m.Frequency.Valid() {
			return invalid(fmt.Sprintf("%s[%d].frequency", field, i), fmt.Sprintf("unknown frequency %q", m.Frequency))
		}
	}
	return nil
}

func uniqueID(seen map[string]struct{}, field, id string) error {
	if id == "" {
		return invalid(field, "is required")
	}
	if _, ok := seen[id]; ok {
		return invalid(field, fmt.Sprintf("duplicate id %q", id))
	}
	seen[id] = struct{}{}
	return nil
}

// validateParent checks the weak parent reference against the stored parent.
func validateParent(goal, parent store.Goal) error {
	want, ok := goal.Timeframe.Parent()
	if !ok {
		return invalid("parentGoalId", "annual goals cannot have a parent")
	}
	if parent.Timeframe != want {
		return invalid("parentGoalId", fmt.Sprintf("parent of a %s goal must be %s, got %s", goal.Timeframe, want, parent.Timeframe))
	}
	if parent.OrganizationID != goal.OrganizationID {
		return invalid("parentGoalId", "parent belongs to another organization")
	}
	return nil
}
