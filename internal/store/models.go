package store

import "time"

type Timeframe string

const (
	TimeframeAnnual    Timeframe = "annual"
	TimeframeQuarterly Timeframe = "quarterly"
	TimeframeMonthly   Timeframe = "monthly"
	TimeframeWeekly    Timeframe = "weekly"
)

func (t Timeframe) Valid() bool {
	switch t {
	case TimeframeAnnual, TimeframeQuarterly, TimeframeMonthly, TimeframeWeekly:
		return true
	default:
		return false
	}
}

// Parent returns the timeframe one level up. Annual goals have no parent level.
func (t Timeframe) Parent() (Timeframe, bool) {
	switch t {
	case TimeframeWeekly:
		return TimeframeMonthly, true
	case TimeframeMonthly:
		return TimeframeQuarterly, true
	case TimeframeQuarterly:
		return TimeframeAnnual, true
	default:
		return "", false
	}
}

type GoalType string

const (
	GoalTypeCompany    GoalType = "company"
	GoalTypeDepartment GoalType = "department"
	GoalTypeTeam       GoalType = "team"
	GoalTypePersonal   GoalType = "personal"
)

func (t GoalType) Valid() bool {
	switch t {
	case GoalTypeCompany, GoalTypeDepartment, GoalTypeTeam, GoalTypePersonal:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Status is shared by goals and milestones.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusAtRisk     Status = "at_risk"
	StatusCompleted  Status = "completed"
)

// Statuses lists every status in board column order.
var Statuses = []Status{StatusNotStarted, StatusInProgress, StatusAtRisk, StatusCompleted}

func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusAtRisk, StatusCompleted:
		return true
	default:
		return false
	}
}

type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

func (f Frequency) Valid() bool {
	return f == FrequencyWeekly || f == FrequencyMonthly || f == FrequencyQuarterly
}

type AssigneeRole string

const (
	AssigneeOwner       AssigneeRole = "owner"
	AssigneeContributor AssigneeRole = "contributor"
	AssigneeReviewer    AssigneeRole = "reviewer"
)

func (r AssigneeRole) Valid() bool {
	return r == AssigneeOwner || r == AssigneeContributor || r == AssigneeReviewer
}

type TeamRoleKind string

const (
	TeamRolePrimary    TeamRoleKind = "primary"
	TeamRoleSupporting TeamRoleKind = "supporting"
)

func (r TeamRoleKind) Valid() bool {
	return r == TeamRolePrimary || r == TeamRoleSupporting
}

type Metric struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	Target    float64   `json:"target"`
	Current   float64   `json:"current"`
	Frequency Frequency `json:"frequency"`
}

type KeyResult struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	TargetDate  time.Time `json:"targetDate"`
	Metrics     []Metric  `json:"metrics"`
}

type Milestone struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"dueDate"`
	Status      Status    `json:"status"`
}

type Assignee struct {
	UserID     string       `json:"userId"`
	Role       AssigneeRole `json:"role"`
	AssignedAt time.Time    `json:"assignedAt"`
}

type TeamRole struct {
	TeamID string       `json:"teamId"`
	Role   TeamRoleKind `json:"role"`
}

// Goal is the document persisted by every backend. CalendarWeek and Year are only
// meaningful for weekly goals.
type Goal struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organizationId"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	Timeframe      Timeframe   `json:"timeframe"`
	Type           GoalType    `json:"type"`
	Priority       Priority    `json:"priority"`
	StartDate      time.Time   `json:"startDate"`
	EndDate        time.Time   `json:"endDate"`
	CalendarWeek   *int        `json:"calendarWeek,omitempty"`
	Year           *int        `json:"year,omitempty"`
	ParentGoalID   string      `json:"parentGoalId,omitempty"`
	Status         Status      `json:"status"`
	Progress       int         `json:"progress"`
	Metrics        []Metric    `json:"metrics"`
	KeyResults     []KeyResult `json:"keyResults"`
	Milestones     []Milestone `json:"milestones"`
	Assignees      []Assignee  `json:"assignees"`
	TeamRoles      []TeamRole  `json:"teamRoles"`
	Tags           []string    `json:"tags"`
	OwnerID        string      `json:"ownerId"`
	CreatedBy      string      `json:"createdBy"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy so callers can never mutate a stored document.
func (g Goal) Clone() Goal {
	out := g
	if g.CalendarWeek != nil {
		week := *g.CalendarWeek
		out.CalendarWeek = &week
	}
	if g.Year != nil {
		year := *g.Year
		out.Year = &year
	}
	out.Metrics = cloneSlice(g.Metrics)
	if g.KeyResults != nil {
		out.KeyResults = make([]KeyResult, len(g.KeyResults))
		for i, kr := range g.KeyResults {
			kr.Metrics = cloneSlice(kr.Metrics)
			out.KeyResults[i] = kr
		}
	}
	out.Milestones = cloneSlice(g.Milestones)
	out.Assignees = cloneSlice(g.Assignees)
	out.TeamRoles = cloneSlice(g.TeamRoles)
	out.Tags = cloneSlice(g.Tags)
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// Filter is an equality filter understood by every backend. Zero fields are ignored.
type Filter struct {
	OrganizationID string
	Timeframe      Timeframe
	CalendarWeek   *int
	Year           *int
	ParentGoalID   string
}

// Match reports whether g satisfies every set field of f.
func (f Filter) Match(g Goal) bool {
	if f.OrganizationID != "" && g.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Timeframe != "" && g.Timeframe != f.Timeframe {
		return false
	}
	if f.CalendarWeek != nil && (g.CalendarWeek == nil || *g.CalendarWeek != *f.CalendarWeek) {
		return false
	}
	if f.Year != nil && (g.Year == nil || *g.Year != *f.Year) {
		return false
	}
	if f.ParentGoalID != "" && g.ParentGoalID != f.ParentGoalID {
		return false
	}
	return true
}
