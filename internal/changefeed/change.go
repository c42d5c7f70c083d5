// Package changefeed carries goal store mutations from writers to the components that
// react to them: live subscriptions, the search indexer and other service instances.
package changefeed

import (
	"context"
	"time"

	"goalsync/api/internal/store"
	"goalsync/api/internal/util"
)

type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
	// KindResync means changes may have been missed; every observer should re-read.
	KindResync Kind = "resync"
)

// Scope is the (organization, timeframe) partition a goal lives in.
type Scope struct {
	OrganizationID string          `json:"organizationId"`
	Timeframe      store.Timeframe `json:"timeframe"`
}

type Change struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	GoalID         string          `json:"goalId,omitempty"`
	OrganizationID string          `json:"organizationId,omitempty"`
	Timeframe      store.Timeframe `json:"timeframe,omitempty"`
	// Previous is set when an update moved the goal to another scope.
	Previous *Scope    `json:"previous,omitempty"`
	Origin   string    `json:"origin,omitempty"`
	At       time.Time `json:"at"`
}

// New builds a change event for a write of goal. previous is the scope the goal had
// before the write, or nil when it did not move.
func New(kind Kind, goal store.Goal, previous *Scope, at time.Time) Change {
	c := Change{
		ID:             util.NewID("chg"),
		Kind:           kind,
		GoalID:         goal.ID,
		OrganizationID: goal.OrganizationID,
		Timeframe:      goal.Timeframe,
		At:             at.UTC(),
	}
	if previous != nil && (previous.OrganizationID != goal.OrganizationID || previous.Timeframe != goal.Timeframe) {
		p := *previous
		c.Previous = &p
	}
	return c
}

func Resync(origin string, at time.Time) Change {
	return Change{ID: util.NewID("chg"), Kind: KindResync, Origin: origin, At: at.UTC()}
}

// Affects reports whether the change may alter the result set of a query scoped to
// organizationID and timeframe.
func (c Change) Affects(organizationID string, timeframe store.Timeframe) bool {
	if c.Kind == KindResync {
		return true
	}
	if c.OrganizationID == organizationID && c.Timeframe == timeframe {
		return true
	}
	return c.Previous != nil && c.Previous.OrganizationID == organizationID && c.Previous.Timeframe == timeframe
}

// Handler receives dispatched changes. Handlers run on the dispatching goroutine and
// must not block.
type Handler func(Change)

type Publisher interface {
	Publish(ctx context.Context, change Change) error
}
