package goals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"goalsync/api/internal/store"
)

type TransitionState string

const (
	// TransitionPending: applied to the local view, write not yet confirmed.
	TransitionPending   TransitionState = "pending"
	TransitionConfirmed TransitionState = "confirmed"
	// TransitionReverted: the write failed and the local view was restored.
	TransitionReverted  TransitionState = "reverted"
	TransitionUnchanged TransitionState = "unchanged"
)

type TransitionResult struct {
	GoalID string          `json:"goalId"`
	From   store.Status    `json:"from"`
	To     store.Status    `json:"to"`
	State  TransitionState `json:"state"`
	Goal   *store.Goal     `json:"goal,omitempty"`
}

var errStatusMoved = errors.New("goal status changed in the store")

// transitions lists the allowed forward moves. completed is terminal here; Reopen is
// the only way out of it.
var transitions = map[store.Status][]store.Status{
	store.StatusNotStarted: {store.StatusInProgress, store.StatusAtRisk, store.StatusCompleted},
	store.StatusInProgress: {store.StatusAtRisk, store.StatusCompleted},
	store.StatusAtRisk:     {store.StatusInProgress, store.StatusCompleted},
}

// CanTransition reports whether a drop from one column to another is legal. Staying
// in the same column is always legal.
func CanTransition(from, to store.Status) bool {
	if from == to {
		return from.Valid()
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Controller applies status changes with optimistic local application and
// compensation on failure.
type Controller struct {
	repo     *Repository
	logger   *slog.Logger
	observer Observer
}

func NewController(repo *Repository, logger *slog.Logger, observer Observer) *Controller {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Controller{repo: repo, logger: logger, observer: observer}
}

// Drop moves goalID from one status column to another. When view is not nil the new
// status is shown there before the write and withdrawn if the write fails; the
// returned *OptimisticUpdateConflict then carries the status the view was reverted to.
func (c *Controller) Drop(ctx context.Context, goalID string, from, to store.Status, view *Board) (TransitionResult, error) {
	result := TransitionResult{GoalID: goalID, From: from, To: to}
	if !from.Valid() {
		return result, invalid("from", fmt.Sprintf("unknown status %q", from))
	}
	if !to.Valid() {
		return result, invalid("to", fmt.Sprintf("unknown status %q", to))
	}
	if from == to {
		result.State = TransitionUnchanged
		c.observer.TransitionFinished(result.State)
		return result, nil
	}
	if !CanTransition(from, to) {
		return result, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	if view != nil {
		if err := view.begin(goalID, from, to); err != nil {
			return result, err
		}
		result.State = TransitionPending
	}

	saved, err := c.write(ctx, goalID, from, to)
	if err != nil {
		if view != nil {
			view.revert(goalID)
		}
		result.State = TransitionReverted
		c.observer.TransitionFinished(result.State)
		c.logger.Warn("status change reverted",
			"goal_id", goalID,
			"from", from,
			"to", to,
			"error", err,
		)
		return result, &OptimisticUpdateConflict{
			GoalID:          goalID,
			PriorStatus:     from,
			AttemptedStatus: to,
			Err:             err,
		}
	}

	if view != nil {
		view.confirm(goalID, saved.UpdatedAt)
	}
	result.State = TransitionConfirmed
	result.Goal = &saved
	c.observer.TransitionFinished(result.State)
	return result, nil
}

func (c *Controller) write(ctx context.Context, goalID string, from, to store.Status) (store.Goal, error) {
	return c.repo.UpdateStatus(ctx, goalID, from, to)
}

// Reopen moves a completed goal back to in_progress. It is the one sanctioned exit
// from completed and is logged as such.
func (c *Controller) Reopen(ctx context.Context, goalID string) (TransitionResult, error) {
	result := TransitionResult{GoalID: goalID, From: store.StatusCompleted, To: store.StatusInProgress}
	goal, err := c.repo.GetByID(ctx, goalID)
	if err != nil {
		return result, err
	}
	if goal.Status != store.StatusCompleted {
		return result, fmt.Errorf("%w: only completed goals can be reopened, goal is %s", ErrIllegalTransition, goal.Status)
	}
	saved, err := c.repo.UpdateStatus(ctx, goalID, store.StatusCompleted, store.StatusInProgress)
	if errors.Is(err, errStatusMoved) {
		return result, fmt.Errorf("%w: %v", ErrIllegalTransition, err)
	}
	if err != nil {
		return result, err
	}
	c.logger.Info("goal reopened",
		"goal_id", goalID,
		"organization_id", saved.OrganizationID,
		"prior_status", store.StatusCompleted,
	)
	result.State = TransitionConfirmed
	result.Goal = &saved
	c.observer.TransitionFinished(result.State)
	return result, nil
}
