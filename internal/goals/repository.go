package goals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"goalsync/api/internal/changefeed"
	"goalsync/api/internal/store"
)

// Repository owns writes to the goal store: normalization, validation, audit
// timestamps and the change event published after each committed write.
type Repository struct {
	store     store.GoalStore
	publisher changefeed.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

type RepositoryOption func(*Repository)

func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) { r.now = now }
}

func WithPublisher(p changefeed.Publisher) RepositoryOption {
	return func(r *Repository) { r.publisher = p }
}

func NewRepository(s store.GoalStore, logger *slog.Logger, opts ...RepositoryOption) *Repository {
	r := &Repository{
		store:     s,
		publisher: changefeed.Discard{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores goal under a new id. Audit timestamps from the caller are ignored.
func (r *Repository) Create(ctx context.Context, goal store.Goal) (string, error) {
	g := Normalize(goal)
	g.ID = ""
	if err := Validate(g); err != nil {
		return "", err
	}
	if err := r.checkParent(ctx, g); err != nil {
		return "", err
	}

	now := r.now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	id, err := r.store.InsertGoal(ctx, g)
	if err != nil {
		return "", storeError("create goal", err)
	}
	g.ID = id
	r.publish(ctx, changefeed.New(changefeed.KindCreated, g, nil, now))
	return id, nil
}

// Update replaces the stored document with goal. createdAt is kept from the stored
// copy and updatedAt is stamped now. The saved document is returned.
func (r *Repository) Update(ctx context.Context, id string, goal store.Goal) (store.Goal, error) {
	g := Normalize(goal)
	g.ID = id
	if err := Validate(g); err != nil {
		return store.Goal{}, err
	}

	current, err := r.store.GetGoal(ctx, id)
	if err != nil {
		return store.Goal{}, storeError("load goal", err)
	}
	if g.ParentGoalID != current.ParentGoalID || g.Timeframe != current.Timeframe || g.OrganizationID != current.OrganizationID {
		if err := r.checkParent(ctx, g); err != nil {
			return store.Goal{}, err
		}
	}

	now := r.now().UTC()
	g.CreatedAt = current.CreatedAt.UTC()
	g.UpdatedAt = now

	if err := r.store.ReplaceGoal(ctx, g); err != nil {
		return store.Goal{}, storeError("update goal", err)
	}
	previous := &changefeed.Scope{OrganizationID: current.OrganizationID, Timeframe: current.Timeframe}
	r.publish(ctx, changefeed.New(changefeed.KindUpdated, g, previous, now))
	return g, nil
}

// UpdateStatus moves the goal from one status to another. The store applies the write
// only if the goal is still in from, so concurrent moves of the same goal cannot both
// succeed; the loser gets errStatusMoved.
func (r *Repository) UpdateStatus(ctx context.Context, id string, from, to store.Status) (store.Goal, error) {
	current, err := r.store.GetGoal(ctx, id)
	if err != nil {
		return store.Goal{}, storeError("load goal", err)
	}
	if current.Status != from {
		return store.Goal{}, fmt.Errorf("%w: now %s", errStatusMoved, current.Status)
	}

	g := Normalize(current)
	g.ID = id
	g.Status = to
	now := r.now().UTC()
	g.CreatedAt = current.CreatedAt.UTC()
	g.UpdatedAt = now

	err = r.store.ReplaceGoalIfStatus(ctx, g, from)
	if errors.Is(err, store.ErrStatusMismatch) {
		return store.Goal{}, fmt.Errorf("%w: moved by another writer", errStatusMoved)
	}
	if err != nil {
		return store.Goal{}, storeError("update goal status", err)
	}
	r.publish(ctx, changefeed.New(changefeed.KindUpdated, g, nil, now))
	return g, nil
}

// Delete removes the goal. Children keep their parentGoalId.
func (r *Repository) Delete(ctx context.Context, id string) error {
	current, err := r.store.GetGoal(ctx, id)
	if err != nil {
		return storeError("load goal", err)
	}
	if err := r.store.DeleteGoal(ctx, id); err != nil {
		return storeError("delete goal", err)
	}
	r.publish(ctx, changefeed.New(changefeed.KindDeleted, current, nil, r.now()))
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (store.Goal, error) {
	g, err := r.store.GetGoal(ctx, id)
	if err != nil {
		return store.Goal{}, storeError("get goal", err)
	}
	return Normalize(g), nil
}

// Children lists goals whose parentGoalId is parentID, newest first.
func (r *Repository) Children(ctx context.Context, parentID string) ([]store.Goal, error) {
	parent, err := r.store.GetGoal(ctx, parentID)
	if err != nil {
		return nil, storeError("get goal", err)
	}
	found, err := r.store.FindGoals(ctx, store.Filter{OrganizationID: parent.OrganizationID, ParentGoalID: parentID})
	if err != nil {
		return nil, storeError("list children", err)
	}
	out := make([]store.Goal, 0, len(found))
	for _, g := range DedupByID(found) {
		out = append(out, Normalize(g))
	}
	SortNewestFirst(out)
	return out, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return storeError("ping", err)
	}
	return nil
}

func (r *Repository) checkParent(ctx context.Context, g store.Goal) error {
	if g.ParentGoalID == "" {
		return nil
	}
	parent, err := r.store.GetGoal(ctx, g.ParentGoalID)
	if errors.Is(err, store.ErrNotFound) {
		return invalid("parentGoalId", "parent goal does not exist")
	}
	if err != nil {
		return storeError("load parent goal", err)
	}
	return validateParent(g, parent)
}

// publish runs after the write committed, so a failure is logged rather than
// returned. Subscribers converge on the next change or resync.
func (r *Repository) publish(ctx context.Context, change changefeed.Change) {
	if err := r.publisher.Publish(ctx, change); err != nil {
		r.logger.Warn("publish goal change failed",
			"change_id", change.ID,
			"kind", change.Kind,
			"goal_id", change.GoalID,
			"error", err,
		)
	}
}
