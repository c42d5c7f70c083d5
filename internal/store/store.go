package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound       = errors.New("goal not found")
	ErrStatusMismatch = errors.New("goal status does not match")
)

// GoalStore is the document collection the engine reads and writes. Backends assign
// ids on insert, return copies, and report missing ids with ErrNotFound.
type GoalStore interface {
	InsertGoal(ctx context.Context, goal Goal) (string, error)
	ReplaceGoal(ctx context.Context, goal Goal) error
	// ReplaceGoalIfStatus replaces goal only while the stored status is expected, and
	// reports ErrStatusMismatch otherwise. The check and the write are one atomic step.
	ReplaceGoalIfStatus(ctx context.Context, goal Goal, expected Status) error
	DeleteGoal(ctx context.Context, id string) error
	GetGoal(ctx context.Context, id string) (Goal, error)
	FindGoals(ctx context.Context, filter Filter) ([]Goal, error)
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by GOALS_STORE.
const (
	BackendMemory    = "memory"
	BackendBolt      = "bolt"
	BackendPostgres  = "postgres"
	BackendDatastore = "datastore"
)
