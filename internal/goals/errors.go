package goals

import (
	"errors"
	"fmt"

	"goalsync/api/internal/store"
)

var (
	ErrNotFound          = errors.New("goal not found")
	ErrValidation        = errors.New("validation failed")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrIllegalTransition = errors.New("illegal status transition")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// OptimisticUpdateConflict reports a status write that failed after the new status
// had been shown locally. PriorStatus is the status the view was reverted to.
type OptimisticUpdateConflict struct {
	GoalID          string
	PriorStatus     store.Status
	AttemptedStatus store.Status
	Err             error
}

func (e *OptimisticUpdateConflict) Error() string {
	return fmt.Sprintf("status change %s -> %s for goal %s was not persisted: %v",
		e.PriorStatus, e.AttemptedStatus, e.GoalID, e.Err)
}

func (e *OptimisticUpdateConflict) Unwrap() error { return e.Err }

// storeError maps a backend error onto the engine taxonomy.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreUnavailable, err))
}
