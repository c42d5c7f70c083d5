package app

import (
	"errors"
	"fmt"
	"net/http"

	"goalsync/api/internal/export"
	"goalsync/api/internal/goals"
	"goalsync/api/internal/search"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// mapError translates engine errors to an HTTP status and error envelope. Conflicts
// are checked first because they wrap the underlying store error.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var conflict *goals.OptimisticUpdateConflict
	if errors.As(err, &conflict) {
		return http.StatusConflict, "OPTIMISTIC_UPDATE_CONFLICT", "Status change was not saved", map[string]any{
			"goalId":          conflict.GoalID,
			"priorStatus":     conflict.PriorStatus,
			"attemptedStatus": conflict.AttemptedStatus,
			"retryable":       errors.Is(conflict.Err, goals.ErrStoreUnavailable),
		}
	}
	if errors.Is(err, goals.ErrIllegalTransition) {
		return http.StatusConflict, "ILLEGAL_TRANSITION", err.Error(), nil
	}
	if errors.Is(err, goals.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Goal not found", nil
	}
	var validation *goals.ValidationError
	if errors.As(err, &validation) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validation.Error(), map[string]any{"field": validation.Field}
	}
	if errors.Is(err, goals.ErrValidation) || errors.Is(err, search.ErrOrganizationRequired) || errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, goals.ErrStoreUnavailable) {
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Goal store unavailable", map[string]any{"retryable": true}
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_DEPENDENCY_MISSING", "PDF export is not available on this server", nil
	}
	if errors.Is(err, export.ErrUploadUnavailable) {
		return http.StatusServiceUnavailable, "EXPORT_UPLOAD_UNAVAILABLE", "Export storage is not configured", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
