package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation error")
	ErrConflict             = errors.New("conflict")
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	ErrJobFailure           = errors.New("job failure")
)

// AppError carries a domain error kind plus the context the caller needs to
// recover: the offending field for validation errors, or the full issue list
// for a failed publish.
type AppError struct {
	Err     error    // sentinel error kind
	Message string   // human-readable error message
	Field   string   // optional: field or ordinal causing the error
	Issues  []string // optional: collected validation issues (publish summary)
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// ValidationSummary bundles the structural issues found while validating a
// whole snapshot for publish. The snapshot stays editable; the caller fixes
// the issues and retries.
func ValidationSummary(issues []string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: fmt.Sprintf("snapshot failed validation with %d issue(s)", len(issues)),
		Issues:  issues,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// ConflictMessage is Conflict with a free-form message, used for snapshot
// state conflicts where there is no colliding id to report.
func ConflictMessage(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// ReferentialIntegrity reports a delete blocked by live dependents. The caller
// chooses cascade-or-abort.
func ReferentialIntegrity(resource, id, dependents string) *AppError {
	return &AppError{
		Err:     ErrReferentialIntegrity,
		Message: fmt.Sprintf("%s %s is referenced by %s; delete with cascade or remove dependents first", resource, id, dependents),
	}
}

// JobFailed wraps the structured reason an asynchronous operation terminated
// unsuccessfully. The engine never retries; retry is a caller policy.
func JobFailed(kind, reason string) *AppError {
	return &AppError{
		Err:     ErrJobFailure,
		Message: fmt.Sprintf("%s job failed: %s", kind, reason),
	}
}
