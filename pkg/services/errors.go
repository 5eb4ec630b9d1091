// Package services is the application-facing facade over workflow definitions,
// incoming events and execution history.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/flowpoint/pkg/dispatcher"
	"github.com/dukex/flowpoint/pkg/graph"
	"github.com/dukex/flowpoint/pkg/matcher"
	"github.com/dukex/flowpoint/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidStatus  = errors.New("invalid workflow status")
	ErrWorkflowNil    = errors.New("workflow cannot be nil")
	ErrTenantMismatch = errors.New("tenant does not own the resource")

	// Business Logic Conflicts (409 Conflict).
	ErrExecutionFinished = errors.New("execution already finished")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrTenantMismatch) ||
		errors.Is(err, matcher.ErrWorkflowRequired) ||
		errors.Is(err, persistence.ErrInvalidIdentifier)
}

// IsGraphValidationError checks if an error carries graph issues (HTTP 422).
func IsGraphValidationError(err error) (*graph.ValidationError, bool) {
	var validationErr *graph.ValidationError
	if errors.As(err, &validationErr) {
		return validationErr, true
	}

	return nil, false
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsWorkflowNotFound(err) || persistence.IsExecutionNotFound(err)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionFinished) ||
		errors.Is(err, persistence.ErrRecordTerminal) ||
		errors.Is(err, dispatcher.ErrNoMatch) ||
		errors.Is(err, dispatcher.ErrNotRunningHere)
}

// IsUnavailableError checks if an error means the engine cannot take more work (HTTP 503).
func IsUnavailableError(err error) bool {
	return errors.Is(err, dispatcher.ErrQueueFull) || errors.Is(err, dispatcher.ErrDispatcherClosed)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
