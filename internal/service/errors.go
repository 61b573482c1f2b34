package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// These errors represent common conditions that callers may want to check for with errors.Is().
//
// Error handling principles:
// 1. Service methods return sentinel errors for expected error conditions
// 2. Unexpected errors are wrapped in ServiceError
// 3. Callers use errors.Is/errors.As to check for specific error conditions
// 4. The API layer maps service errors to appropriate HTTP status codes
var (
	// ErrTaskNotCancellable indicates a cancel request for a completed or failed task.
	// API layer should map this to HTTP 400 Bad Request.
	ErrTaskNotCancellable = errors.New("task can no longer be cancelled")

	// ErrPanelNotCompleted indicates a regeneration request for a panel that
	// has not rendered yet. API layer should map this to HTTP 400 Bad Request.
	ErrPanelNotCompleted = errors.New("panel is not completed")

	// ErrUnknownMaintenanceJob indicates a maintenance trigger for a job that does not exist.
	// API layer should map this to HTTP 400 Bad Request.
	ErrUnknownMaintenanceJob = errors.New("unknown maintenance job")
)

// ServiceError wraps errors from the manga service with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "create_task", "cancel_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("manga service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("manga service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
// Sentinel errors the API maps to client errors are returned without
// wrapping, so their message reaches the caller unchanged.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{
		ErrTaskNotCancellable,
		ErrPanelNotCompleted,
		ErrUnknownMaintenanceJob,
		store.ErrTaskNotFound,
		store.ErrPanelNotFound,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, domain.ErrValidation) {
		return err
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
