package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/manga-api/internal/api/shared"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/service"
	"github.com/phrazzld/manga-api/internal/service/auth"
	"github.com/phrazzld/manga-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors

	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid):
		return http.StatusUnauthorized

	case errors.Is(err, auth.ErrNotAdmin):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrPanelNotFound):
		return http.StatusNotFound

	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrEmptySessionID),
		errors.Is(err, domain.ErrRegenerateRegenerated),
		errors.Is(err, service.ErrTaskNotCancellable),
		errors.Is(err, service.ErrPanelNotCompleted),
		errors.Is(err, service.ErrUnknownMaintenanceJob),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return "Admin token required"

	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid):
		return "Invalid token"

	case errors.Is(err, auth.ErrNotAdmin):
		return "Admin role required"

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrPanelNotFound):
		return "Panel not found"

	case errors.Is(err, service.ErrTaskNotCancellable):
		return "Task is already completed, failed or cancelled"

	case errors.Is(err, service.ErrPanelNotCompleted):
		return "Panel must be completed before it can be regenerated"

	case errors.Is(err, service.ErrUnknownMaintenanceJob):
		return "Unknown maintenance job"

	case errors.Is(err, domain.ErrRegenerateRegenerated):
		return "Only original panels can be regenerated"

	case errors.As(err, &validationErrs):
		return SanitizeValidationError(err)

	// Domain validation messages are written for end users.
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrEmptySessionID):
		return validationMessage(err)

	default:
		return "An unexpected error occurred"
	}
}

// validationMessage strips the generic "validation failed: " prefix the
// domain layer puts in front of its messages.
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, domain.ErrValidation.Error()+": "); i >= 0 {
		msg = msg[i+len(domain.ErrValidation.Error())+2:]
	}
	if msg == "" {
		return "Validation error"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		fe := validationErrs[0]
		return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "gte", "lte":
		return "out of range"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the response for err. The status and message come
// from MapErrorToStatusCode and GetSafeErrorMessage; defaultMsg replaces the
// message for server errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status >= http.StatusInternalServerError && defaultMsg != "" {
		msg = defaultMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}
