package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is the type of request context keys set by the API layer.
type ContextKey string

// Context keys for various values
const (
	// AdminSubjectContextKey holds the subject of a validated admin token.
	AdminSubjectContextKey ContextKey = "adminSubject"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the length of a trace ID in hex characters.
	TraceIDLength = 32
)

// SetTraceID adds a fresh trace ID to the context.
// This is useful for correlating logs and error responses.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// generateTraceID returns a random 32-character hex string.
func generateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SetAdminSubject records the authenticated admin on the context.
func SetAdminSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, AdminSubjectContextKey, subject)
}

// GetAdminSubject returns the admin subject set by the admin middleware.
func GetAdminSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(AdminSubjectContextKey).(string)
	return subject, ok
}
