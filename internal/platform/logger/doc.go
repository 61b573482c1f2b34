// Package logger provides structured logging functionality for the application.
//
// It builds on log/slog with a JSON handler and carries request-scoped
// loggers (trace IDs, task IDs) through context.Context.
package logger
