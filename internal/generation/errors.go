package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when generation fails for any general reason
	ErrGenerationFailed = errors.New("generation failed")

	// ErrInvalidResponse is returned when the model response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from model")

	// ErrNoImage is returned when the model answered without image data
	ErrNoImage = errors.New("model response contained no image")

	// ErrContentBlocked is returned when the model blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient generation error")

	// ErrInvalidConfig is returned when the generator configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrEmptyScene is returned by the prompt builders for blank scenes
	ErrEmptyScene = errors.New("scene description is empty")

	// ErrNoScenes is returned when a story yields no usable scene
	ErrNoScenes = errors.New("no scenes generated")
)

// Friendly messages stored on failed tasks and shown to users.
const (
	MsgAPIKey      = "API key error, please check configuration"
	MsgQuota       = "API quota exhausted, please retry later"
	MsgNetwork     = "Network connection error, please check connectivity"
	MsgTimeout     = "Request timed out, please retry"
	MsgRateLimit   = "Too many requests, please retry later"
	MsgInterrupted = "Processing was interrupted, please retry"
)

var friendlyMessages = []struct {
	needle  string
	message string
}{
	{"api key", MsgAPIKey},
	{"quota", MsgQuota},
	{"network", MsgNetwork},
	{"timeout", MsgTimeout},
	{"rate limit", MsgRateLimit},
}

// FriendlyMessage converts a processing error into the message stored on
// the task. Matching is a case-insensitive substring search in a fixed order.
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgTimeout
	}
	if errors.Is(err, context.Canceled) {
		return MsgInterrupted
	}

	text := strings.ToLower(err.Error())
	for _, fm := range friendlyMessages {
		if strings.Contains(text, fm.needle) {
			return fm.message
		}
	}
	return "Processing failed: " + err.Error()
}

// Error describes a failed call to a generation backend.
type Error struct {
	// Op is the operation that failed, e.g. "split" or "generate_image".
	Op string
	// StatusCode is the backend HTTP status when known.
	StatusCode int
	// Kind is one of the sentinel errors of this package.
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFailure)
}
