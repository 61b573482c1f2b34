package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/phrazzld/manga-api/internal/generation"
	"google.golang.org/genai"
)

// ErrEmptyPrompt is returned when a model call is attempted without a prompt.
var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// statusCode extracts the HTTP status of an API error, or 0.
func statusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}

// isTransientStatus reports whether an HTTP status is worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	}
	return code >= 500
}

// classify wraps a failed model call in a generation.Error. attemptCtx is
// the per-attempt context the call ran under.
func classify(op string, attemptCtx context.Context, err error) *generation.Error {
	var ge *generation.Error
	if errors.As(err, &ge) {
		return ge
	}

	code := statusCode(err)
	kind := generation.ErrGenerationFailed

	var netErr net.Error
	switch {
	case code != 0 && isTransientStatus(code):
		kind = generation.ErrTransientFailure
	case code != 0:
		kind = generation.ErrGenerationFailed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		kind = generation.ErrTransientFailure
		err = fmt.Errorf("request timeout: %w", err)
	case errors.As(err, &netErr):
		kind = generation.ErrTransientFailure
		err = fmt.Errorf("network error: %w", err)
	}

	return &generation.Error{Op: op, StatusCode: code, Kind: kind, Err: err}
}

// blockedReason returns why the response was blocked, or "".
func blockedReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return string(resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return string(genai.FinishReasonSafety)
	}
	return ""
}
