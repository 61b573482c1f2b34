package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/service"
	"github.com/phrazzld/manga-api/internal/service/auth"
	"github.com/phrazzld/manga-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	type scenesReq struct {
		NumScenes int `validate:"lte=10"`
	}
	validationErr := validator.New().Struct(scenesReq{NumScenes: 12})
	require.Error(t, validationErr)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"missing token", auth.ErrMissingToken, http.StatusUnauthorized, "Admin token required"},
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized, "Invalid token"},
		{"not admin", auth.ErrNotAdmin, http.StatusForbidden, "Admin role required"},
		{"task not found", fmt.Errorf("get: %w", store.ErrTaskNotFound), http.StatusNotFound, "Task not found"},
		{"panel not found", store.ErrPanelNotFound, http.StatusNotFound, "Panel not found"},
		{"not cancellable", service.ErrTaskNotCancellable, http.StatusBadRequest, "Task is already completed, failed or cancelled"},
		{"panel not completed", service.ErrPanelNotCompleted, http.StatusBadRequest, "Panel must be completed before it can be regenerated"},
		{"unknown job", service.ErrUnknownMaintenanceJob, http.StatusBadRequest, "Unknown maintenance job"},
		{"regenerated source", domain.ErrRegenerateRegenerated, http.StatusBadRequest, "Only original panels can be regenerated"},
		{
			"domain validation",
			domain.ValidateSceneCount(0),
			http.StatusBadRequest,
			"Scene count out of range: must be between 1 and 10",
		},
		{"empty session", domain.ErrEmptySessionID, http.StatusBadRequest, "Session ID cannot be empty"},
		{"struct validation", validationErr, http.StatusBadRequest, "Invalid NumScenes: out of range"},
		{
			"internal error",
			errors.New("pq: password authentication failed for user app"),
			http.StatusInternalServerError,
			"An unexpected error occurred",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantStatus, MapErrorToStatusCode(tt.err))
			assert.Equal(t, tt.wantMsg, GetSafeErrorMessage(tt.err))
		})
	}
}

func TestGetSafeErrorMessageNil(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}
