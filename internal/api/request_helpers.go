package api

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
)

// Upload limits.
const (
	MaxStoryFileBytes     = 1 << 20
	MaxReferenceImageSize = 10 << 20

	// multipartOverhead leaves room for form fields around an upload.
	multipartOverhead = 64 << 10
)

// ReferenceImageExtensions lists the accepted reference image types.
var ReferenceImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// getPathUUID extracts a UUID from the URL path parameters.
// It parses and validates the UUID, handling common error cases.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrValidation, paramName)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", domain.ErrValidation, paramName)
	}
	return id, nil
}

// getPathInt extracts a positive integer from the URL path parameters.
func getPathInt(r *http.Request, paramName string) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, paramName))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrValidation, paramName)
	}
	return n, nil
}

// fileExtension returns the lower-cased extension of an uploaded file.
func fileExtension(h *multipart.FileHeader) string {
	return strings.ToLower(path.Ext(h.Filename))
}
