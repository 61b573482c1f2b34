// Package storage defines where rendered panels and uploaded reference
// images live, independent of the backend that keeps them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned by Download for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that are empty or escape the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// Storage stores binary objects under slash-separated keys.
type Storage interface {
	// Upload stores size bytes from r under key and returns the public URL.
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)

	// Download returns the object stored under key.
	Download(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".txt":  "text/plain; charset=utf-8",
	".json": "application/json",
	".pdf":  "application/pdf",
}

// ContentTypeFor returns the MIME type for the extension of key.
func ContentTypeFor(key string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ExtensionFor returns the file extension used for a MIME type, defaulting to ".png".
func ExtensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// CleanKey validates key and returns it in canonical form.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// PanelKey is the key of an original panel image.
func PanelKey(taskID uuid.UUID, panelNumber int) string {
	return fmt.Sprintf("tasks/%s/panel_%d.png", taskID, panelNumber)
}

// RegeneratedPanelKey is the key of a regenerated panel image. It carries
// the first eight characters of the regenerated row ID.
func RegeneratedPanelKey(taskID uuid.UUID, panelNumber int, regeneratedID uuid.UUID) string {
	return fmt.Sprintf("tasks/%s/panel_%d_regenerated_%s.png", taskID, panelNumber, regeneratedID.String()[:8])
}

// ReferenceKey is the key of a user-supplied reference image.
func ReferenceKey(taskID, regeneratedID uuid.UUID, ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("tasks/%s/references/%s%s", taskID, regeneratedID, ext)
}

// JoinURL joins a base URL and a key with exactly one slash.
func JoinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// WithUploadTimeout bounds every Upload on s by d. Download and Delete are
// passed through. A non-positive d returns s unchanged.
func WithUploadTimeout(s Storage, d time.Duration) Storage {
	if d <= 0 {
		return s
	}
	return &timeoutStorage{Storage: s, timeout: d}
}

type timeoutStorage struct {
	Storage
	timeout time.Duration
}

func (t *timeoutStorage) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Storage.Upload(ctx, key, r, size, contentType)
}
