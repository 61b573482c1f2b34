// Package localfs stores objects as files under a local directory.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/phrazzld/manga-api/internal/platform/logger"
	"github.com/phrazzld/manga-api/internal/storage"
)

// Store implements storage.Storage on the local filesystem. Files are
// written to a temporary name and renamed, so readers never see partial
// objects.
type Store struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// New creates root if needed and returns a Store serving URLs under baseURL.
func New(root, baseURL string, log *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("localfs: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("localfs: create root: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		root:    abs,
		baseURL: baseURL,
		logger:  log.With("component", "localfs_storage"),
	}, nil
}

// Root returns the absolute directory objects are stored in.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) path(key string) (string, string, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return key, filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Upload implements storage.Storage.
func (s *Store) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	key, p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("localfs: create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("localfs: create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("localfs: write %s: %w", key, err)
	}
	if size >= 0 && n != size {
		return "", fmt.Errorf("localfs: write %s: got %d bytes, want %d", key, n, size)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", fmt.Errorf("localfs: commit %s: %w", key, err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Debug("object stored",
		slog.String("key", key),
		slog.Int64("bytes", n),
		slog.String("content_type", contentType))
	return storage.JoinURL(s.baseURL, key), nil
}

// Download implements storage.Storage.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	key, p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("localfs: read %s: %w", key, err)
	}
	return data, nil
}

// Delete implements storage.Storage.
func (s *Store) Delete(ctx context.Context, key string) error {
	key, p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("localfs: delete %s: %w", key, err)
	}
	return nil
}

var _ storage.Storage = (*Store)(nil)
