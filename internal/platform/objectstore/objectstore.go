// Package objectstore opens the storage backend selected by configuration.
package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/platform/localfs"
	"github.com/phrazzld/manga-api/internal/platform/s3"
	"github.com/phrazzld/manga-api/internal/storage"
)

// StaticPrefix is the URL path the server serves local artifacts under.
const StaticPrefix = "/static/"

// Open returns the configured storage.Storage with uploads bounded by
// cfg.UploadTimeout. Local objects are addressed as
// publicBaseURL + StaticPrefix + key.
func Open(ctx context.Context, cfg config.StorageConfig, publicBaseURL string, log *slog.Logger) (storage.Storage, error) {
	st, err := open(ctx, cfg, publicBaseURL, log)
	if err != nil {
		return nil, err
	}
	return storage.WithUploadTimeout(st, cfg.UploadTimeout), nil
}

func open(ctx context.Context, cfg config.StorageConfig, publicBaseURL string, log *slog.Logger) (storage.Storage, error) {
	switch cfg.Backend {
	case "local":
		base := strings.TrimRight(publicBaseURL, "/") + strings.TrimRight(StaticPrefix, "/")
		st, err := localfs.New(cfg.LocalDir, base, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "s3":
		st, err := s3.New(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
