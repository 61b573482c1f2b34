package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/redact"
	"github.com/sethvargo/go-retry"
)

// pingTimeout bounds a single readiness ping.
const pingTimeout = 5 * time.Second

// Connect opens the connection pool and waits for the database to answer,
// retrying while it is still starting up. Errors never carry the DSN.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %s", redact.Error(err))
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := waitReady(ctx, db, retry.NewExponential(500*time.Millisecond), logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Database connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns)
	return db, nil
}

func waitReady(ctx context.Context, db *sql.DB, backoff retry.Backoff, logger *slog.Logger) error {
	err := retry.Do(ctx, retry.WithMaxRetries(5, backoff), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("database not ready", "error", redact.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", errors.New(redact.Error(err)))
	}
	return nil
}
