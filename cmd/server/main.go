// Package main implements the entry point for the manga API server, which
// accepts story submissions, serves task status and artifacts, and streams
// live progress over websockets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/platform/logger"
	"github.com/phrazzld/manga-api/internal/platform/postgres"
)

// defaultMigrationsDir is where -migrate=create writes new files.
const defaultMigrationsDir = "internal/platform/postgres/migrations"

func main() {
	migrateCmd := flag.String("migrate", "", "run a migration command (up, down, reset, status, version, create) and exit")
	migrationName := flag.String("name", "", "name of the migration to create with -migrate=create")
	migrationsDir := flag.String("migrations-dir", defaultMigrationsDir, "directory -migrate=create writes to")
	flag.Parse()

	if err := run(*migrateCmd, *migrationName, *migrationsDir); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(migrateCmd, migrationName, migrationsDir string) error {
	// Creating a migration file needs neither configuration nor a database.
	if migrateCmd == "create" {
		path, err := createMigration(migrationsDir, migrationName)
		if err != nil {
			return err
		}
		slog.Info("migration created", "path", path)
		return nil
	}

	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}

	if migrateCmd != "" {
		defer func() { _ = db.Close() }()
		return postgres.Migrate(ctx, db, migrateCmd, log)
	}

	app, err := newApplication(ctx, cfg, log, db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

// loadAppConfig loads the configuration and logs its non-secret parts.
func loadAppConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"mode", cfg.App.Mode,
		"storage_backend", cfg.Storage.Backend)
	return cfg, nil
}
