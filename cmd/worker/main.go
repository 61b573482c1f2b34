// Package main implements the background worker. It consumes manga
// generation, panel regeneration and maintenance jobs from RabbitMQ and
// reports progress through Redis to the API servers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/platform/logger"
)

func main() {
	queues := flag.String("queues", "", "comma separated job types to consume (default: all)")
	schedule := flag.Bool("schedule", true, "run the maintenance scheduler in this worker")
	flag.Parse()

	if err := run(parseQueues(*queues), *schedule); err != nil {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(queues []string, schedule bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.App.IsDistributed() {
		return errors.New("the worker requires app.mode=distributed; local mode runs jobs inside the server")
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := newWorker(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}
	return w.Run(ctx, queues, schedule)
}

// parseQueues splits a comma separated flag value, dropping blanks.
func parseQueues(v string) []string {
	var out []string
	for _, q := range strings.Split(v, ",") {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}
