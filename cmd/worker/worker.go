package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/maintenance"
	"github.com/phrazzld/manga-api/internal/platform/gemini"
	"github.com/phrazzld/manga-api/internal/platform/objectstore"
	"github.com/phrazzld/manga-api/internal/platform/postgres"
	"github.com/phrazzld/manga-api/internal/platform/rabbitmq"
	"github.com/phrazzld/manga-api/internal/platform/redis"
	"github.com/phrazzld/manga-api/internal/store"
	"github.com/phrazzld/manga-api/internal/task"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
)

// worker holds the dependencies of one worker process.
type worker struct {
	config *config.Config
	logger *slog.Logger

	db          *sql.DB
	redisClient *goredis.Client
	amqpConn    *amqp.Connection

	dispatcher *task.Dispatcher
	sweeper    *maintenance.Sweeper
	consumer   *rabbitmq.Consumer
}

// newWorker connects to every backing service and registers the jobs.
// Partially opened connections are closed on failure.
func newWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*worker, error) {
	w := &worker{config: cfg, logger: logger}
	if err := w.connect(ctx); err != nil {
		w.cleanup()
		return nil, err
	}
	return w, nil
}

func (w *worker) connect(ctx context.Context) error {
	cfg, logger := w.config, w.logger

	var err error
	w.db, err = postgres.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	stores := store.Stores{
		Tasks:    postgres.NewPostgresMangaTaskStore(w.db, logger),
		Panels:   postgres.NewPostgresPanelStore(w.db, logger),
		Sessions: postgres.NewPostgresSessionStore(w.db, logger),
	}

	objects, err := objectstore.Open(ctx, cfg.Storage, cfg.Server.PublicBaseURL, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	w.redisClient = redis.NewClient(cfg.Redis)
	if err := redis.WaitReady(ctx, w.redisClient, logger); err != nil {
		return err
	}
	publisher, err := redis.NewProgressPublisher(w.redisClient, cfg.Redis.ProgressChannel)
	if err != nil {
		return err
	}

	client, err := gemini.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	w.sweeper, err = maintenance.NewSweeper(stores.Tasks, stores.Panels, stores.Sessions, publisher,
		maintenance.NewConfig(cfg.Task), logger)
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}

	w.dispatcher = task.NewDispatcher()
	err = task.RegisterJobs(w.dispatcher, &task.Pipeline{
		Tx:        store.NewSQLUnitOfWork(w.db, stores),
		Tasks:     stores.Tasks,
		Panels:    stores.Panels,
		Splitter:  client,
		Images:    client,
		Storage:   objects,
		Publisher: publisher,
		Logger:    logger,
	}, w.sweeper)
	if err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}

	w.amqpConn, err = rabbitmq.Dial(ctx, cfg.RabbitMQ.URL, logger)
	if err != nil {
		return err
	}
	ch, err := w.amqpConn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	w.consumer, err = rabbitmq.NewConsumer(ch, w.dispatcher, rabbitmq.NewConsumerConfig(cfg.RabbitMQ, cfg.Task), logger)
	if err != nil {
		return err
	}
	return nil
}

// Run consumes queues until ctx ends. With schedule set it also runs the
// maintenance jobs on their cron schedules; enable that on one worker only.
func (w *worker) Run(ctx context.Context, queues []string, schedule bool) error {
	defer w.cleanup()

	if err := validateQueues(w.dispatcher, queues); err != nil {
		return err
	}

	var scheduler *maintenance.Scheduler
	if schedule {
		var err error
		scheduler, err = maintenance.NewScheduler(w.sweeper, w.config.Task.Schedules, w.logger)
		if err != nil {
			return fmt.Errorf("failed to create maintenance scheduler: %w", err)
		}
		scheduler.Start()
	}

	w.logger.Info("worker started", "queues", queues, "schedule", schedule)
	err := w.consumer.Run(ctx, queues...)

	if scheduler != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), w.config.Server.ShutdownTimeout)
		if stopErr := scheduler.Stop(stopCtx); stopErr != nil {
			w.logger.Warn("maintenance scheduler did not stop cleanly", "error", stopErr)
		}
		cancel()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	w.logger.Info("worker stopped")
	return nil
}

// validateQueues rejects queue names no job is registered for.
func validateQueues(d *task.Dispatcher, queues []string) error {
	known := make(map[string]bool)
	for _, t := range d.Types() {
		known[t] = true
	}
	for _, q := range queues {
		if !known[q] {
			return fmt.Errorf("unknown queue %q: known job types are %v", q, d.Types())
		}
	}
	return nil
}

func (w *worker) cleanup() {
	if w.amqpConn != nil {
		if err := w.amqpConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			w.logger.Error("Error closing rabbitmq connection", "error", err)
		}
	}
	if w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.logger.Error("Error closing redis client", "error", err)
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.logger.Error("Error closing database connection", "error", err)
		}
	}
}
