package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/events"
	"github.com/phrazzld/manga-api/internal/maintenance"
	"github.com/phrazzld/manga-api/internal/platform/gemini"
	"github.com/phrazzld/manga-api/internal/platform/objectstore"
	"github.com/phrazzld/manga-api/internal/platform/postgres"
	"github.com/phrazzld/manga-api/internal/platform/rabbitmq"
	"github.com/phrazzld/manga-api/internal/platform/redis"
	"github.com/phrazzld/manga-api/internal/progress"
	"github.com/phrazzld/manga-api/internal/service"
	"github.com/phrazzld/manga-api/internal/service/auth"
	"github.com/phrazzld/manga-api/internal/storage"
	"github.com/phrazzld/manga-api/internal/store"
	"github.com/phrazzld/manga-api/internal/task"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	stores  store.Stores
	uow     store.UnitOfWork
	objects storage.Storage

	hub          *progress.Hub
	jwtService   auth.JWTService
	mangaService service.MangaService
	eventEmitter *events.InMemoryEventEmitter
	stats        progress.StatsFunc

	// Local mode
	taskRunner *task.TaskRunner
	scheduler  *maintenance.Scheduler

	// Distributed mode
	amqpConn    *amqp.Connection
	redisClient *goredis.Client
	subscriber  *redis.ProgressSubscriber

	background sync.WaitGroup
}

// newApplication creates a new application instance with all dependencies initialized.
// Workers are started here in local mode; in distributed mode jobs go to RabbitMQ
// and progress arrives through Redis.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	app.stores = store.Stores{
		Tasks:    postgres.NewPostgresMangaTaskStore(db, logger),
		Panels:   postgres.NewPostgresPanelStore(db, logger),
		Sessions: postgres.NewPostgresSessionStore(db, logger),
	}
	app.uow = store.NewSQLUnitOfWork(db, app.stores)

	app.objects, err = objectstore.Open(ctx, cfg.Storage, cfg.Server.PublicBaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.hub = progress.NewHub(progress.HubConfig{
		HeartbeatInterval: cfg.WebSocket.HeartbeatInterval,
		WriteTimeout:      cfg.WebSocket.WriteTimeout,
		SendBuffer:        cfg.WebSocket.SendBuffer,
	}, logger)

	app.eventEmitter = events.NewInMemoryEventEmitter(logger)

	if cfg.App.IsDistributed() {
		err = app.setupDistributed(ctx)
	} else {
		err = app.setupLocal(ctx)
	}
	if err != nil {
		app.cleanup()
		return nil, err
	}

	app.mangaService, err = service.NewMangaService(app.stores, app.uow, app.objects, app.eventEmitter, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create manga service: %w", err)
	}

	logger.Info("Application initialized successfully", "mode", cfg.App.Mode)
	return app, nil
}

// newSweeper builds the maintenance sweeper. Its progress events go to the
// local hub.
func (app *application) newSweeper() (*maintenance.Sweeper, error) {
	return maintenance.NewSweeper(
		app.stores.Tasks,
		app.stores.Panels,
		app.stores.Sessions,
		app.hub,
		maintenance.NewConfig(app.config.Task),
		app.logger,
	)
}

// setupLocal runs the jobs inside this process: the durable task runner
// executes them and the cron scheduler drives the sweeper.
func (app *application) setupLocal(ctx context.Context) error {
	client, err := gemini.NewClient(ctx, app.config.LLM, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	sweeper, err := app.newSweeper()
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}
	app.stats = sweeper.LatestStatistics

	pipeline := &task.Pipeline{
		Tx:        app.uow,
		Tasks:     app.stores.Tasks,
		Panels:    app.stores.Panels,
		Splitter:  client,
		Images:    client,
		Storage:   app.objects,
		Publisher: app.hub,
		Logger:    app.logger,
	}
	dispatcher := task.NewDispatcher()
	if err := task.RegisterJobs(dispatcher, pipeline, sweeper); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}

	app.taskRunner = task.NewTaskRunner(postgres.NewPostgresJobStore(app.db, app.logger), dispatcher, task.TaskRunnerConfig{
		WorkerCount:   app.config.Task.WorkerCount,
		QueueSize:     app.config.Task.QueueSize,
		MaxAttempts:   app.config.Task.MaxAttempts,
		RetryDelay:    app.config.Task.RetryDelay,
		SoftTimeLimit: app.config.Task.SoftTimeLimit,
		HardTimeLimit: app.config.Task.HardTimeLimit,
		StuckTaskAge:  app.config.Task.StuckTaskAge,
	}, app.logger)
	if err := app.taskRunner.Start(); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	app.eventEmitter.RegisterHandler(task.NewTaskFactoryEventHandler(dispatcher, app.taskRunner, app.logger))

	app.scheduler, err = maintenance.NewScheduler(sweeper, app.config.Task.Schedules, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create maintenance scheduler: %w", err)
	}

	app.logger.Info("local task runner started",
		"worker_count", app.config.Task.WorkerCount,
		"job_types", dispatcher.Types())
	return nil
}

// setupDistributed publishes jobs to RabbitMQ and relays worker progress
// from Redis into the hub.
func (app *application) setupDistributed(ctx context.Context) error {
	var err error
	app.amqpConn, err = rabbitmq.Dial(ctx, app.config.RabbitMQ.URL, app.logger)
	if err != nil {
		return err
	}
	ch, err := app.amqpConn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	publisher, err := rabbitmq.NewPublisher(ch, app.logger)
	if err != nil {
		return err
	}
	app.eventEmitter.RegisterHandler(publisher)

	app.redisClient = redis.NewClient(app.config.Redis)
	if err := redis.WaitReady(ctx, app.redisClient, app.logger); err != nil {
		return err
	}
	app.subscriber = redis.NewProgressSubscriber(app.redisClient, app.config.Redis.ProgressChannel, app.hub, app.logger)

	// The sweeper runs in the workers; here it only answers admin stats.
	sweeper, err := app.newSweeper()
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}
	app.stats = sweeper.GenerateStatistics

	app.logger.Info("distributed mode enabled", "progress_channel", app.config.Redis.ProgressChannel)
	return nil
}

// Run starts the background loops and the HTTP server, and blocks until
// ctx is cancelled or the server fails.
func (app *application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if app.scheduler != nil {
		app.scheduler.Start()
	}
	if app.subscriber != nil {
		app.background.Add(1)
		go func() {
			defer app.background.Done()
			if err := app.subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				app.logger.Error("progress subscriber stopped", "error", err)
				cancel()
			}
		}()
	}

	err := app.startHTTPServer(ctx, app.setupRouter())
	cancel()
	app.cleanup()
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.hub != nil {
		app.hub.Close()
	}

	if app.scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout())
		if err := app.scheduler.Stop(ctx); err != nil {
			app.logger.Warn("maintenance scheduler did not stop cleanly", "error", err)
		}
		cancel()
	}

	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}

	app.background.Wait()

	if app.amqpConn != nil {
		if err := app.amqpConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			app.logger.Error("Error closing rabbitmq connection", "error", err)
		}
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("Error closing redis client", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}

func (app *application) shutdownTimeout() time.Duration {
	if app.config != nil && app.config.Server.ShutdownTimeout > 0 {
		return app.config.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
