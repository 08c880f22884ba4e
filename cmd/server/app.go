package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/docsage-api/internal/config"
	"github.com/phrazzld/docsage-api/internal/content"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/events"
	"github.com/phrazzld/docsage-api/internal/platform/blobstore"
	"github.com/phrazzld/docsage-api/internal/platform/gemini"
	"github.com/phrazzld/docsage-api/internal/platform/memory"
	"github.com/phrazzld/docsage-api/internal/platform/postgres"
	"github.com/phrazzld/docsage-api/internal/platform/redisqueue"
	"github.com/phrazzld/docsage-api/internal/service"
	"github.com/phrazzld/docsage-api/internal/service/auth"
	"github.com/phrazzld/docsage-api/internal/store"
	"github.com/phrazzld/docsage-api/internal/task"
	"github.com/redis/go-redis/v9"
)

// echoStep is the pause between progress reports of the local echo engine.
const echoStep = 200 * time.Millisecond

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// Backing services; nil when the in-memory alternatives are used.
	db    *sql.DB
	redis redis.UniversalClient

	taskStore    store.TaskStore
	contentStore store.ContentStore

	jwtService   auth.JWTService
	contents     *content.Service
	queue        task.WorkQueue
	engine       task.AnalysisEngine
	hub          *events.Hub
	pool         *task.WorkerPool
	reclaimer    *task.Reclaimer
	orchestrator *service.Orchestrator
}

// newApplication creates a new application instance with all dependencies initialized.
// PostgreSQL is used when database.url is set and Redis when queue.backend is
// "redis"; otherwise the in-memory implementations serve a single process.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)

	if err := app.setupStores(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	blobs, err := blobstore.New(cfg.Storage.DataDir)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	app.contents = content.NewService(app.contentStore, blobs, content.Config{
		MaxBytes:  cfg.Server.MaxUploadBytes,
		CacheSize: cfg.Storage.CacheSize,
		CacheTTL:  time.Duration(cfg.Storage.CacheTTLMinutes) * time.Minute,
	}, logger)

	if err := app.setupQueue(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	if err := app.setupEngine(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	app.hub = events.NewHub(cfg.Hub.BufferSize, logger)

	app.pool = task.NewWorkerPool(app.queue, app.taskStore, app.engine, app.hub, task.WorkerPoolConfig{
		WorkerCount: cfg.Task.WorkerCount,
		MaxAttempts: cfg.Task.MaxAttempts,
		Budget: func(t domain.TaskType) time.Duration {
			return cfg.Task.Budgets.For(string(t))
		},
	}, logger)

	app.reclaimer = task.NewReclaimer(app.taskStore, app.queue, task.ReclaimerConfig{
		StaleAge:      time.Duration(cfg.Task.StaleTaskAgeMinutes) * time.Minute,
		CheckInterval: time.Duration(cfg.Task.StaleCheckIntervalSeconds) * time.Second,
	}, logger)

	app.orchestrator = service.NewOrchestrator(
		app.taskStore,
		app.contents,
		app.queue,
		app.pool,
		app.hub,
		service.OrchestratorConfig{QueueCeiling: cfg.Task.QueueCeiling},
		logger,
	)

	logger.Info("Application initialized successfully")
	return app, nil
}

func (app *application) setupStores(ctx context.Context) error {
	if app.config.Database.URL == "" {
		mem := memory.NewStore()
		app.taskStore = mem
		app.contentStore = mem.Contents()
		app.logger.Warn("database.url not set, using in-memory stores; state is lost on restart")
		return nil
	}

	db, err := setupAppDatabase(ctx, app.config, app.logger)
	if err != nil {
		return err
	}
	app.db = db
	if err := postgres.Migrate(db, "up", app.logger); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	app.taskStore = postgres.NewPostgresTaskStore(db)
	app.contentStore = postgres.NewPostgresContentStore(db)
	return nil
}

// setupQueue builds the work queue. Its capacity exceeds the orchestrator's
// ceiling so the reclaimer can always re-dispatch accepted tasks.
func (app *application) setupQueue(ctx context.Context) error {
	cfg := app.config
	queueConfig := task.QueueConfig{
		Capacity:          2 * cfg.Task.QueueCeiling,
		MaxAttempts:       cfg.Task.MaxAttempts,
		VisibilityTimeout: time.Duration(cfg.Task.VisibilityTimeoutSeconds) * time.Second,
	}

	if cfg.Queue.Backend != "redis" {
		app.queue = task.NewMemoryQueue(queueConfig, app.logger)
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Queue.RedisAddr, err)
	}
	app.redis = client
	app.queue = redisqueue.New(client, redisqueue.Config{
		Prefix: cfg.Queue.KeyPrefix,
		Queue:  queueConfig,
	}, app.logger)
	app.logger.Info("Redis work queue connected", "addr", cfg.Queue.RedisAddr)
	return nil
}

func (app *application) setupEngine(ctx context.Context) error {
	if app.config.LLM.Provider == "echo" {
		app.engine = task.NewEchoEngine(app.contents, echoStep)
		app.logger.Warn("using echo analysis engine; results are not model generated")
		return nil
	}

	engine, err := gemini.NewEngine(ctx, app.config.LLM, app.contents, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize analysis engine: %w", err)
	}
	app.engine = engine
	app.logger.Info("Gemini analysis engine initialized", "model", app.config.LLM.ModelName)
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.hub != nil {
		app.hub.Close()
	}
	if app.queue != nil {
		app.queue.Close()
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("Error closing redis connection", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}
	app.logger.Info("Application shutdown completed")
}
