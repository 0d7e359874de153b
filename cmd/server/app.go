package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/oakhurst/playnest-api/internal/config"
	"github.com/oakhurst/playnest-api/internal/events"
	"github.com/oakhurst/playnest-api/internal/platform/postgres"
	"github.com/oakhurst/playnest-api/internal/task"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown. It replaces any global
// state: a single instance is constructed at process start and passed by
// reference to everything that needs it.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB

	// Task orchestration core
	taskStore    task.TaskStore
	registry     *task.Registry
	workSignal   *events.WorkSignal
	broadcaster  *events.Broadcaster
	orchestrator *task.Orchestrator
	worker       *task.WorkerLoop
}

// newApplication creates a new application instance with all dependencies
// initialized. It accepts core dependencies like configuration, logger, and
// database connection that must be established before application
// initialization.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	app.taskStore = postgres.NewPostgresTaskStore(db)
	app.registry = task.NewRegistry(logger)
	app.workSignal = events.NewWorkSignal()
	app.broadcaster = events.NewBroadcaster(logger)

	app.orchestrator = task.NewOrchestrator(
		app.taskStore,
		app.registry,
		app.workSignal,
		app.broadcaster,
		task.OrchestratorConfig{
			BaseRetryDelay:     time.Duration(cfg.Task.BaseRetryDelayMillis) * time.Millisecond,
			DefaultMaxAttempts: cfg.Task.DefaultMaxAttempts,
		},
		logger,
	)

	registerTaskHandlers(app.registry, app.orchestrator, logger)

	// Reclaim work a previous process abandoned mid-flight before the loop
	// starts claiming.
	abandonedAge := time.Duration(cfg.Task.AbandonedTaskAgeMinutes) * time.Minute
	if err := app.orchestrator.Recover(ctx, abandonedAge); err != nil {
		return nil, fmt.Errorf("failed to recover abandoned tasks: %w", err)
	}

	app.worker = task.NewWorkerLoop(
		app.orchestrator,
		app.workSignal,
		time.Duration(cfg.Task.PollIntervalMillis)*time.Millisecond,
		logger,
	)

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the worker loop and the HTTP server, handling lifecycle and
// cleanup. It returns an error if the server fails to start or encounters
// problems.
func (app *application) Run(ctx context.Context) error {
	app.worker.Start()

	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.worker != nil {
		app.worker.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
