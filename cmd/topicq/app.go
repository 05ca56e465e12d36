package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/topicq/internal/auth"
	"github.com/phrazzld/topicq/internal/config"
	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/events"
	"github.com/phrazzld/topicq/internal/executor"
	"github.com/phrazzld/topicq/internal/lock"
	"github.com/phrazzld/topicq/internal/platform/postgres"
	"github.com/phrazzld/topicq/internal/queue"
	"github.com/phrazzld/topicq/internal/recovery"
)

// noopPayloadType is always registered; it logs and succeeds, which makes it
// useful for smoke-testing a deployment.
const noopPayloadType = "noop"

// application holds the wired dependencies shared by every command.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	service      *queue.Service
	compensation *queue.Sweeper
	recovery     *recovery.Sweeper

	// tokens is nil when no admin secret is configured.
	tokens *auth.TokenService

	emitter *events.InMemoryEventEmitter
}

// openDatabase opens the pgx-backed pool and verifies connectivity.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns)
	return db, nil
}

// newApplication wires stores, lock backend, executor and sweepers by
// constructor.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	if cfg.Auth.AdminJWTSecret != "" {
		tokens, err := auth.NewTokenService(cfg.Auth.AdminJWTSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize token service: %w", err)
		}
		app.tokens = tokens
	}

	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.RegisterHandler(events.NewLogHandler(logger))

	messageStore := postgres.NewMessageStore(db, logger)
	app.service = queue.NewService(messageStore, logger)

	locker, err := newLocker(cfg.Lock, db)
	if err != nil {
		return nil, err
	}

	backoff, err := queue.NewBackoffPolicy(
		cfg.Compensation.BackoffPolicy,
		cfg.Compensation.BackoffMinutes,
		cfg.Compensation.MaxBackoffMinutes,
	)
	if err != nil {
		return nil, fmt.Errorf("invalid backoff configuration: %w", err)
	}

	app.compensation = queue.NewSweeper(
		app.service,
		locker,
		newExecutor(cfg.Executor, logger),
		app.emitter,
		queue.SweeperConfig{
			Enabled:               cfg.Compensation.Enabled,
			OrganizationWhitelist: cfg.Compensation.OrganizationWhitelist,
			BatchLimit:            cfg.Compensation.BatchLimit,
			MaxRetries:            cfg.Compensation.MaxRetries,
			Backoff:               backoff,
			Concurrency:           cfg.Compensation.Concurrency,
			ExecutionTimeout:      cfg.Compensation.ExecutionTimeout,
			LockTTL:               cfg.Compensation.LockTTL,
		},
		logger,
	)
	if cfg.Compensation.ReclaimStuckAfter > 0 {
		app.compensation.SetReclaimer(queue.NewReclaimer(
			app.service,
			app.emitter,
			cfg.Compensation.ReclaimStuckAfter,
			cfg.Compensation.MaxRetries,
			cfg.Compensation.BatchLimit,
			logger,
		))
	}

	app.recovery = recovery.NewSweeper(
		postgres.NewExecutionStore(db, logger),
		recovery.Config{
			Enabled:          cfg.Recovery.Enabled,
			LookbackWindow:   cfg.Recovery.LookbackWindow,
			TimeoutThreshold: cfg.Recovery.TimeoutThreshold,
			RetryLimit:       cfg.Recovery.RetryLimit,
			BatchLimit:       cfg.Recovery.BatchLimit,
		},
		logger,
	)

	logger.Info("application initialized",
		"lock_backend", cfg.Lock.Backend,
		"backoff_policy", backoff.Kind,
		"reclaim_enabled", cfg.Compensation.ReclaimStuckAfter > 0)
	return app, nil
}

func newLocker(cfg config.LockConfig, db *sql.DB) (lock.Locker, error) {
	switch cfg.Backend {
	case "lease":
		return lock.NewLeaseLocker(db), nil
	case "advisory":
		return lock.NewAdvisoryLocker(db), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// newExecutor registers the built-in handlers and, when configured, routes
// every other payload type to the webhook.
func newExecutor(cfg config.ExecutorConfig, logger *slog.Logger) *executor.Registry {
	registry := executor.NewRegistry(logger)
	registry.Register(noopPayloadType, executor.Func(func(ctx context.Context, msg *domain.QueuedMessage) error {
		logger.InfoContext(ctx, "noop message executed",
			"message_id", msg.ID,
			"topic_id", msg.TopicID)
		return nil
	}))

	if cfg.WebhookURL != "" {
		registry.SetFallback(executor.NewWebhook(cfg.WebhookURL, cfg.WebhookTimeout))
	}
	return registry
}

// cleanup releases resources held by the application.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database connection", "error", err)
		}
	}
}
