package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sctennis77/zazzle-agent-sub000/internal/config"
	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/pipeline"
	"github.com/sctennis77/zazzle-agent-sub000/internal/platform/logger"
	"github.com/sctennis77/zazzle-agent-sub000/internal/platform/postgres"
	"github.com/sctennis77/zazzle-agent-sub000/internal/platform/redisbus"
	"github.com/sctennis77/zazzle-agent-sub000/internal/service/auth"
	"github.com/sctennis77/zazzle-agent-sub000/internal/task"
	"github.com/sctennis77/zazzle-agent-sub000/internal/ws"
)

// application holds the assembled dependencies of one API replica.
type application struct {
	config     *config.Config
	logger     *slog.Logger
	db         *sql.DB
	redis      *redis.Client
	manager    *task.Manager
	registry   *ws.Registry
	relay      *ws.Relay
	jwtService auth.JWTService
}

// newApplication loads configuration and wires every component.
func newApplication() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server.LogLevel)
	log.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"pool_size", cfg.Worker.PoolSize,
		"redis_configured", cfg.Redis.Addr != "")

	db, err := setupDatabase(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(db, log); err != nil {
		return nil, err
	}

	taskStore := postgres.NewTaskStore(db)

	app := &application{
		config: cfg,
		logger: log,
		db:     db,
	}

	// Progress bus: Redis when configured (multi-replica deployments and
	// isolated jobs need it), in-memory otherwise.
	var (
		bus        task.ProgressBus
		subscriber task.BusSubscriber
	)
	if cfg.Redis.Addr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := app.redis.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		redisBus := redisbus.NewBus(app.redis, log)
		bus, subscriber = redisBus, redisBus
	} else {
		memBus := task.NewInMemoryBus(log)
		bus, subscriber = memBus, memBus
	}

	refund := task.NewLoggingRefundSignaler(log)
	reporter := task.NewProgressReporter(taskStore, bus, refund, log)

	pipe := pipeline.NewScriptedPipeline(pipeline.DefaultSteps(2 * time.Second)...)

	executors := map[domain.TaskType]task.Executor{
		domain.TaskTypeInProcess: task.NewPoolExecutor(pipe, reporter, log),
	}
	if app.redis != nil {
		jobQueue := redisbus.NewJobQueue(app.redis, log)
		executors[domain.TaskTypeIsolatedJob] = task.NewJobExecutor(jobQueue, reporter, log)
	}

	app.manager = task.NewManager(taskStore, bus, reporter, executors, task.ManagerConfig{
		WorkerCount:           cfg.Worker.PoolSize,
		QueuePollInterval:     cfg.Worker.QueuePollInterval,
		LivenessTimeout:       cfg.Worker.LivenessTimeout,
		LivenessCheckInterval: cfg.Worker.LivenessCheckInterval,
	}, log)

	app.registry = ws.NewRegistry(log)
	app.relay = ws.NewRelay(subscriber, app.registry, log)

	if cfg.Auth.JWTSecret != "" {
		app.jwtService, err = auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenLifetime)
		if err != nil {
			return nil, fmt.Errorf("failed to set up auth: %w", err)
		}
	} else {
		log.Warn("no JWT secret configured, API authentication disabled")
	}

	return app, nil
}

// run starts the manager, the relay and the HTTP server, then blocks
// until shutdown.
func (app *application) run() error {
	defer func() { _ = app.db.Close() }()
	if app.redis != nil {
		defer func() { _ = app.redis.Close() }()
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	go func() {
		if err := app.relay.Run(relayCtx); err != nil {
			app.logger.Error("progress relay failed", "error", err)
		}
	}()

	if err := app.manager.Start(); err != nil {
		return fmt.Errorf("failed to start task manager: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("http server listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-quit:
		app.logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("http server shutdown failed", "error", err)
	}

	stopRelay()
	app.manager.Stop()
	return nil
}
