// Package main implements the isolated job worker. It consumes
// submitted jobs from the Redis job queue, executes the commission
// pipeline for each and reports progress through the shared task
// store and progress bus.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/sctennis77/zazzle-agent-sub000/internal/config"
	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/pipeline"
	"github.com/sctennis77/zazzle-agent-sub000/internal/platform/logger"
	"github.com/sctennis77/zazzle-agent-sub000/internal/platform/postgres"
	"github.com/sctennis77/zazzle-agent-sub000/internal/platform/redisbus"
	"github.com/sctennis77/zazzle-agent-sub000/internal/store"
	"github.com/sctennis77/zazzle-agent-sub000/internal/task"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Job worker error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Redis.Addr == "" {
		return errors.New("redis address is required for the job worker")
	}

	logg := logger.Setup(cfg.Server.LogLevel).With("component", "jobworker")
	logg.Info("job worker starting", "worker_count", cfg.Worker.PoolSize)

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	taskStore := postgres.NewTaskStore(db)
	bus := redisbus.NewBus(redisClient, logg)
	jobQueue := redisbus.NewJobQueue(redisClient, logg)
	reporter := task.NewProgressReporter(taskStore, bus, task.NewLoggingRefundSignaler(logg), logg)
	pipe := pipeline.NewScriptedPipeline(pipeline.DefaultSteps(2 * time.Second)...)

	runner := &jobRunner{
		store:    taskStore,
		queue:    jobQueue,
		reporter: reporter,
		pipeline: pipe,
		logger:   logg,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.PoolSize; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runner.consume(ctx, id)
		}(i)
	}

	wg.Wait()
	logg.Info("job worker stopped")
	return nil
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// jobRunner consumes job envelopes and executes the pipeline for each.
type jobRunner struct {
	store    store.TaskStore
	queue    *redisbus.JobQueue
	reporter task.Reporter
	pipeline pipeline.Pipeline
	logger   *slog.Logger
}

// consume loops on the job queue until ctx is cancelled.
func (r *jobRunner) consume(ctx context.Context, workerID int) {
	logg := r.logger.With("worker_id", workerID)
	logg.Debug("job consumer started")

	for {
		envelope, err := r.queue.NextJob(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logg.Debug("job consumer stopping")
				return
			}
			logg.Error("failed to fetch next job", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		r.execute(ctx, envelope.TaskID)
	}
}

func (r *jobRunner) execute(ctx context.Context, taskID uuid.UUID) {
	logg := r.logger.With("task_id", taskID)

	t, err := r.fetchTask(ctx, taskID)
	if err != nil {
		logg.Error("failed to load task for job", "error", err)
		return
	}
	if t == nil {
		return
	}

	if err := r.reporter.ReportStarted(ctx, t.ID); err != nil {
		if errors.Is(err, store.ErrTaskNotClaimable) {
			// Cancelled or otherwise closed before the job ran.
			logg.Debug("skipping job for non-claimable task")
			return
		}
		logg.Error("failed to mark task in progress", "error", err)
		return
	}

	runErr := r.runPipeline(ctx, t)
	r.reporter.ReportCompletion(ctx, t.ID, runErr)
}

func (r *jobRunner) fetchTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	t, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			r.logger.Warn("job references unknown task, dropping", "task_id", taskID)
			return nil, nil
		}
		return nil, err
	}
	if t.IsTerminal() {
		r.logger.Debug("job references terminal task, dropping",
			"task_id", taskID,
			"status", t.Status)
		return nil, nil
	}
	return t, nil
}

// runPipeline executes the pipeline with panic recovery so a
// misbehaving stage fails the task instead of crashing the worker.
func (r *jobRunner) runPipeline(ctx context.Context, t *domain.Task) (runErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			runErr = fmt.Errorf("pipeline panic: %v", rec)
		}
	}()

	return r.pipeline.Run(ctx, t, func(stage string, progress int) error {
		return r.reporter.ReportProgress(ctx, t.ID, stage, progress)
	})
}
