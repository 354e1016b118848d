package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/task"
)

// jobQueueKey is the Redis list carrying submitted isolated jobs.
const jobQueueKey = "commission:jobs"

// popTimeout bounds each blocking pop so a consumer can observe ctx
// cancellation.
const popTimeout = 2 * time.Second

// JobEnvelope is the payload pushed onto the job queue. It carries the
// task identity only; the job worker re-reads the authoritative task
// row from the store before executing.
type JobEnvelope struct {
	TaskID      uuid.UUID `json:"task_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// JobQueue submits and consumes isolated jobs through a Redis list.
// The orchestrator side implements task.JobSubmitter; the jobworker
// binary consumes with NextJob.
type JobQueue struct {
	client *redis.Client
	logger *slog.Logger
}

// NewJobQueue creates a job queue over the given Redis client.
func NewJobQueue(client *redis.Client, logger *slog.Logger) *JobQueue {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for JobQueue")
	}
	return &JobQueue{
		client: client,
		logger: logger.With("component", "redis_job_queue"),
	}
}

var _ task.JobSubmitter = (*JobQueue)(nil)

// SubmitJob pushes the task onto the job queue. An error here means
// the job was not scheduled and the task should be requeued.
func (q *JobQueue) SubmitJob(ctx context.Context, t *domain.Task) error {
	envelope := JobEnvelope{
		TaskID:      t.ID,
		SubmittedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	if err := q.client.LPush(ctx, jobQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to push job onto queue: %w", err)
	}

	q.logger.Debug("job submitted", "task_id", t.ID)
	return nil
}

// NextJob blocks until a job is available or ctx is cancelled.
func (q *JobQueue) NextJob(ctx context.Context) (*JobEnvelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := q.client.BRPop(ctx, popTimeout, jobQueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to pop job from queue: %w", err)
		}

		// BRPop returns [key, value].
		if len(result) != 2 {
			q.logger.Error("unexpected BRPOP result", "result_len", len(result))
			continue
		}

		var envelope JobEnvelope
		if err := json.Unmarshal([]byte(result[1]), &envelope); err != nil {
			q.logger.Error("failed to decode job envelope, dropping job", "error", err)
			continue
		}
		return &envelope, nil
	}
}
