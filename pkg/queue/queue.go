package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueEngagement is the Redis list key for engagement folding jobs.
	QueueEngagement = "worker:engagement"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// DefaultBlockTimeout bounds one blocking pop so the worker loop can observe cancellation.
	DefaultBlockTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeEngagement JobType = "engagement"
)

// EngagementPayload names a finalized watch session whose numbers must be folded into
// the per-video aggregates.
type EngagementPayload struct {
	WatchSessionID uuid.UUID `json:"watch_session_id"`
	VideoID        string    `json:"video_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client       *redis.Client
	logger       *zap.Logger
	blockTimeout time.Duration
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger, blockTimeout: DefaultBlockTimeout}
}

// WithBlockTimeout overrides how long Dequeue blocks before returning an empty result.
func (q *Queue) WithBlockTimeout(d time.Duration) *Queue {
	q.blockTimeout = d
	return q
}

// EnqueueEngagement enqueues an engagement folding job.
func (q *Queue) EnqueueEngagement(ctx context.Context, payload EngagementPayload) error {
	job, err := q.push(ctx, QueueEngagement, JobTypeEngagement, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued engagement job", zap.String("job_id", job.ID), zap.String("watch_session_id", payload.WatchSessionID.String()))
	return nil
}

func (q *Queue) push(ctx context.Context, key string, typ JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	return job, nil
}

// Dequeue blocks up to the block timeout for a job. It returns nil, "", nil when nothing
// arrived or the entry was not a valid job.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, q.blockTimeout, QueueEngagement).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueEngagement, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// DeadLetters returns the number of jobs parked in the DLQ.
func (q *Queue) DeadLetters(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueDLQ).Result()
}
