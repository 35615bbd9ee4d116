package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchtrack/internal/models"
	"github.com/aura-webinar/watchtrack/pkg/queue"
)

// WatchSessions loads watch sessions; *watchsessions.Repository implements it.
type WatchSessions interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.WatchSession, error)
}

// Folder adds a finalized session to the per-video aggregates; *analytics.Repository implements it.
type Folder interface {
	Fold(ctx context.Context, w *models.WatchSession) (bool, error)
	Unfolded(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// Archiver stores the session event log; *storage.Archive implements it.
type Archiver interface {
	ArchiveWatchSession(ctx context.Context, w *models.WatchSession) (string, error)
}

// JobQueue is the queue the processor consumes; *queue.Queue implements it.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
	EnqueueEngagement(ctx context.Context, payload queue.EngagementPayload) error
}

// EngagementProcessor folds finalized watch sessions into video_engagement and archives
// their event logs.
type EngagementProcessor struct {
	sessions WatchSessions
	folder   Folder
	archive  Archiver
	queue    JobQueue
	logger   *zap.Logger
	backoff  time.Duration
}

// NewEngagementProcessor creates an engagement processor. archive may be nil to skip archiving.
func NewEngagementProcessor(sessions WatchSessions, folder Folder, archive Archiver, q JobQueue, logger *zap.Logger) *EngagementProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EngagementProcessor{
		sessions: sessions,
		folder:   folder,
		archive:  archive,
		queue:    q,
		logger:   logger,
		backoff:  queue.RetryBackoff,
	}
}

// Process executes one engagement job.
func (p *EngagementProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEngagement {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EngagementPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	log := p.logger.With(zap.String("watch_session_id", payload.WatchSessionID.String()))

	w, err := p.sessions.GetByID(ctx, payload.WatchSessionID)
	if err != nil {
		return fmt.Errorf("load watch session: %w", err)
	}
	if w == nil {
		log.Warn("watch session gone, dropping job")
		return nil
	}
	if !w.Finalized() {
		log.Warn("watch session not finalized, dropping job")
		return nil
	}

	if p.archive != nil {
		key, err := p.archive.ArchiveWatchSession(ctx, w)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		log.Debug("event log archived", zap.String("s3_key", key))
	}

	folded, err := p.folder.Fold(ctx, w)
	if err != nil {
		return fmt.Errorf("fold engagement: %w", err)
	}
	if !folded {
		log.Info("engagement already folded")
		return nil
	}
	log.Info("engagement folded",
		zap.String("video_id", w.VideoID),
		zap.Float64("actual_time_watched", w.ActualTimeWatched),
		zap.Float64("percentage_watched", w.PercentageWatched),
	)
	return nil
}

// Backfill enqueues finalized sessions that were never folded, e.g. after a Redis outage.
func (p *EngagementProcessor) Backfill(ctx context.Context, limit int) (int, error) {
	ids, err := p.folder.Unfolded(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unfolded: %w", err)
	}
	for i, id := range ids {
		if err := p.queue.EnqueueEngagement(ctx, queue.EngagementPayload{WatchSessionID: id}); err != nil {
			return i, err
		}
	}
	if len(ids) > 0 {
		p.logger.Info("backfilled engagement jobs", zap.Int("count", len(ids)))
	}
	return len(ids), nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EngagementProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("engagement worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *EngagementProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
