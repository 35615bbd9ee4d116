package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/watchtrack/internal/models"
)

// Repository reads and folds video_engagement aggregates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an engagement repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByVideo returns the aggregates for a video, or nil when nothing was folded yet.
func (r *Repository) GetByVideo(ctx context.Context, videoID string) (*models.VideoEngagement, error) {
	const q = `SELECT video_id, views, guest_views, completions, total_watch_seconds, total_percentage, updated_at
		FROM video_engagement WHERE video_id = $1`
	var e models.VideoEngagement
	var totalPct float64
	err := r.pool.QueryRow(ctx, q, videoID).Scan(&e.VideoID, &e.Views, &e.GuestViews, &e.Completions, &e.TotalWatchSeconds, &totalPct, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	Derive(&e, totalPct)
	return &e, nil
}

// Fold adds one finalized watch session to its video's aggregates. The session is marked in
// the same transaction, so a second fold of the same session is a no-op and returns false.
func (r *Repository) Fold(ctx context.Context, w *models.WatchSession) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const markQ = `UPDATE watch_sessions SET engagement_folded_at = NOW()
		WHERE id = $1 AND end_time IS NOT NULL AND engagement_folded_at IS NULL`
	tag, err := tx.Exec(ctx, markQ, w.ID)
	if err != nil {
		return false, fmt.Errorf("mark folded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	guest, completed := 0, 0
	if w.IsGuestWatchSession {
		guest = 1
	}
	if w.PercentageWatched >= models.CompletionThreshold {
		completed = 1
	}
	const upsertQ = `INSERT INTO video_engagement (video_id, views, guest_views, completions, total_watch_seconds, total_percentage, updated_at)
		VALUES ($1, 1, $2, $3, $4, $5, NOW())
		ON CONFLICT (video_id) DO UPDATE SET
			views = video_engagement.views + 1,
			guest_views = video_engagement.guest_views + EXCLUDED.guest_views,
			completions = video_engagement.completions + EXCLUDED.completions,
			total_watch_seconds = video_engagement.total_watch_seconds + EXCLUDED.total_watch_seconds,
			total_percentage = video_engagement.total_percentage + EXCLUDED.total_percentage,
			updated_at = NOW()`
	if _, err := tx.Exec(ctx, upsertQ, w.VideoID, guest, completed, w.ActualTimeWatched, w.PercentageWatched); err != nil {
		return false, fmt.Errorf("upsert engagement: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Unfolded lists finalized sessions not yet folded, oldest first. Used to backfill jobs.
func (r *Repository) Unfolded(ctx context.Context, limit int) ([]uuid.UUID, error) {
	const q = `SELECT id FROM watch_sessions WHERE end_time IS NOT NULL AND engagement_folded_at IS NULL
		ORDER BY end_time LIMIT $1`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Derive fills the averages from the stored totals.
func Derive(e *models.VideoEngagement, totalPercentage float64) {
	if e.Views <= 0 {
		return
	}
	n := float64(e.Views)
	e.AvgWatchSeconds = e.TotalWatchSeconds / n
	e.AvgPercentageWatched = models.RoundPercent(totalPercentage / n)
	e.CompletionRatePercent = models.RoundPercent(float64(e.Completions) / n * 100)
}
