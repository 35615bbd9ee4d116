package watchsessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/watchtrack/internal/models"
)

var (
	// ErrNotFound is returned when the watch session does not exist.
	ErrNotFound = errors.New("watch session not found")
	// ErrFinalized is returned when updating a session that already has an end time.
	ErrFinalized = errors.New("watch session finalized")
)

const watchColumns = `id, video_id, user_id, user_session_id, is_guest_watch_session, start_time, end_time,
	actual_time_watched, percentage_watched, user_events, user_metadata, created_at, updated_at`

// Repository handles watch_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a watch sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanWatch(row pgx.Row) (*models.WatchSession, error) {
	var w models.WatchSession
	var events, metadata []byte
	err := row.Scan(&w.ID, &w.VideoID, &w.UserID, &w.UserSessionID, &w.IsGuestWatchSession, &w.StartTime, &w.EndTime,
		&w.ActualTimeWatched, &w.PercentageWatched, &events, &metadata, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(events, &w.UserEvents); err != nil {
		return nil, fmt.Errorf("decode user_events: %w", err)
	}
	if err := json.Unmarshal(metadata, &w.UserMetadata); err != nil {
		return nil, fmt.Errorf("decode user_metadata: %w", err)
	}
	if w.UserEvents == nil {
		w.UserEvents = []models.UserEvent{}
	}
	return &w, nil
}

// Create inserts a watch session. A user session id the server does not know is stored as NULL.
func (r *Repository) Create(ctx context.Context, w *models.WatchSession) (*models.WatchSession, error) {
	events, err := json.Marshal(nonNilEvents(w.UserEvents))
	if err != nil {
		return nil, fmt.Errorf("encode user_events: %w", err)
	}
	metadata, err := json.Marshal(w.UserMetadata)
	if err != nil {
		return nil, fmt.Errorf("encode user_metadata: %w", err)
	}
	const q = `INSERT INTO watch_sessions (video_id, user_id, user_session_id, is_guest_watch_session, start_time,
			actual_time_watched, percentage_watched, user_events, user_metadata)
		VALUES ($1, $2, (SELECT id FROM user_sessions WHERE id = $3), $4, $5, $6, $7, $8, $9)
		RETURNING ` + watchColumns
	return scanWatch(r.pool.QueryRow(ctx, q, w.VideoID, w.UserID, w.UserSessionID, w.IsGuestWatchSession, w.StartTime,
		w.ActualTimeWatched, w.PercentageWatched, events, metadata))
}

// GetByID returns a watch session, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.WatchSession, error) {
	const q = `SELECT ` + watchColumns + ` FROM watch_sessions WHERE id = $1`
	w, err := scanWatch(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

// ApplyProgress merges p into the session under a row lock. Progress fields overwrite, events
// are appended in order. It returns ErrNotFound or ErrFinalized without writing.
func (r *Repository) ApplyProgress(ctx context.Context, id uuid.UUID, p models.WatchProgress) (*models.WatchSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const lockQ = `SELECT ` + watchColumns + ` FROM watch_sessions WHERE id = $1 FOR UPDATE`
	w, err := scanWatch(tx.QueryRow(ctx, lockQ, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if w.Finalized() {
		return nil, ErrFinalized
	}
	Merge(w, p)

	events, err := json.Marshal(w.UserEvents)
	if err != nil {
		return nil, fmt.Errorf("encode user_events: %w", err)
	}
	const updateQ = `UPDATE watch_sessions SET actual_time_watched = $2, percentage_watched = $3, end_time = $4,
			user_events = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + watchColumns
	out, err := scanWatch(tx.QueryRow(ctx, updateQ, id, w.ActualTimeWatched, w.PercentageWatched, w.EndTime, events))
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// Merge applies a partial update to w in place.
func Merge(w *models.WatchSession, p models.WatchProgress) {
	if p.ActualTimeWatched != nil {
		w.ActualTimeWatched = *p.ActualTimeWatched
	}
	if p.PercentageWatched != nil {
		w.PercentageWatched = *p.PercentageWatched
	}
	if p.EndTime != nil {
		end := p.EndTime.UTC()
		w.EndTime = &end
	}
	w.UserEvents = append(nonNilEvents(w.UserEvents), p.UserEvents...)
}

func nonNilEvents(evs []models.UserEvent) []models.UserEvent {
	if evs == nil {
		return []models.UserEvent{}
	}
	return evs
}
