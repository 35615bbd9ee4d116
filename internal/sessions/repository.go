package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/watchtrack/internal/models"
)

// ErrSessionEnded is returned by Rotate when the session was ended concurrently.
var ErrSessionEnded = errors.New("session ended")

const sessionColumns = `id, user_id, is_guest, content_engaged, created_at, last_seen_at, ended_at, rotated_to`

// Repository handles user_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a user sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.UserSession, error) {
	var s models.UserSession
	if err := row.Scan(&s.ID, &s.UserID, &s.IsGuest, &s.ContentEngaged, &s.CreatedAt, &s.LastSeenAt, &s.EndedAt, &s.RotatedTo); err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a session with the client-chosen id. created is false when the id already
// existed; the stored row is returned either way.
func (r *Repository) Create(ctx context.Context, id uuid.UUID, userID *uuid.UUID) (*models.UserSession, bool, error) {
	const q = `INSERT INTO user_sessions (id, user_id, is_guest) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + sessionColumns
	s, err := scanSession(r.pool.QueryRow(ctx, q, id, userID, userID == nil))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	s, err = r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if s == nil {
		return nil, false, fmt.Errorf("session %s vanished after conflict", id)
	}
	return s, false, nil
}

// GetByID returns a session, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.UserSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM user_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// Touch records a heartbeat.
func (r *Repository) Touch(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE user_sessions SET last_seen_at = NOW() WHERE id = $1 AND ended_at IS NULL`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// End marks a session as ended.
func (r *Repository) End(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE user_sessions SET ended_at = NOW() WHERE id = $1 AND ended_at IS NULL`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// Rotate ends the session and creates its successor for the same user in one transaction.
func (r *Repository) Rotate(ctx context.Context, id uuid.UUID) (*models.UserSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const lockQ = `SELECT ` + sessionColumns + ` FROM user_sessions WHERE id = $1 FOR UPDATE`
	old, err := scanSession(tx.QueryRow(ctx, lockQ, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionEnded
		}
		return nil, err
	}
	if old.EndedAt != nil {
		return nil, ErrSessionEnded
	}

	const insertQ = `INSERT INTO user_sessions (id, user_id, is_guest, content_engaged) VALUES ($1, $2, $3, $4)
		RETURNING ` + sessionColumns
	next, err := scanSession(tx.QueryRow(ctx, insertQ, uuid.New(), old.UserID, old.IsGuest, old.ContentEngaged))
	if err != nil {
		return nil, fmt.Errorf("insert successor: %w", err)
	}
	const endQ = `UPDATE user_sessions SET ended_at = NOW(), rotated_to = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, endQ, id, next.ID); err != nil {
		return nil, fmt.Errorf("end rotated session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// SetContentEngaged updates the engagement flag. It returns false when the session does not exist.
func (r *Repository) SetContentEngaged(ctx context.Context, id uuid.UUID, engaged bool) (bool, error) {
	const q = `UPDATE user_sessions SET content_engaged = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, engaged)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
