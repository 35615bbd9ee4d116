// Package sessions serves the browsing-session endpoints: registration, heartbeat and
// content engagement.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchtrack/internal/middleware"
	"github.com/aura-webinar/watchtrack/internal/models"
	"github.com/aura-webinar/watchtrack/pkg/response"
)

// Store is the persistence the handler needs; *Repository implements it.
type Store interface {
	Create(ctx context.Context, id uuid.UUID, userID *uuid.UUID) (*models.UserSession, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.UserSession, error)
	Touch(ctx context.Context, id uuid.UUID) error
	End(ctx context.Context, id uuid.UUID) error
	Rotate(ctx context.Context, id uuid.UUID) (*models.UserSession, error)
	SetContentEngaged(ctx context.Context, id uuid.UUID, engaged bool) (bool, error)
}

// Presence tracks idle expiry; *RedisPresence implements it.
type Presence interface {
	Touch(ctx context.Context, id uuid.UUID) error
	Alive(ctx context.Context, id uuid.UUID) (bool, error)
	Clear(ctx context.Context, id uuid.UUID) error
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	SessionID string `json:"sessionId" binding:"required,uuid"`
}

// EngagedRequest is the body for PATCH /sessions/:id/content-engaged.
type EngagedRequest struct {
	Engaged *bool `json:"engaged"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	store    Store
	presence Presence
	maxAge   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates a sessions handler. maxAge <= 0 disables rotation.
func NewHandler(store Store, presence Presence, maxAge time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, presence: presence, maxAge: maxAge, logger: logger, now: time.Now}
}

// Create handles POST /sessions. 201 for a new session, 200 when the id is already known.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	id := uuid.MustParse(req.SessionID)
	var userID *uuid.UUID
	if uid, ok := middleware.UserID(c); ok {
		userID = &uid
	}

	ctx := c.Request.Context()
	s, created, err := h.store.Create(ctx, id, userID)
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to create session")
		return
	}
	if s.EndedAt == nil {
		if err := h.presence.Touch(ctx, id); err != nil {
			h.logger.Warn("presence touch failed", zap.Error(err), zap.String("session_id", id.String()))
		}
	}
	if created {
		h.logger.Info("session created", zap.String("session_id", id.String()), zap.Bool("guest", s.IsGuest))
		response.Created(c, s)
		return
	}
	response.OK(c, s)
}

// Heartbeat handles POST /sessions/:id/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		// An id the server never issued is as good as unknown.
		response.OK(c, models.ExpiredHeartbeat())
		return
	}
	ctx := c.Request.Context()
	log := h.logger.With(zap.String("session_id", id.String()))

	s, err := h.store.GetByID(ctx, id)
	if err != nil {
		log.Error("load session failed", zap.Error(err))
		response.Internal(c, "failed to load session")
		return
	}
	if s == nil || s.EndedAt != nil {
		response.OK(c, models.ExpiredHeartbeat())
		return
	}

	alive, err := h.presence.Alive(ctx, id)
	if err != nil {
		log.Error("presence check failed", zap.Error(err))
		response.ServiceUnavailable(c, "presence unavailable")
		return
	}
	if !alive {
		if err := h.store.End(ctx, id); err != nil {
			log.Error("end idle session failed", zap.Error(err))
			response.Internal(c, "failed to end session")
			return
		}
		log.Info("session idle, ended")
		response.OK(c, models.ExpiredHeartbeat())
		return
	}

	if h.maxAge > 0 && h.now().Sub(s.CreatedAt) >= h.maxAge {
		next, err := h.store.Rotate(ctx, id)
		if errors.Is(err, ErrSessionEnded) {
			response.OK(c, models.ExpiredHeartbeat())
			return
		}
		if err != nil {
			log.Error("rotate session failed", zap.Error(err))
			response.Internal(c, "failed to renew session")
			return
		}
		if err := h.presence.Clear(ctx, id); err != nil {
			log.Warn("presence clear failed", zap.Error(err))
		}
		if err := h.presence.Touch(ctx, next.ID); err != nil {
			log.Warn("presence touch failed", zap.Error(err))
		}
		log.Info("session rotated", zap.String("next_session_id", next.ID.String()))
		response.OK(c, models.HeartbeatResult{Status: models.HeartbeatRenewed, SessionID: next.ID.String()})
		return
	}

	if err := h.store.Touch(ctx, id); err != nil {
		log.Error("touch session failed", zap.Error(err))
		response.Internal(c, "failed to refresh session")
		return
	}
	if err := h.presence.Touch(ctx, id); err != nil {
		log.Error("presence touch failed", zap.Error(err))
		response.ServiceUnavailable(c, "presence unavailable")
		return
	}
	response.OK(c, models.HeartbeatResult{Status: models.HeartbeatActive})
}

// MarkContentEngaged handles PATCH /sessions/:id/content-engaged. A missing flag means true.
func (h *Handler) MarkContentEngaged(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req EngagedRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	engaged := req.Engaged == nil || *req.Engaged

	found, err := h.store.SetContentEngaged(c.Request.Context(), id, engaged)
	if err != nil {
		h.logger.Error("mark content engaged failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to update session")
		return
	}
	if !found {
		response.NotFound(c, "session not found")
		return
	}
	response.OK(c, gin.H{"sessionId": id, "contentEngaged": engaged})
}

// Register mounts the routes. Pass middleware.OptionalJWT as auth so guests get through.
func (h *Handler) Register(r gin.IRouter, auth gin.HandlerFunc) {
	g := r.Group("/sessions", auth)
	g.POST("", h.Create)
	g.POST("/:id/heartbeat", h.Heartbeat)
	g.PATCH("/:id/content-engaged", h.MarkContentEngaged)
}
