// Package watchsessions serves the per-video watch session endpoints.
package watchsessions

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchtrack/internal/middleware"
	"github.com/aura-webinar/watchtrack/internal/models"
	"github.com/aura-webinar/watchtrack/pkg/queue"
	"github.com/aura-webinar/watchtrack/pkg/response"
)

// Store is the persistence the handler needs; *Repository implements it.
type Store interface {
	Create(ctx context.Context, w *models.WatchSession) (*models.WatchSession, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.WatchSession, error)
	ApplyProgress(ctx context.Context, id uuid.UUID, p models.WatchProgress) (*models.WatchSession, error)
}

// Enqueuer schedules engagement folding for finalized sessions; *queue.Queue implements it.
type Enqueuer interface {
	EnqueueEngagement(ctx context.Context, payload queue.EngagementPayload) error
}

// CreateRequest is the body for POST /watch-sessions.
type CreateRequest struct {
	VideoID             string              `json:"videoId" binding:"required,max=255"`
	StartTime           time.Time           `json:"startTime" binding:"required"`
	ActualTimeWatched   float64             `json:"actualTimeWatched" binding:"min=0"`
	PercentageWatched   float64             `json:"percentageWatched" binding:"min=0,max=100"`
	IsGuestWatchSession bool                `json:"isGuestWatchSession"`
	UserSessionID       string              `json:"userSessionId" binding:"omitempty,uuid"`
	UserMetadata        models.UserMetadata `json:"userMetadata"`
}

// Handler handles watch session HTTP endpoints.
type Handler struct {
	store  Store
	jobs   Enqueuer
	logger *zap.Logger
}

// NewHandler creates a watch sessions handler. jobs may be nil to skip engagement folding.
func NewHandler(store Store, jobs Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, jobs: jobs, logger: logger}
}

// Create handles POST /watch-sessions.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	w := &models.WatchSession{
		VideoID:             req.VideoID,
		IsGuestWatchSession: req.IsGuestWatchSession,
		StartTime:           req.StartTime.UTC(),
		ActualTimeWatched:   req.ActualTimeWatched,
		PercentageWatched:   req.PercentageWatched,
		UserMetadata:        req.UserMetadata,
	}
	if uid, ok := middleware.UserID(c); ok {
		w.UserID = &uid
	}
	if req.UserSessionID != "" {
		sid := uuid.MustParse(req.UserSessionID)
		w.UserSessionID = &sid
	}

	out, err := h.store.Create(c.Request.Context(), w)
	if err != nil {
		h.logger.Error("create watch session failed", zap.Error(err), zap.String("video_id", req.VideoID))
		response.Internal(c, "failed to create watch session")
		return
	}
	h.logger.Info("watch session created",
		zap.String("watch_session_id", out.ID.String()),
		zap.String("video_id", out.VideoID),
		zap.Bool("guest", out.IsGuestWatchSession),
	)
	response.Created(c, out)
}

// Update handles PATCH /watch-sessions/:id.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid watch session id")
		return
	}
	var p models.WatchProgress
	if err := c.ShouldBindJSON(&p); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	out, err := h.store.ApplyProgress(ctx, id, p)
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "watch session not found")
		return
	case errors.Is(err, ErrFinalized):
		response.Conflict(c, "watch session already finalized")
		return
	case err != nil:
		h.logger.Error("update watch session failed", zap.Error(err), zap.String("watch_session_id", id.String()))
		response.Internal(c, "failed to update watch session")
		return
	}

	if p.EndTime != nil && h.jobs != nil {
		payload := queue.EngagementPayload{WatchSessionID: out.ID, VideoID: out.VideoID}
		if err := h.jobs.EnqueueEngagement(ctx, payload); err != nil {
			h.logger.Error("enqueue engagement failed", zap.Error(err), zap.String("watch_session_id", id.String()))
		}
	}
	response.OK(c, out)
}

// Get handles GET /watch-sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid watch session id")
		return
	}
	w, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("load watch session failed", zap.Error(err), zap.String("watch_session_id", id.String()))
		response.Internal(c, "failed to load watch session")
		return
	}
	if w == nil {
		response.NotFound(c, "watch session not found")
		return
	}
	response.OK(c, w)
}

// Register mounts the routes behind auth, typically middleware.OptionalJWT.
func (h *Handler) Register(r gin.IRouter, auth gin.HandlerFunc) {
	g := r.Group("/watch-sessions", auth)
	g.POST("", h.Create)
	g.PATCH("/:id", h.Update)
	g.GET("/:id", h.Get)
}
