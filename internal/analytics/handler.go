package analytics

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchtrack/internal/models"
	"github.com/aura-webinar/watchtrack/pkg/response"
)

// Reader loads per-video aggregates; *Repository implements it.
type Reader interface {
	GetByVideo(ctx context.Context, videoID string) (*models.VideoEngagement, error)
}

// Handler handles GET /videos/:id/engagement.
type Handler struct {
	repo   Reader
	logger *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(repo Reader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// GetByVideo handles GET /videos/:id/engagement. Admin only (enforced by route middleware).
// A video nobody finished watching yet reports zero counts.
func (h *Handler) GetByVideo(c *gin.Context) {
	videoID := c.Param("id")
	if videoID == "" {
		response.BadRequest(c, "invalid video id")
		return
	}
	e, err := h.repo.GetByVideo(c.Request.Context(), videoID)
	if err != nil {
		h.logger.Error("load engagement failed", zap.Error(err), zap.String("video_id", videoID))
		response.Internal(c, "failed to load engagement")
		return
	}
	if e == nil {
		e = &models.VideoEngagement{VideoID: videoID}
	}
	response.OK(c, e)
}
