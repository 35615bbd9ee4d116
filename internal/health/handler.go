// Package health reports whether the server's backing stores answer.
package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchtrack/pkg/response"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// Handler serves GET /health.
type Handler struct {
	checks  map[string]CheckFunc
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates a health handler. Each check runs with timeout.
func NewHandler(checks map[string]CheckFunc, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Handler{checks: checks, timeout: timeout, logger: logger}
}

// Get answers 200 when every check passes and 503 with the per-check status otherwise.
func (h *Handler) Get(c *gin.Context) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := gin.H{"status": "ok"}
	healthy := true
	for _, name := range names {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			healthy = false
			status[name] = err.Error()
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		status["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Data: status, Error: "dependency unavailable"})
		return
	}
	response.OK(c, status)
}
