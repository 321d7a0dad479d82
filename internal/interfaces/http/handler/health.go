package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/konozy/ordersync/internal/interfaces/http/dto"
)

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler reports service and dependency health
type HealthHandler struct {
	BaseHandler
	version string
	checks  map[string]HealthCheck
	dbStats func() dto.DatabaseStats
	timeout time.Duration
}

// HealthOption is a functional option for HealthHandler
type HealthOption func(*HealthHandler)

// WithHealthCheck adds a named dependency check
func WithHealthCheck(name string, check HealthCheck) HealthOption {
	return func(h *HealthHandler) {
		h.checks[name] = check
	}
}

// WithDatabaseStats reports pool counters alongside the checks
func WithDatabaseStats(stats func() dto.DatabaseStats) HealthOption {
	return func(h *HealthHandler) {
		h.dbStats = stats
	}
}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler(version string, opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{
		version: version,
		checks:  make(map[string]HealthCheck),
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health runs every check; any failure answers 503
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp := dto.HealthResponse{
		Status:  "ok",
		Version: h.version,
		Checks:  make(map[string]string, len(h.checks)),
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}
	if h.dbStats != nil {
		stats := h.dbStats()
		resp.Database = &stats
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
