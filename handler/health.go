package handler

import (
	"context"
	"net/http"

	"nfcunha/vpsmanager/core/service"

	"github.com/gin-gonic/gin"
)

// HealthChecker produces the aggregate health report.
type HealthChecker interface {
	Check(ctx context.Context) service.HealthReport
}

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// GetHealth handles GET /api/health
// Answers 503 when the report is unhealthy.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	report := h.checker.Check(c.Request.Context())

	status := http.StatusOK
	if report.Status == service.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
