package handler

import (
	"context"
	"net/http"

	"nfcunha/vpsmanager/core/models"

	"github.com/gin-gonic/gin"
)

const (
	defaultRecordLimit = 50
	maxRecordLimit     = 500
)

// AuditReader lists audit records newest-first.
type AuditReader interface {
	FindAll(ctx context.Context, limit int) ([]*models.AuditLog, error)
	FindByAction(ctx context.Context, action models.AuditAction, limit int) ([]*models.AuditLog, error)
}

// AlertReader lists alert records newest-first.
type AlertReader interface {
	FindRecent(ctx context.Context, limit int) ([]*models.Alert, error)
	FindBySeverity(ctx context.Context, severity string, limit int) ([]*models.Alert, error)
}

// AuditHandler serves the audit trail and the alert history.
type AuditHandler struct {
	audits AuditReader
	alerts AlertReader
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(audits AuditReader, alerts AlertReader) *AuditHandler {
	return &AuditHandler{audits: audits, alerts: alerts}
}

func recordLimit(c *gin.Context) int {
	return min(queryInt(c, "limit", defaultRecordLimit), maxRecordLimit)
}

// ListAuditLogs handles GET /api/audit
// Query parameters:
//   - limit: integer (default 50, max 500)
//   - action: string (one audit action, e.g. DELETE_IMAGE)
func (h *AuditHandler) ListAuditLogs(c *gin.Context) {
	limit := recordLimit(c)

	var (
		logs []*models.AuditLog
		err  error
	)
	if raw := c.Query("action"); raw != "" {
		action := models.AuditAction(raw)
		if !action.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown audit action"})
			return
		}
		logs, err = h.audits.FindByAction(c.Request.Context(), action, limit)
	} else {
		logs, err = h.audits.FindAll(c.Request.Context(), limit)
	}
	if err != nil {
		respondError(c, "Failed to list audit logs", err)
		return
	}

	c.JSON(http.StatusOK, logs)
}

// ListAlerts handles GET /api/alerts
// Query parameters:
//   - limit: integer (default 50, max 500)
//   - severity: string (INFO | WARNING | CRITICAL)
func (h *AuditHandler) ListAlerts(c *gin.Context) {
	limit := recordLimit(c)

	var (
		alerts []*models.Alert
		err    error
	)
	if severity := c.Query("severity"); severity != "" {
		alerts, err = h.alerts.FindBySeverity(c.Request.Context(), severity, limit)
	} else {
		alerts, err = h.alerts.FindRecent(c.Request.Context(), limit)
	}
	if err != nil {
		respondError(c, "Failed to list alerts", err)
		return
	}

	c.JSON(http.StatusOK, alerts)
}
