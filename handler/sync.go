package handler

import (
	"context"
	"net/http"

	"nfcunha/vpsmanager/core/service"

	"github.com/gin-gonic/gin"
)

// SyncController is the background sync surface used by SyncHandler.
type SyncController interface {
	Start()
	Stop()
	Status() service.SyncStatus
	SyncAll(ctx context.Context) bool
}

// SyncHandler exposes control over the background cache refresh.
type SyncHandler struct {
	sync SyncController
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(sync SyncController) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// GetStatus handles GET /api/sync
func (h *SyncHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.sync.Status())
}

// Control handles POST /api/sync
// Body: {"action": "start" | "stop" | "sync"}
func (h *SyncHandler) Control(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid request body",
			"detail": err.Error(),
		})
		return
	}

	switch req.Action {
	case "start":
		h.sync.Start()
		c.JSON(http.StatusOK, gin.H{"success": true, "status": h.sync.Status()})
	case "stop":
		h.sync.Stop()
		c.JSON(http.StatusOK, gin.H{"success": true, "status": h.sync.Status()})
	case "sync":
		ran := h.sync.SyncAll(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"success": true, "skipped": !ran})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
	}
}
