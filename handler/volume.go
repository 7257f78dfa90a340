package handler

import (
	"context"
	"net/http"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/core/service"

	"github.com/gin-gonic/gin"
)

// VolumeService is the volume surface used by VolumeHandler.
type VolumeService interface {
	FindAll(ctx context.Context) ([]models.Volume, error)
	Inspect(ctx context.Context, name string) (*models.VolumeDetail, error)
	Create(ctx context.Context, req service.CreateVolumeRequest, userID string) (*models.VolumeDetail, error)
	Delete(ctx context.Context, name, userID string) error
	Prune(ctx context.Context, userID string) (*service.PruneResult, error)
}

// VolumeHandler handles volume-related HTTP requests.
type VolumeHandler struct {
	volumeService VolumeService
}

// NewVolumeHandler creates a new volume handler.
func NewVolumeHandler(volumeService VolumeService) *VolumeHandler {
	return &VolumeHandler{
		volumeService: volumeService,
	}
}

// ListVolumes handles GET /api/volumes
func (h *VolumeHandler) ListVolumes(c *gin.Context) {
	volumes, err := h.volumeService.FindAll(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list volumes", err)
		return
	}

	noStore(c)
	c.JSON(http.StatusOK, volumes)
}

// InspectVolume handles GET /api/volumes/:name
func (h *VolumeHandler) InspectVolume(c *gin.Context) {
	detail, err := h.volumeService.Inspect(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, "Failed to inspect volume", err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

// CreateVolume handles POST /api/volumes
// Body: {"name": "...", "driver": "local", "driverOpts": {...}, "labels": {...}}
func (h *VolumeHandler) CreateVolume(c *gin.Context) {
	var req service.CreateVolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid request body",
			"detail": err.Error(),
		})
		return
	}

	detail, err := h.volumeService.Create(c.Request.Context(), req, userID(c))
	if err != nil {
		respondEngineFailure(c, err)
		return
	}

	c.JSON(http.StatusCreated, detail)
}

// RemoveVolume handles DELETE /api/volumes/:name
func (h *VolumeHandler) RemoveVolume(c *gin.Context) {
	if err := h.volumeService.Delete(c.Request.Context(), c.Param("name"), userID(c)); err != nil {
		respondEngineFailure(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PruneVolumes handles POST /api/volumes/prune
func (h *VolumeHandler) PruneVolumes(c *gin.Context) {
	result, err := h.volumeService.Prune(c.Request.Context(), userID(c))
	if err != nil {
		respondEngineFailure(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"target":             result.Target,
		"spaceReclaimed":     result.SpaceReclaimed,
		"formattedReclaimed": result.FormattedReclaimed,
	})
}
