package handler

import (
	"context"
	"errors"
	"net/http"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/core/service"
	"nfcunha/vpsmanager/utils/apperr"

	"github.com/gin-gonic/gin"
)

// ImageService is the image surface used by ImageHandler.
type ImageService interface {
	FindAll(ctx context.Context) ([]models.Image, error)
	Inspect(ctx context.Context, id string) (*models.ImageDetail, error)
	Pull(ctx context.Context, ref, userID string, progress func(service.PullProgress)) error
	Search(ctx context.Context, term string, limit int) ([]models.ImageSearchResult, error)
	Delete(ctx context.Context, id, userID string) error
	BulkDelete(ctx context.Context, ids []string, userID string) (*service.BulkResult, error)
	Prune(ctx context.Context, all bool, userID string) (*service.PruneResult, error)
}

// ImageHandler handles image-related HTTP requests.
type ImageHandler struct {
	imageService ImageService
}

// NewImageHandler creates a new image handler.
func NewImageHandler(imageService ImageService) *ImageHandler {
	return &ImageHandler{
		imageService: imageService,
	}
}

// ListImages handles GET /api/images
func (h *ImageHandler) ListImages(c *gin.Context) {
	images, err := h.imageService.FindAll(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list images", err)
		return
	}

	noStore(c)
	c.JSON(http.StatusOK, images)
}

// InspectImage handles GET /api/images/:id
func (h *ImageHandler) InspectImage(c *gin.Context) {
	detail, err := h.imageService.Inspect(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to inspect image", err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

type pullRequest struct {
	Image string `json:"image" binding:"required"`
}

// PullImage handles POST /api/images/pull
// Body: {"image": "redis:7"}
// Progress is streamed as Server-Sent Events: "progress" frames, then one
// "complete" or "error" frame. A pull the Engine refuses outright is a plain
// JSON error response.
func (h *ImageHandler) PullImage(c *gin.Context) {
	var req pullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid request body",
			"detail": err.Error(),
		})
		return
	}

	streaming := false
	startStream := func() {
		if streaming {
			return
		}
		streaming = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache, no-transform")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}

	err := h.imageService.Pull(c.Request.Context(), req.Image, userID(c), func(p service.PullProgress) {
		startStream()
		c.SSEvent("progress", p)
		c.Writer.Flush()
	})
	if err != nil && !streaming {
		if errors.Is(err, apperr.ErrInvalidInput) {
			respondError(c, "Invalid image reference", err)
			return
		}
		respondEngineFailure(c, err)
		return
	}

	startStream()
	if err != nil {
		c.SSEvent("error", gin.H{"error": err.Error()})
	} else {
		c.SSEvent("complete", gin.H{"status": "Pull completed successfully", "image": req.Image})
	}
	c.Writer.Flush()
}

// SearchImages handles GET /api/images/search
// Query parameters:
//   - term: string (required)
//   - limit: integer (default 25, capped at 100)
func (h *ImageHandler) SearchImages(c *gin.Context) {
	term := c.Query("term")
	results, err := h.imageService.Search(c.Request.Context(), term, queryInt(c, "limit", service.DefaultSearchLimit))
	if err != nil {
		respondError(c, "Failed to search images", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
		"term":    term,
	})
}

// RemoveImage handles DELETE /api/images/:id
func (h *ImageHandler) RemoveImage(c *gin.Context) {
	if err := h.imageService.Delete(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		respondEngineFailure(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

type bulkImageRequest struct {
	ImageIDs []string `json:"imageIds"`
}

// BulkRemoveImages handles POST /api/images/bulk
// Body: {"imageIds": [...]}
func (h *ImageHandler) BulkRemoveImages(c *gin.Context) {
	var req bulkImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid request body",
			"detail": err.Error(),
		})
		return
	}

	result, err := h.imageService.BulkDelete(c.Request.Context(), req.ImageIDs, userID(c))
	if err != nil {
		respondError(c, "Bulk operation failed", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// PruneImages handles POST /api/images/prune
// Query parameters:
//   - all: boolean (remove every unused image, not only dangling ones)
func (h *ImageHandler) PruneImages(c *gin.Context) {
	result, err := h.imageService.Prune(c.Request.Context(), c.Query("all") == "true", userID(c))
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
