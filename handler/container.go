package handler

import (
	"context"
	"net/http"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/core/service"
	"nfcunha/vpsmanager/utils/statsutil"

	"github.com/gin-gonic/gin"
)

// ContainerService is the container surface used by ContainerHandler.
type ContainerService interface {
	FindAll(ctx context.Context) ([]models.Container, error)
	Get(ctx context.Context, id string) (*models.ContainerDetail, error)
	Action(ctx context.Context, id string, action service.ContainerAction, userID string) error
	Bulk(ctx context.Context, action service.ContainerAction, ids []string, userID string) (*service.BulkResult, error)
	Stats(ctx context.Context, id string) (*statsutil.Usage, error)
	Metrics(ctx context.Context, id string, limit int) ([]service.MetricPoint, error)
}

// ContainerHandler handles container-related HTTP requests.
type ContainerHandler struct {
	containerService ContainerService
}

// NewContainerHandler creates a new container handler.
func NewContainerHandler(containerService ContainerService) *ContainerHandler {
	return &ContainerHandler{
		containerService: containerService,
	}
}

// noStore marks a response as never cacheable by the browser or a proxy.
func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
}

// ListContainers handles GET /api/containers
func (h *ContainerHandler) ListContainers(c *gin.Context) {
	containers, err := h.containerService.FindAll(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list containers", err)
		return
	}

	noStore(c)
	c.JSON(http.StatusOK, containers)
}

// GetContainer handles GET /api/containers/:id
func (h *ContainerHandler) GetContainer(c *gin.Context) {
	detail, err := h.containerService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to inspect container", err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

type actionRequest struct {
	Action string `json:"action"`
}

// ContainerAction handles POST /api/containers/:id
// Body: {"action": "start" | "stop" | "restart" | "delete" | "pause" | "unpause"}
func (h *ContainerHandler) ContainerAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid request body",
			"detail": err.Error(),
		})
		return
	}

	action, err := service.ParseContainerAction(req.Action)
	if err != nil {
		respondEngineFailure(c, err)
		return
	}

	if err := h.containerService.Action(c.Request.Context(), c.Param("id"), action, userID(c)); err != nil {
		respondEngineFailure(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

type bulkRequest struct {
	Action       string   `json:"action"`
	ContainerIDs []string `json:"containerIds"`
}

// BulkAction handles POST /api/containers/bulk
// Body: {"action": "start" | "stop" | "restart", "containerIds": [...]}
// Individual failures are reported per id; the request itself succeeds.
func (h *ContainerHandler) BulkAction(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid request body",
			"detail": err.Error(),
		})
		return
	}

	action, err := service.ParseBulkAction(req.Action)
	if err != nil {
		respondError(c, "Invalid action", err)
		return
	}

	result, err := h.containerService.Bulk(c.Request.Context(), action, req.ContainerIDs, userID(c))
	if err != nil {
		respondError(c, "Bulk operation failed", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetStats handles GET /api/containers/:id/stats
func (h *ContainerHandler) GetStats(c *gin.Context) {
	usage, err := h.containerService.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to get container stats", err)
		return
	}

	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.JSON(http.StatusOK, usage)
}

// GetMetrics handles GET /api/containers/:id/metrics
// Query parameters:
//   - limit: integer (number of samples, default 20)
func (h *ContainerHandler) GetMetrics(c *gin.Context) {
	limit := queryInt(c, "limit", service.DefaultMetricLimit)

	points, err := h.containerService.Metrics(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, "Failed to get container metrics", err)
		return
	}

	c.JSON(http.StatusOK, points)
}
