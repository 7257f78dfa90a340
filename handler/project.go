package handler

import (
	"context"
	"net/http"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/core/service"
	"nfcunha/vpsmanager/utils/apperr"

	"github.com/gin-gonic/gin"
)

// defaultProjectLogTail is the project log length when no tail is given.
const defaultProjectLogTail = 200

// ProjectService is the compose surface used by ProjectHandler.
type ProjectService interface {
	FindAll(ctx context.Context) ([]models.Project, error)
	Execute(ctx context.Context, path string, action service.ProjectAction, userID string) (*service.CommandResult, error)
	Logs(ctx context.Context, path string, tail int) (string, error)
	Config(ctx context.Context, path string) (*service.ProjectConfig, error)
}

// ProjectHandler handles compose project requests.
type ProjectHandler struct {
	projectService ProjectService
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(projectService ProjectService) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
	}
}

// ListProjects handles GET /api/projects
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	projects, err := h.projectService.FindAll(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list projects", err)
		return
	}

	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.JSON(http.StatusOK, projects)
}

type projectActionRequest struct {
	Path   string `json:"path"`
	Action string `json:"action"`
}

// ProjectAction handles POST /api/projects/action
// Body: {"path": "/home/app/docker-compose.yml", "action": "up" | "down" | "restart" | "pull"}
func (h *ProjectHandler) ProjectAction(c *gin.Context) {
	var req projectActionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" || req.Action == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Path and action are required"})
		return
	}

	result, err := h.projectService.Execute(c.Request.Context(), req.Path, service.ProjectAction(req.Action), userID(c))
	if err != nil {
		body := gin.H{
			"error":  "Failed to run compose action",
			"detail": err.Error(),
		}
		if result != nil {
			body["output"] = result.Stderr
		}
		c.JSON(apperr.HTTPStatus(err), body)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetProjectLogs handles GET /api/projects/logs
// Query parameters:
//   - path: string (compose file path, required)
//   - tail: integer (number of lines, default 200)
func (h *ProjectHandler) GetProjectLogs(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Project path is required"})
		return
	}
	tail := service.ParseTail(c.Query("tail"), defaultProjectLogTail)

	logs, err := h.projectService.Logs(c.Request.Context(), path, tail)
	if err != nil {
		respondError(c, "Failed to load project logs", err)
		return
	}

	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// GetProjectConfig handles GET /api/projects/config
// Query parameters:
//   - path: string (compose file path, required)
func (h *ProjectHandler) GetProjectConfig(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Project path is required"})
		return
	}

	cfg, err := h.projectService.Config(c.Request.Context(), path)
	if err != nil {
		respondError(c, "Failed to read project config", err)
		return
	}

	c.JSON(http.StatusOK, cfg)
}
