package main

import (
	"net/http"

	"nfcunha/vpsmanager/handler"

	"github.com/gin-gonic/gin"
)

// routeHandlers groups every HTTP handler mounted by the server.
type routeHandlers struct {
	auth       *handler.AuthHandler
	containers *handler.ContainerHandler
	logs       *handler.LogHandler
	images     *handler.ImageHandler
	volumes    *handler.VolumeHandler
	projects   *handler.ProjectHandler
	system     *handler.SystemHandler
	sync       *handler.SyncHandler
	health     *handler.HealthHandler
	audit      *handler.AuditHandler
	terminal   *handler.TerminalHandler
	metrics    http.Handler
}

// registerRoutes mounts the API. Login, health and the terminal upgrade are
// public; the terminal bridge authenticates the socket itself.
func registerRoutes(engine *gin.Engine, h routeHandlers, requireAuth gin.HandlerFunc) {
	if h.metrics != nil {
		engine.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := engine.Group("/api")
	api.POST("/auth/login", h.auth.Login)
	api.GET("/health", h.health.GetHealth)
	api.GET("/terminal", h.terminal.Connect)

	protected := api.Group("", requireAuth)
	{
		protected.POST("/auth/logout", h.auth.Logout)
		protected.GET("/auth/me", h.auth.Me)

		containers := protected.Group("/containers")
		{
			containers.GET("", h.containers.ListContainers)
			containers.POST("", h.logs.ContainerCommand)
			containers.POST("/bulk", h.containers.BulkAction)
			containers.GET("/:id", h.containers.GetContainer)
			containers.POST("/:id", h.containers.ContainerAction)
			containers.GET("/:id/stats", h.containers.GetStats)
			containers.GET("/:id/metrics", h.containers.GetMetrics)
			containers.GET("/:id/logs", h.logs.GetLogs)
			containers.POST("/:id/logs", h.logs.ClearLogs)
			containers.GET("/:id/logs/download", h.logs.DownloadLogs)
			containers.GET("/:id/logs/stream", h.logs.StreamLogs)
		}

		images := protected.Group("/images")
		{
			images.GET("", h.images.ListImages)
			images.GET("/search", h.images.SearchImages)
			images.POST("/pull", h.images.PullImage)
			images.POST("/bulk", h.images.BulkRemoveImages)
			images.POST("/prune", h.images.PruneImages)
			images.GET("/:id", h.images.InspectImage)
			images.DELETE("/:id", h.images.RemoveImage)
		}

		volumes := protected.Group("/volumes")
		{
			volumes.GET("", h.volumes.ListVolumes)
			volumes.POST("", h.volumes.CreateVolume)
			volumes.POST("/prune", h.volumes.PruneVolumes)
			volumes.GET("/:name", h.volumes.InspectVolume)
			volumes.DELETE("/:name", h.volumes.RemoveVolume)
		}

		projects := protected.Group("/projects")
		{
			projects.GET("", h.projects.ListProjects)
			projects.POST("/action", h.projects.ProjectAction)
			projects.GET("/logs", h.projects.GetProjectLogs)
			projects.GET("/config", h.projects.GetProjectConfig)
		}

		system := protected.Group("/system")
		{
			system.GET("/events", h.system.StreamEvents)
			system.GET("/scan", h.system.ScanDisk)
			system.GET("/explore", h.system.Explore)
			system.POST("/prune", h.system.Prune)
			system.GET("/summary", h.system.GetSummary)
		}

		protected.GET("/sync", h.sync.GetStatus)
		protected.POST("/sync", h.sync.Control)

		protected.GET("/audit", h.audit.ListAuditLogs)
		protected.GET("/alerts", h.audit.ListAlerts)
	}
}
