package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nfcunha/vpsmanager/core/auth"
	"nfcunha/vpsmanager/core/cache"
	"nfcunha/vpsmanager/core/repository"
	"nfcunha/vpsmanager/core/service"
	"nfcunha/vpsmanager/core/terminal"
	"nfcunha/vpsmanager/database"
	"nfcunha/vpsmanager/handler"
	"nfcunha/vpsmanager/utils/config"
	"nfcunha/vpsmanager/utils/docker"
	"nfcunha/vpsmanager/utils/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	logger := slog.Default()
	logger.Info("starting VPS manager", "mode", cfg.Server.Mode)

	// Initialize database
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database", "error", err)
		}
	}()

	// Initialize Docker client
	dockerClient, err := docker.NewClient(cfg.Docker.Host)
	if err != nil {
		return err
	}
	defer dockerClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), cfg.Docker.Timeout)
	if err := dockerClient.Ping(pingCtx); err != nil {
		logger.Warn("docker daemon is not reachable yet", "error", err)
	} else {
		logger.Info("docker client initialized")
	}
	cancelPing()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Cache
	c := cache.New(cacheConfig(cfg.Cache), cache.WithMetrics(m), cache.WithLogger(logger))
	c.Start()
	defer c.Stop()

	// Create repository instances
	auditRepo := repository.NewAuditLogRepository(db.DB)
	metricRepo := repository.NewContainerMetricRepository(db.DB)
	alertRepo := repository.NewAlertRepository(db.DB)
	userRepo := repository.NewUserRepository(db.DB)

	// Create service instances
	auditor := service.NewAuditor(auditRepo, m)
	runner := service.ExecRunner{}
	hostRoot := cfg.Scanner.HostRoot

	containerService := service.NewContainerService(dockerClient, c, auditor, metricRepo, m, hostRoot)
	logService := service.NewLogService(dockerClient, c, auditor, hostRoot)
	imageService := service.NewImageService(dockerClient, c, auditor)
	volumeService := service.NewVolumeService(dockerClient, c, auditor)
	scanner := service.NewScanner(dockerClient, runner, c, auditor, service.ScannerConfig{
		HostRoot:     hostRoot,
		Paths:        cfg.Scanner.Paths,
		ExploreLimit: cfg.Scanner.ExploreLimit,
	})
	projectService := service.NewProjectService(dockerClient, runner, c, auditor, service.ProjectsConfig{
		HostRoot: hostRoot,
		BasePath: cfg.Projects.BasePath,
		MaxDepth: cfg.Projects.MaxDepth,
	})

	notifier := service.NewDiscordNotifier(cfg.Notifications.DiscordWebhookURL, cfg.Notifications.RatePerMinute)
	relay := service.NewEventRelay(dockerClient, alertRepo, notifier, m, service.DefaultHeartbeat)

	// Background workers
	backgroundSync := service.NewBackgroundSync([]service.SyncTarget{
		{Name: cache.KeyContainers, Refresher: containerService},
		{Name: cache.KeyImages, Refresher: imageService},
		{Name: cache.KeyVolumes, Refresher: volumeService},
		{Name: cache.KeyDiskScan, Refresher: scanner},
		{Name: cache.KeyProjects, Refresher: projectService},
	}, cfg.Sync.Interval, m, logger)
	if cfg.Sync.Enabled {
		backgroundSync.Start()
	}
	defer backgroundSync.Stop()

	collector := service.NewMetricCollector(dockerClient, metricRepo, alertRepo, notifier, service.CollectorConfig{
		Interval:        cfg.Metrics.Interval,
		Retention:       cfg.Metrics.Retention,
		CPUThreshold:    cfg.Metrics.CPUThreshold,
		MemoryThreshold: cfg.Metrics.MemoryThreshold,
	}, m, logger)
	if cfg.Metrics.Enabled {
		collector.Start()
	}
	defer collector.Stop()

	if cfg.Projects.Watch {
		watcher, err := service.NewProjectWatcher(cfg.Projects.BasePath, cfg.Projects.MaxDepth, c)
		if err != nil {
			logger.Warn("project watcher disabled", "error", err)
		} else if err := watcher.Start(); err != nil {
			logger.Warn("project watcher disabled", "path", cfg.Projects.BasePath, "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	healthService := service.NewHealthService(db, dockerClient, c, backgroundSync)

	// Auth
	issuer := auth.NewIssuer(jwtSecret(cfg, logger), cfg.Auth.TokenTTL)
	authenticator := auth.NewAuthenticator(userRepo, issuer)

	bridge := terminal.NewBridge(issuer, dockerClient, terminal.NewPTYSpawner(cfg.Terminal.HostShell), auditor, m, terminal.Config{
		AdminRole:      cfg.Auth.AdminRole,
		ContainerShell: cfg.Terminal.ContainerShell,
	})

	// Set Gin mode
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.Server.Mode != "release" {
		engine.Use(gin.Logger())
	}

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	registerRoutes(engine, routeHandlers{
		auth: handler.NewAuthHandler(authenticator, handler.CookieConfig{
			Name:   cfg.Auth.CookieName,
			MaxAge: cfg.Auth.TokenTTL,
			Secure: cfg.Server.Mode == "release",
		}),
		containers: handler.NewContainerHandler(containerService),
		logs:       handler.NewLogHandler(logService, cfg.Server.AllowedOrigins),
		images:     handler.NewImageHandler(imageService),
		volumes:    handler.NewVolumeHandler(volumeService),
		projects:   handler.NewProjectHandler(projectService),
		system:     handler.NewSystemHandler(scanner, collector, relay),
		sync:       handler.NewSyncHandler(backgroundSync),
		health:     handler.NewHealthHandler(healthService),
		audit:      handler.NewAuditHandler(auditRepo, alertRepo),
		terminal:   handler.NewTerminalHandler(bridge, cfg.Auth.CookieName, cfg.Server.AllowedOrigins),
		metrics:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, handler.RequireAuth(issuer, cfg.Auth.CookieName))

	// Long-lived streams (SSE, terminal) derive from baseCtx so shutdown can
	// end them instead of waiting for the client.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		return err
	}

	cancelBase()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// cacheConfig maps the configured TTLs onto the cache keys.
func cacheConfig(cfg config.CacheConfig) cache.Config {
	out := cache.DefaultConfig()
	out.Enabled = cfg.Enabled
	if cfg.SweepInterval > 0 {
		out.SweepInterval = cfg.SweepInterval
	}
	for key, ttl := range map[string]time.Duration{
		cache.KeyContainers: cfg.TTL.Containers,
		cache.KeyImages:     cfg.TTL.Images,
		cache.KeyVolumes:    cfg.TTL.Volumes,
		cache.KeyDiskScan:   cfg.TTL.DiskScan,
		cache.KeyProjects:   cfg.TTL.Projects,
	} {
		if ttl > 0 {
			out.TTL[key] = ttl
		}
	}
	return out
}

// jwtSecret returns the configured secret. Debug mode without one gets a
// random per-process secret, so sessions do not survive a restart.
func jwtSecret(cfg *config.Config, logger *slog.Logger) string {
	if cfg.Auth.JWTSecret != "" {
		return cfg.Auth.JWTSecret
	}
	logger.Warn("auth.jwt_secret is not set; using a random secret for this process")
	return uuid.NewString() + uuid.NewString()
}
