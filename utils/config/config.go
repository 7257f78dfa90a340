// Package config handles file and environment based configuration for the VPS manager.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (VPSM_SERVER_PORT, ...).
const EnvPrefix = "VPSM"

// Config represents the complete server configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Docker        DockerConfig        `mapstructure:"docker"`
	Log           LogConfig           `mapstructure:"log"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Projects      ProjectsConfig      `mapstructure:"projects"`
	Scanner       ScannerConfig       `mapstructure:"scanner"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Terminal      TerminalConfig      `mapstructure:"terminal"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" or "release"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Address returns the listen address in host:port form.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DockerConfig contains Docker daemon settings.
type DockerConfig struct {
	Host    string        `mapstructure:"host"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig contains session token settings.
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	CookieName string        `mapstructure:"cookie_name"`
	AdminRole  string        `mapstructure:"admin_role"`
}

// CacheConfig contains TTL cache settings.
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	TTL           CacheTTL      `mapstructure:"ttl"`
}

// CacheTTL holds the lifetime of each cached resource kind.
type CacheTTL struct {
	Containers time.Duration `mapstructure:"containers"`
	Images     time.Duration `mapstructure:"images"`
	Volumes    time.Duration `mapstructure:"volumes"`
	DiskScan   time.Duration `mapstructure:"disk_scan"`
	Projects   time.Duration `mapstructure:"projects"`
}

// SyncConfig contains background cache refresh settings.
type SyncConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// MetricsConfig contains container sample collection settings.
type MetricsConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
	// Percent thresholds that raise a WARNING alert. 0 disables the check.
	CPUThreshold    float64 `mapstructure:"cpu_threshold"`
	MemoryThreshold float64 `mapstructure:"memory_threshold"`
}

// ProjectsConfig contains compose project discovery settings.
type ProjectsConfig struct {
	BasePath string `mapstructure:"base_path"`
	MaxDepth int    `mapstructure:"max_depth"`
	Watch    bool   `mapstructure:"watch"`
}

// ScannerConfig contains disk usage scan settings.
type ScannerConfig struct {
	HostRoot     string   `mapstructure:"host_root"`
	Paths        []string `mapstructure:"paths"`
	ExploreLimit int      `mapstructure:"explore_limit"`
}

// NotificationsConfig contains alert dispatch settings.
type NotificationsConfig struct {
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
	RatePerMinute     int    `mapstructure:"rate_per_minute"`
}

// TerminalConfig contains interactive shell settings.
type TerminalConfig struct {
	ContainerShell string `mapstructure:"container_shell"`
	HostShell      string `mapstructure:"host_shell"`
}

// Load reads configuration from an optional file and from environment
// variables. Every key can be overridden with the VPSM_ prefix, dots replaced
// by underscores:
//   - VPSM_SERVER_PORT (default: 8080)
//   - VPSM_SERVER_MODE (default: "debug")
//   - VPSM_DATABASE_PATH (default: "/app/data/vpsmanager.db" or "./vpsmanager.db")
//   - VPSM_AUTH_JWT_SECRET (required in release mode)
//   - VPSM_CACHE_ENABLED (default: true)
//   - VPSM_SYNC_INTERVAL (default: "60s")
//   - VPSM_METRICS_INTERVAL (default: "60s")
//   - VPSM_PROJECTS_BASE_PATH (default: "/hostfs/home")
//   - VPSM_NOTIFICATIONS_DISCORD_WEBHOOK_URL (default: "")
//
// Returns an error if the file cannot be parsed or validation fails.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s") // SSE and WebSocket responses are long-lived
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.path", defaultDBPath())

	v.SetDefault("docker.host", "")
	v.SetDefault("docker.timeout", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.cookie_name", "auth_token")
	v.SetDefault("auth.admin_role", "ADMIN")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.sweep_interval", "60s")
	v.SetDefault("cache.ttl.containers", "30s")
	v.SetDefault("cache.ttl.images", "60s")
	v.SetDefault("cache.ttl.volumes", "30s")
	v.SetDefault("cache.ttl.disk_scan", "300s")
	v.SetDefault("cache.ttl.projects", "30s")

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.interval", "60s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.interval", "60s")
	v.SetDefault("metrics.retention", "24h")
	v.SetDefault("metrics.cpu_threshold", 90.0)
	v.SetDefault("metrics.memory_threshold", 90.0)

	v.SetDefault("projects.base_path", "/hostfs/home")
	v.SetDefault("projects.max_depth", 3)
	v.SetDefault("projects.watch", true)

	v.SetDefault("scanner.host_root", "/hostfs")
	v.SetDefault("scanner.paths", []string{
		"/var/log",
		"/var/log/journal",
		"/var/cache/apt",
		"/var/lib/apt/lists",
		"/tmp",
		"/var/lib/docker/volumes",
		"/var/lib/docker/overlay2",
		"/home",
	})
	v.SetDefault("scanner.explore_limit", 50)

	v.SetDefault("notifications.discord_webhook_url", "")
	v.SetDefault("notifications.rate_per_minute", 30)

	v.SetDefault("terminal.container_shell", "/bin/sh")
	v.SetDefault("terminal.host_shell", "/bin/bash")
}

// validate checks if the configuration is valid.
func validate(cfg *Config) error {
	if cfg.Server.Mode != "debug" && cfg.Server.Mode != "release" {
		return fmt.Errorf("server mode must be debug or release, got %q", cfg.Server.Mode)
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return errors.New("server port must be between 1 and 65535")
	}
	if cfg.Server.Mode == "release" && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required in release mode")
	}
	if cfg.Auth.TokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Log.Format)
	}

	if cfg.Cache.SweepInterval < time.Second {
		return errors.New("cache sweep interval must be at least 1 second")
	}
	ttl := cfg.Cache.TTL
	if ttl.Containers <= 0 || ttl.Images <= 0 || ttl.Volumes <= 0 || ttl.DiskScan <= 0 || ttl.Projects <= 0 {
		return errors.New("cache ttl values must be positive")
	}
	if cfg.Sync.Interval < time.Second {
		return errors.New("sync interval must be at least 1 second")
	}
	if cfg.Metrics.Interval < time.Second {
		return errors.New("metrics interval must be at least 1 second")
	}
	if cfg.Metrics.Retention < time.Minute {
		return errors.New("metrics retention must be at least 1 minute")
	}
	if cfg.Metrics.CPUThreshold < 0 || cfg.Metrics.MemoryThreshold < 0 || cfg.Metrics.MemoryThreshold > 100 {
		return errors.New("metrics thresholds must be non-negative and memory at most 100")
	}
	if cfg.Projects.MaxDepth < 1 {
		return errors.New("projects max depth must be at least 1")
	}
	if cfg.Scanner.ExploreLimit < 1 {
		return errors.New("scanner explore limit must be at least 1")
	}

	return nil
}

// defaultDBPath picks the container data volume when present.
func defaultDBPath() string {
	if _, err := os.Stat("/app/data"); err == nil {
		return "/app/data/vpsmanager.db"
	}
	return "./vpsmanager.db"
}
