package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Load Tests
// =============================================================================

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Cache.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL.Containers)
	assert.Equal(t, 60*time.Second, cfg.Cache.TTL.Images)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL.Volumes)
	assert.Equal(t, 300*time.Second, cfg.Cache.TTL.DiskScan)

	assert.Equal(t, 60*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 60*time.Second, cfg.Metrics.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Metrics.Retention)
	assert.Equal(t, 90.0, cfg.Metrics.CPUThreshold)
	assert.Equal(t, 90.0, cfg.Metrics.MemoryThreshold)
	assert.Equal(t, 3, cfg.Projects.MaxDepth)
	assert.Equal(t, "auth_token", cfg.Auth.CookieName)
	assert.Equal(t, "ADMIN", cfg.Auth.AdminRole)
	assert.Equal(t, "/bin/sh", cfg.Terminal.ContainerShell)
	assert.NotEmpty(t, cfg.Scanner.Paths)
}

func TestLoad_FromFile(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9000
  mode: release
database:
  path: "/tmp/test.db"
auth:
  jwt_secret: "s3cret"
cache:
  ttl:
    containers: 5s
log:
  level: debug
  format: text
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Second, cfg.Cache.TTL.Containers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("VPSM_SERVER_PORT", "3001")
	t.Setenv("VPSM_DATABASE_PATH", "/custom/path.db")
	t.Setenv("VPSM_CACHE_ENABLED", "false")
	t.Setenv("VPSM_CACHE_TTL_DISK_SCAN", "10m")
	t.Setenv("VPSM_SYNC_INTERVAL", "2m")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.Path)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL.DiskScan)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval)
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestLoad_ReleaseModeRequiresSecret(t *testing.T) {
	t.Setenv("VPSM_SERVER_MODE", "release")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad mode", func(c *Config) { c.Server.Mode = "staging" }, "server mode"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, "log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"zero ttl", func(c *Config) { c.Cache.TTL.Images = 0 }, "ttl"},
		{"fast sync", func(c *Config) { c.Sync.Interval = time.Millisecond }, "sync interval"},
		{"fast metrics", func(c *Config) { c.Metrics.Interval = 0 }, "metrics interval"},
		{"short retention", func(c *Config) { c.Metrics.Retention = time.Second }, "retention"},
		{"memory threshold", func(c *Config) { c.Metrics.MemoryThreshold = 150 }, "thresholds"},
		{"depth", func(c *Config) { c.Projects.MaxDepth = 0 }, "max depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	assert.NoError(t, validate(valid()))
}
