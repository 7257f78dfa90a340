package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"nfcunha/vpsmanager/core/cache"
	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/docker"
)

// Tail limits applied to log reads.
const (
	DefaultLogTail = 100
	MaxLogTail     = 5000
)

// ErrNoLogPath is returned when the Engine reports no log file for a container.
var ErrNoLogPath = errors.New("container log path not found or inaccessible")

// LogService handles container log operations.
type LogService struct {
	engine   docker.Engine
	cache    *cache.Cache
	audit    *Auditor
	hostRoot string
	logger   *slog.Logger
}

// NewLogService creates a new log service.
func NewLogService(engine docker.Engine, c *cache.Cache, audit *Auditor, hostRoot string) *LogService {
	return &LogService{
		engine:   engine,
		cache:    c,
		audit:    audit,
		hostRoot: hostRoot,
		logger:   slog.Default().With("component", "logs"),
	}
}

// ParseTail converts a tail query value into a bounded line count. Empty or
// invalid values fall back to def.
func ParseTail(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	if n > MaxLogTail {
		return MaxLogTail
	}
	return n
}

// Tail returns the last n lines of a container's output.
func (s *LogService) Tail(ctx context.Context, id string, n int) (string, error) {
	logs, err := s.engine.Logs(ctx, id, strconv.Itoa(n))
	if err != nil {
		return "", notFoundOr(err, "container", id)
	}
	return logs, nil
}

// Follow copies a container's output to w, starting n lines back, until ctx
// ends, the container stops or a write to w fails.
func (s *LogService) Follow(ctx context.Context, id string, n int, w io.Writer) error {
	reader, err := s.engine.FollowLogs(ctx, id, strconv.Itoa(n))
	if err != nil {
		return notFoundOr(err, "container", id)
	}
	defer reader.Close()

	// A quiet container never returns from Read on its own.
	stop := context.AfterFunc(ctx, func() { _ = reader.Close() })
	defer stop()

	s.logger.Debug("following container logs", "id", docker.ShortID(id), "tail", n)
	if _, err := io.Copy(w, reader); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Clear truncates the on-disk log file of a container.
func (s *LogService) Clear(ctx context.Context, id, userID string) error {
	info, err := s.engine.InspectContainer(ctx, id)
	if err != nil {
		return notFoundOr(err, "container", id)
	}
	if info.ContainerJSONBase == nil || info.LogPath == "" {
		return ErrNoLogPath
	}

	path := hostPath(s.hostRoot, info.LogPath)
	if err := os.Truncate(path, 0); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", path, err)
	}

	s.audit.Record(ctx, models.ActionClearLogs, id, map[string]string{"action": "clear-container-logs"}, userID)
	s.cache.Invalidate(cache.KeyContainers)

	s.logger.Info("container logs cleared", "id", docker.ShortID(id))
	return nil
}

// Archive writes a ZIP archive holding the full log of a container.
func (s *LogService) Archive(ctx context.Context, id string, w io.Writer) error {
	info, err := s.engine.InspectContainer(ctx, id)
	if err != nil {
		return notFoundOr(err, "container", id)
	}

	logs, err := s.engine.Logs(ctx, id, "all")
	if err != nil {
		return fmt.Errorf("failed to get logs: %w", err)
	}

	name := docker.ShortID(id)
	if info.ContainerJSONBase != nil && info.Name != "" {
		name = strings.TrimPrefix(info.Name, "/")
	}

	zw := zip.NewWriter(w)
	entry, err := zw.Create(fmt.Sprintf("%s_%s.log", name, time.Now().Format("20060102-150405")))
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}
	if _, err := io.WriteString(entry, logs); err != nil {
		return fmt.Errorf("failed to write logs to zip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zip: %w", err)
	}

	s.logger.Debug("log archive created", "container", name, "bytes", len(logs))
	return nil
}

// ArchiveName is the download filename for a container's log archive.
func ArchiveName(id string) string {
	return fmt.Sprintf("container-%s-logs.zip", docker.ShortID(id))
}
