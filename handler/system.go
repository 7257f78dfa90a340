package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/core/service"

	"github.com/gin-gonic/gin"
)

// DiskScanner is the disk usage surface used by SystemHandler.
type DiskScanner interface {
	Scan(ctx context.Context) ([]models.DiskUsage, error)
	Explore(ctx context.Context, dir string) ([]models.DiskUsage, error)
	Prune(ctx context.Context, target, userID string) (*service.PruneResult, error)
}

// SummaryProvider returns the latest dashboard totals.
type SummaryProvider interface {
	Summary() service.DashboardSummary
}

// EventStreamer relays Engine events to one client.
type EventStreamer interface {
	Stream(ctx context.Context, sink service.EventSink) error
}

// SystemHandler handles host-level requests: disk usage, pruning, the
// dashboard summary and the event stream.
type SystemHandler struct {
	scanner DiskScanner
	summary SummaryProvider
	events  EventStreamer
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(scanner DiskScanner, summary SummaryProvider, events EventStreamer) *SystemHandler {
	return &SystemHandler{
		scanner: scanner,
		summary: summary,
		events:  events,
	}
}

// ScanDisk handles GET /api/system/scan
func (h *SystemHandler) ScanDisk(c *gin.Context) {
	usage, err := h.scanner.Scan(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to scan disk usage", err)
		return
	}

	c.JSON(http.StatusOK, usage)
}

// Explore handles GET /api/system/explore
// Query parameters:
//   - path: string (absolute host directory, required)
func (h *SystemHandler) Explore(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Path is required"})
		return
	}

	entries, err := h.scanner.Explore(c.Request.Context(), path)
	if err != nil {
		respondError(c, "Failed to explore directory", err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

type pruneRequest struct {
	Target string `json:"target"`
}

// Prune handles POST /api/system/prune
// Body (optional): {"target": "build-cache" | "system"}
func (h *SystemHandler) Prune(c *gin.Context) {
	var req pruneRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid request body",
			"detail": err.Error(),
		})
		return
	}

	result, err := h.scanner.Prune(c.Request.Context(), req.Target, userID(c))
	if err != nil {
		respondError(c, "Failed to prune", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"target":             result.Target,
		"spaceReclaimed":     result.SpaceReclaimed,
		"formattedReclaimed": result.FormattedReclaimed,
	})
}

// GetSummary handles GET /api/system/summary
func (h *SystemHandler) GetSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.summary.Summary())
}

// StreamEvents handles GET /api/system/events
// Server-Sent Events: each Engine event is one "data: <json>" frame and a
// ": heartbeat" comment keeps idle connections open.
func (h *SystemHandler) StreamEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sink := &sseSink{w: c.Writer}
	if err := h.events.Stream(c.Request.Context(), sink); err != nil {
		slog.Warn("event stream ended", "error", err)
	}
}

// sseSink frames relayed events for an SSE response.
type sseSink struct {
	w gin.ResponseWriter
}

func (s *sseSink) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func (s *sseSink) Heartbeat() error {
	if _, err := io.WriteString(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}
