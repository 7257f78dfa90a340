package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"nfcunha/vpsmanager/core/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const logWriteTimeout = 10 * time.Second

// LogService is the log surface used by LogHandler.
type LogService interface {
	Tail(ctx context.Context, id string, n int) (string, error)
	Clear(ctx context.Context, id, userID string) error
	Archive(ctx context.Context, id string, w io.Writer) error
	Follow(ctx context.Context, id string, n int, w io.Writer) error
}

// LogHandler handles container log requests.
type LogHandler struct {
	logService LogService
	upgrader   websocket.Upgrader
}

// NewLogHandler creates a new log handler. Live log sockets accept the same
// origins as the terminal.
func NewLogHandler(logService LogService, allowedOrigins []string) *LogHandler {
	return &LogHandler{
		logService: logService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// GetLogs handles GET /api/containers/:id/logs
// Query parameters:
//   - tail: integer (number of lines, default 100, capped at 5000)
func (h *LogHandler) GetLogs(c *gin.Context) {
	tail := service.ParseTail(c.Query("tail"), service.DefaultLogTail)

	logs, err := h.logService.Tail(c.Request.Context(), c.Param("id"), tail)
	if err != nil {
		respondError(c, "Failed to get container logs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// StreamLogs handles GET /api/containers/:id/logs/stream (WebSocket)
// Query parameters:
//   - tail: integer (lines of history before following, default 100)
//
// Each chunk of container output is one text message. The stream ends when
// the container stops or the client goes away.
func (h *LogHandler) StreamLogs(c *gin.Context) {
	id := c.Param("id")
	tail := service.ParseTail(c.Query("tail"), service.DefaultLogTail)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("failed to upgrade log stream", "error", err)
		return
	}
	defer conn.Close()

	writer := &websocketWriter{conn: conn}
	if _, err := io.WriteString(writer, "Connected to log stream\n"); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The reader only watches for the client closing the socket.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.logService.Follow(ctx, id, tail, writer); err != nil {
		slog.Warn("log stream ended", "id", id, "error", err)
		_, _ = fmt.Fprintf(writer, "\nError: %v\n", err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
		time.Now().Add(time.Second))
}

// websocketWriter sends every Write as one text message.
type websocketWriter struct {
	conn *websocket.Conn
}

func (w *websocketWriter) Write(p []byte) (int, error) {
	_ = w.conn.SetWriteDeadline(time.Now().Add(logWriteTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ClearLogs handles POST /api/containers/:id/logs
func (h *LogHandler) ClearLogs(c *gin.Context) {
	h.clear(c, c.Param("id"))
}

type containerCommand struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// ContainerCommand handles POST /api/containers
// Body: {"action": "clear-logs", "id": "..."}
func (h *LogHandler) ContainerCommand(c *gin.Context) {
	var req containerCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid request body",
			"detail": err.Error(),
		})
		return
	}
	if req.Action != "clear-logs" || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
		return
	}

	h.clear(c, req.ID)
}

func (h *LogHandler) clear(c *gin.Context, id string) {
	if err := h.logService.Clear(c.Request.Context(), id, userID(c)); err != nil {
		if errors.Is(err, service.ErrNoLogPath) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "Container has no log file",
				"detail": err.Error(),
			})
			return
		}
		respondError(c, "Failed to clear container logs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DownloadLogs handles GET /api/containers/:id/logs/download
// Returns a ZIP archive holding the full container log.
func (h *LogHandler) DownloadLogs(c *gin.Context) {
	id := c.Param("id")

	var buf bytes.Buffer
	if err := h.logService.Archive(c.Request.Context(), id, &buf); err != nil {
		respondError(c, "Failed to archive container logs", err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+service.ArchiveName(id)+`"`)
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}
