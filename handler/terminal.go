package handler

import (
	"context"
	"log/slog"

	"nfcunha/vpsmanager/core/terminal"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// TerminalServer runs one terminal session over an upgraded connection.
type TerminalServer interface {
	Serve(ctx context.Context, conn terminal.Conn, req terminal.Request) terminal.State
}

// TerminalHandler upgrades browser connections to interactive shells.
type TerminalHandler struct {
	bridge     TerminalServer
	cookieName string
	upgrader   websocket.Upgrader
}

// NewTerminalHandler creates a new terminal handler. cookieName is the
// session cookie consulted when the client passes token=session. Browser
// upgrades are accepted only from the same host or allowedOrigins, since the
// cookie would otherwise ride along on a cross-site socket.
func NewTerminalHandler(bridge TerminalServer, cookieName string, allowedOrigins []string) *TerminalHandler {
	return &TerminalHandler{
		bridge:     bridge,
		cookieName: cookieName,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// Connect handles GET /api/terminal (WebSocket upgrade)
// Query parameters:
//   - token: string (session token, or "session" to use the cookie)
//   - containerId: string (container id, or "host" for the host shell)
//
// Authorization happens after the upgrade so a rejected client receives a
// close frame with code 1008 rather than an HTTP error.
func (h *TerminalHandler) Connect(c *gin.Context) {
	req := terminal.RequestFromHTTP(c.Request, h.cookieName)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("failed to upgrade terminal connection", "error", err)
		return
	}

	h.bridge.Serve(c.Request.Context(), conn, req)
}
