// Package terminal bridges a browser WebSocket to an interactive shell running
// inside a container or on the host.
package terminal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"nfcunha/vpsmanager/core/auth"
	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/apperr"
	"nfcunha/vpsmanager/utils/docker"
	"nfcunha/vpsmanager/utils/metrics"

	"github.com/gorilla/websocket"
)

const (
	// HostTarget is the containerId value that selects the host shell.
	HostTarget = "host"

	// HostResource is the audit resource recorded for host sessions.
	HostResource = "HOST_VPS"

	// SessionToken tells the bridge to read the token from the session cookie.
	SessionToken = "session"

	// CloseUnauthorized is sent when authorization fails.
	CloseUnauthorized = websocket.ClosePolicyViolation

	// CloseAttachFailed is sent when the shell could not be started.
	CloseAttachFailed = websocket.CloseInternalServerErr

	readBufferSize = 32 * 1024
	controlTimeout = 5 * time.Second
)

// State is the lifecycle phase of one bridge connection.
type State int

const (
	StatePendingAuth State = iota
	StateAttaching
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePendingAuth:
		return "PENDING_AUTH"
	case StateAttaching:
		return "ATTACHING"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Conn is the browser side of a session. *websocket.Conn implements it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// TokenVerifier validates session tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Execer starts attached exec sessions inside containers.
type Execer interface {
	Exec(ctx context.Context, id string, cmd []string, tty bool) (io.ReadWriteCloser, error)
}

// ShellSpawner starts an interactive shell on the host.
type ShellSpawner interface {
	Spawn(ctx context.Context) (io.ReadWriteCloser, error)
}

// AuditRecorder writes best-effort audit records.
type AuditRecorder interface {
	Record(ctx context.Context, action models.AuditAction, resource string, details any, userID string)
}

// Request carries the connection parameters read during the upgrade.
type Request struct {
	Token       string
	ContainerID string
}

// RequestFromHTTP reads token and containerId from the query string. The
// shorthand token "session" is replaced by the value of the session cookie.
func RequestFromHTTP(r *http.Request, cookieName string) Request {
	q := r.URL.Query()
	req := Request{Token: q.Get("token"), ContainerID: q.Get("containerId")}
	if req.Token == SessionToken {
		req.Token = ""
		if cookie, err := r.Cookie(cookieName); err == nil {
			req.Token = cookie.Value
		}
	}
	return req
}

// Config configures the bridge.
type Config struct {
	// AdminRole is the only role allowed to open a terminal.
	AdminRole string

	// ContainerShell is executed inside containers. Default: /bin/sh.
	ContainerShell string
}

// Bridge authorizes terminal connections and relays bytes between the
// browser and the shell.
type Bridge struct {
	verifier TokenVerifier
	engine   Execer
	spawner  ShellSpawner
	audit    AuditRecorder
	metrics  *metrics.Metrics
	config   Config
	logger   *slog.Logger
}

// NewBridge creates a new terminal bridge.
func NewBridge(verifier TokenVerifier, engine Execer, spawner ShellSpawner, audit AuditRecorder, m *metrics.Metrics, config Config) *Bridge {
	if config.AdminRole == "" {
		config.AdminRole = "ADMIN"
	}
	if config.ContainerShell == "" {
		config.ContainerShell = "/bin/sh"
	}
	return &Bridge{
		verifier: verifier,
		engine:   engine,
		spawner:  spawner,
		audit:    audit,
		metrics:  m,
		config:   config,
		logger:   slog.Default().With("component", "terminal"),
	}
}

// Authorize checks the request parameters and the caller's role.
func (b *Bridge) Authorize(req Request) (*auth.Claims, error) {
	if req.Token == "" || req.ContainerID == "" {
		return nil, &apperr.UnauthorizedError{Reason: "token or containerId missing"}
	}
	claims, err := b.verifier.Verify(req.Token)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireRole(claims, b.config.AdminRole); err != nil {
		return nil, err
	}
	return claims, nil
}

// session tracks the state of one connection.
type session struct {
	mu     sync.Mutex
	state  State
	target string
	logger *slog.Logger
}

func (s *session) transition(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.logger.Debug("terminal state changed", "from", prev.String(), "to", next.String())
}

// Serve runs one connection through PENDING_AUTH, ATTACHING, STREAMING and
// CLOSED. It returns when either side has closed; conn is closed on return.
func (b *Bridge) Serve(ctx context.Context, conn Conn, req Request) State {
	target := "container"
	resource := req.ContainerID
	if req.ContainerID == HostTarget {
		target = HostTarget
		resource = HostResource
	}
	s := &session{
		state:  StatePendingAuth,
		target: target,
		logger: b.logger.With("target", target, "container", short(req.ContainerID)),
	}

	claims, err := b.Authorize(req)
	if err != nil {
		s.logger.Warn("terminal connection rejected", "error", err)
		b.metrics.ObserveTerminal(target, "rejected")
		closeWith(conn, CloseUnauthorized, "Unauthorized: admin only")
		s.transition(StateClosed)
		return StateClosed
	}

	s.transition(StateAttaching)
	b.audit.Record(ctx, models.ActionTerminalOpen, resource, map[string]string{"username": claims.Username}, claims.ID)

	stream, err := b.attach(ctx, req.ContainerID)
	if err != nil {
		s.logger.Error("failed to start terminal", "error", err)
		b.metrics.ObserveTerminal(target, "failed")
		closeWith(conn, CloseAttachFailed, "Failed to connect to container")
		s.transition(StateClosed)
		return StateClosed
	}

	b.metrics.ObserveTerminal(target, "opened")
	b.metrics.TerminalOpened()
	defer b.metrics.TerminalClosed()

	s.transition(StateStreaming)
	s.logger.Info("terminal opened", "username", claims.Username)

	b.relay(ctx, conn, stream)

	s.transition(StateClosed)
	s.logger.Info("terminal closed", "username", claims.Username)
	return StateClosed
}

func (b *Bridge) attach(ctx context.Context, containerID string) (io.ReadWriteCloser, error) {
	if containerID == HostTarget {
		if b.spawner == nil {
			return nil, errors.New("host shell is not available")
		}
		return b.spawner.Spawn(ctx)
	}
	return b.engine.Exec(ctx, containerID, []string{b.config.ContainerShell}, true)
}

// relay copies shell output to the socket and socket messages to the shell
// until either direction ends. Each side's end tears down the other.
func (b *Bridge) relay(ctx context.Context, conn Conn, stream io.ReadWriteCloser) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	// shell -> browser
	go func() {
		defer wg.Done()
		defer cancel()

		buf := make([]byte, readBufferSize)
		var pending []byte
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				var out []byte
				out, pending = splitUTF8(append(pending, buf[:n]...))
				if len(out) > 0 {
					if werr := conn.WriteMessage(websocket.TextMessage, out); werr != nil {
						return
					}
				}
			}
			if err != nil {
				if len(pending) > 0 {
					_ = conn.WriteMessage(websocket.TextMessage, pending)
				}
				if !errors.Is(err, io.EOF) {
					b.logger.Debug("terminal stream read ended", "error", err)
				}
				return
			}
		}
	}()

	// browser -> shell
	go func() {
		defer wg.Done()
		defer cancel()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if _, err := stream.Write(data); err != nil {
				b.logger.Debug("terminal stream write failed", "error", err)
				return
			}
		}
	}()

	<-ctx.Done()

	// Closing both ends unblocks whichever goroutine is still reading.
	_ = stream.Close()
	closeWith(conn, websocket.CloseNormalClosure, "")
	wg.Wait()
}

// splitUTF8 returns the longest prefix of p ending on a rune boundary and
// the incomplete trailing bytes, so text frames never carry split runes.
func splitUTF8(p []byte) ([]byte, []byte) {
	end := len(p)
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				end = i
			}
			break
		}
	}
	out := p[:end]
	rest := append([]byte(nil), p[end:]...)
	return out, rest
}

func closeWith(conn Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout))
	_ = conn.Close()
}

// short returns a log-friendly container id.
func short(id string) string {
	if id == HostTarget {
		return id
	}
	return docker.ShortID(id)
}
