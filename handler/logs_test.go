package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nfcunha/vpsmanager/core/service"
	"nfcunha/vpsmanager/utils/apperr"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLogService struct {
	chunks  []string
	follows chan int
	tail    int
	cleared []string
	users   []string
	err     error
}

func (f *fakeLogService) Tail(ctx context.Context, id string, n int) (string, error) {
	f.tail = n
	return "line 1\nline 2\n", f.err
}

func (f *fakeLogService) Clear(ctx context.Context, id, userID string) error {
	if f.err != nil {
		return f.err
	}
	f.cleared = append(f.cleared, id)
	f.users = append(f.users, userID)
	return nil
}

func (f *fakeLogService) Archive(ctx context.Context, id string, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(w, "PK-archive")
	return err
}

func (f *fakeLogService) Follow(ctx context.Context, id string, n int, w io.Writer) error {
	if f.follows != nil {
		f.follows <- n
	}
	for _, chunk := range f.chunks {
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
	}
	return f.err
}

func setupLogRouter(svc LogService) *gin.Engine {
	h := NewLogHandler(svc, nil)
	r := newRouter(adminClaims)
	r.POST("/api/containers", h.ContainerCommand)
	r.GET("/api/containers/:id/logs", h.GetLogs)
	r.POST("/api/containers/:id/logs", h.ClearLogs)
	r.GET("/api/containers/:id/logs/download", h.DownloadLogs)
	return r
}

func TestGetLogs_Tail(t *testing.T) {
	svc := &fakeLogService{}
	r := setupLogRouter(svc)

	w := perform(t, r, http.MethodGet, "/api/containers/aaa/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "line 1\nline 2\n", decode[map[string]string](t, w)["logs"])
	assert.Equal(t, service.DefaultLogTail, svc.tail)

	perform(t, r, http.MethodGet, "/api/containers/aaa/logs?tail=20", nil)
	assert.Equal(t, 20, svc.tail)

	perform(t, r, http.MethodGet, "/api/containers/aaa/logs?tail=999999", nil)
	assert.Equal(t, service.MaxLogTail, svc.tail)
}

func TestClearLogs_BothRoutes(t *testing.T) {
	svc := &fakeLogService{}
	r := setupLogRouter(svc)

	w := perform(t, r, http.MethodPost, "/api/containers/aaa/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = perform(t, r, http.MethodPost, "/api/containers", gin.H{"action": "clear-logs", "id": "bbb"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"success": true}, decode[map[string]bool](t, w))

	assert.Equal(t, []string{"aaa", "bbb"}, svc.cleared)
	assert.Equal(t, []string{"u1", "u1"}, svc.users)
}

func TestContainerCommand_RejectsOtherActions(t *testing.T) {
	svc := &fakeLogService{}
	r := setupLogRouter(svc)

	w := perform(t, r, http.MethodPost, "/api/containers", gin.H{"action": "start", "id": "aaa"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = perform(t, r, http.MethodPost, "/api/containers", gin.H{"action": "clear-logs"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.cleared)
}

func TestClearLogs_Failures(t *testing.T) {
	r := setupLogRouter(&fakeLogService{err: service.ErrNoLogPath})
	w := perform(t, r, http.MethodPost, "/api/containers/aaa/logs", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	r = setupLogRouter(&fakeLogService{err: apperr.NotFound("container", "aaa")})
	w = perform(t, r, http.MethodPost, "/api/containers/aaa/logs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadLogs(t *testing.T) {
	r := setupLogRouter(&fakeLogService{})

	w := perform(t, r, http.MethodGet, "/api/containers/0123456789abcdef/logs/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="container-0123456789ab-logs.zip"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "PK-archive", w.Body.String())

	r = setupLogRouter(&fakeLogService{err: apperr.NotFound("container", "aaa")})
	w = perform(t, r, http.MethodGet, "/api/containers/aaa/logs/download", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Header().Get("Content-Disposition"))
}

func dialLogStream(t *testing.T, svc LogService, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	h := NewLogHandler(svc, []string{"https://dash.example"})
	r := gin.New()
	r.GET("/api/containers/:id/logs/stream", h.StreamLogs)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/containers/aaa/logs/stream?tail=20"
	header := http.Header{}
	header.Set("Origin", origin)
	return websocket.DefaultDialer.Dial(url, header)
}

func TestStreamLogs_SendsChunksThenCloses(t *testing.T) {
	svc := &fakeLogService{chunks: []string{"line 1\n", "line 2\n"}, follows: make(chan int, 1)}
	conn, _, err := dialLogStream(t, svc, "https://dash.example")
	require.NoError(t, err)
	defer conn.Close()

	var got []string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "%v", err)
			break
		}
		got = append(got, string(msg))
	}
	assert.Equal(t, []string{"Connected to log stream\n", "line 1\n", "line 2\n"}, got)
	assert.Equal(t, 20, <-svc.follows)
}

func TestStreamLogs_ErrorIsReported(t *testing.T) {
	svc := &fakeLogService{err: apperr.NotFound("container", "aaa")}
	conn, _, err := dialLogStream(t, svc, "https://dash.example")
	require.NoError(t, err)
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "Connected to log stream\n", string(msg))

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "container aaa not found")
}

func TestStreamLogs_ForeignOriginIsRejected(t *testing.T) {
	svc := &fakeLogService{follows: make(chan int, 1)}
	_, resp, err := dialLogStream(t, svc, "https://attacker.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, svc.follows)
}
