package handler

import (
	"context"
	"net/http"
	"testing"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/core/service"
	"nfcunha/vpsmanager/utils/apperr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProjectService struct {
	executed []string
	execErr  error
	logPath  string
	logTail  int
}

func (f *fakeProjectService) FindAll(ctx context.Context) ([]models.Project, error) {
	return []models.Project{{ID: "app1", Name: "app1", Status: models.ProjectRunning}}, nil
}

func (f *fakeProjectService) Execute(ctx context.Context, path string, action service.ProjectAction, userID string) (*service.CommandResult, error) {
	f.executed = append(f.executed, string(action)+" "+path+" "+userID)
	if f.execErr != nil {
		return &service.CommandResult{Stderr: "no such service", ExitCode: 1}, f.execErr
	}
	return &service.CommandResult{}, nil
}

func (f *fakeProjectService) Logs(ctx context.Context, path string, tail int) (string, error) {
	f.logPath, f.logTail = path, tail
	return "web-1 | ready", nil
}

func (f *fakeProjectService) Config(ctx context.Context, path string) (*service.ProjectConfig, error) {
	if path == "/missing/docker-compose.yml" {
		return nil, apperr.NotFound("project", path)
	}
	return &service.ProjectConfig{Path: path, Services: []string{"db", "web"}}, nil
}

func setupProjectRouter(svc ProjectService) *gin.Engine {
	h := NewProjectHandler(svc)
	r := newRouter(adminClaims)
	r.GET("/api/projects", h.ListProjects)
	r.POST("/api/projects/action", h.ProjectAction)
	r.GET("/api/projects/logs", h.GetProjectLogs)
	r.GET("/api/projects/config", h.GetProjectConfig)
	return r
}

func TestListProjects(t *testing.T) {
	r := setupProjectRouter(&fakeProjectService{})

	w := perform(t, r, http.MethodGet, "/api/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	projects := decode[[]models.Project](t, w)
	require.Len(t, projects, 1)
	assert.Equal(t, models.ProjectRunning, projects[0].Status)
}

func TestProjectAction(t *testing.T) {
	svc := &fakeProjectService{}
	r := setupProjectRouter(svc)

	w := perform(t, r, http.MethodPost, "/api/projects/action", gin.H{"path": "/home/app1/docker-compose.yml", "action": "up"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"success": true}, decode[map[string]bool](t, w))
	assert.Equal(t, []string{"up /home/app1/docker-compose.yml u1"}, svc.executed)
}

func TestProjectAction_MissingParameters(t *testing.T) {
	svc := &fakeProjectService{}
	r := setupProjectRouter(svc)

	for _, body := range []gin.H{{"path": "/home/app1/docker-compose.yml"}, {"action": "up"}, {}} {
		w := perform(t, r, http.MethodPost, "/api/projects/action", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	assert.Empty(t, svc.executed)
}

func TestProjectAction_CommandFailure(t *testing.T) {
	svc := &fakeProjectService{execErr: &service.CommandError{Command: "docker compose up -d", ExitCode: 1, Stderr: "no such service"}}
	r := setupProjectRouter(svc)

	w := perform(t, r, http.MethodPost, "/api/projects/action", gin.H{"path": "/home/app1/docker-compose.yml", "action": "up"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "no such service", body["output"])
	assert.Contains(t, body["detail"], "exit 1")
}

func TestGetProjectLogs(t *testing.T) {
	svc := &fakeProjectService{}
	r := setupProjectRouter(svc)

	w := perform(t, r, http.MethodGet, "/api/projects/logs", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(t, r, http.MethodGet, "/api/projects/logs?path=/home/app1/docker-compose.yml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "web-1 | ready", decode[map[string]string](t, w)["logs"])
	assert.Equal(t, "/home/app1/docker-compose.yml", svc.logPath)
	assert.Equal(t, 200, svc.logTail)

	perform(t, r, http.MethodGet, "/api/projects/logs?path=/home/app1/docker-compose.yml&tail=50", nil)
	assert.Equal(t, 50, svc.logTail)
}

func TestGetProjectConfig(t *testing.T) {
	r := setupProjectRouter(&fakeProjectService{})

	w := perform(t, r, http.MethodGet, "/api/projects/config?path=/home/app1/docker-compose.yml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"db", "web"}, decode[service.ProjectConfig](t, w).Services)

	w = perform(t, r, http.MethodGet, "/api/projects/config?path=/missing/docker-compose.yml", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = perform(t, r, http.MethodGet, "/api/projects/config", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
