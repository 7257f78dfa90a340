package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nfcunha/vpsmanager/core/cache"
	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/apperr"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCompose = `services:
  web:
    image: nginx
  db:
    image: postgres
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func setupProjects(t *testing.T) (*ProjectService, string, *fakeEngine, *fakeRunner, *fakeAuditStore, *cache.Cache) {
	t.Helper()
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "app1", "docker-compose.yml"), testCompose)
	writeFile(t, filepath.Join(base, "group", "app2", "compose.yaml"), testCompose)
	writeFile(t, filepath.Join(base, "a", "b", "c", "docker-compose.yml"), testCompose)
	writeFile(t, filepath.Join(base, ".hidden", "docker-compose.yml"), testCompose)
	writeFile(t, filepath.Join(base, "app1", "notes.txt"), "hello")

	engine := newFakeEngine()
	runner := newFakeRunner()
	audits := &fakeAuditStore{}
	c := newTestCache()
	svc := NewProjectService(engine, runner, c, NewAuditor(audits, nil), ProjectsConfig{BasePath: base, MaxDepth: 3})
	return svc, base, engine, runner, audits, c
}

// =============================================================================
// Discovery
// =============================================================================

func TestProjectFindAll_DiscoveryAndStatus(t *testing.T) {
	svc, base, engine, _, _, _ := setupProjects(t)
	app1 := filepath.Join(base, "app1")
	engine.containers = []types.Container{
		{ID: "1", State: "running", Labels: map[string]string{ComposeWorkingDirLabel: app1}},
		{ID: "2", State: "exited", Labels: map[string]string{ComposeWorkingDirLabel: app1 + "/"}},
		{ID: "3", State: "running"},
	}

	projects, err := svc.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2, "hidden and too-deep projects are skipped")

	assert.Equal(t, "app1", projects[0].Name)
	assert.Equal(t, filepath.Join(app1, "docker-compose.yml"), projects[0].Path)
	assert.Equal(t, app1, projects[0].Directory)
	assert.Equal(t, models.ProjectPartial, projects[0].Status)
	assert.Equal(t, 2, projects[0].ContainerCount)
	assert.Equal(t, 1, projects[0].RunningCount)

	assert.Equal(t, "app2", projects[1].Name)
	assert.Equal(t, models.ProjectUnknown, projects[1].Status)
}

func TestProjectFindAll_MissingBasePath(t *testing.T) {
	svc := NewProjectService(newFakeEngine(), newFakeRunner(), newTestCache(), nil,
		ProjectsConfig{BasePath: filepath.Join(t.TempDir(), "absent")})

	projects, err := svc.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestProjectStatus(t *testing.T) {
	assert.Equal(t, models.ProjectUnknown, ProjectStatus(0, 0))
	assert.Equal(t, models.ProjectRunning, ProjectStatus(3, 3))
	assert.Equal(t, models.ProjectStopped, ProjectStatus(3, 0))
	assert.Equal(t, models.ProjectPartial, ProjectStatus(3, 1))
}

// =============================================================================
// Execute
// =============================================================================

func TestProjectExecute_RunsComposeAndAudits(t *testing.T) {
	svc, base, _, runner, audits, c := setupProjects(t)
	c.Set(cache.KeyProjects, []models.Project{}, 0)
	c.Set(cache.KeyContainers, []models.Container{}, 0)
	path := filepath.Join(base, "app1", "docker-compose.yml")

	_, err := svc.Execute(context.Background(), path, ProjectUp, "u1")
	require.NoError(t, err)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, filepath.Join(base, "app1"), calls[0].Dir)
	assert.Equal(t, "docker", calls[0].Name)
	assert.Equal(t, []string{"compose", "up", "-d"}, calls[0].Args)

	require.Len(t, audits.Calls(), 1)
	assert.Equal(t, models.ActionComposeUp, audits.Calls()[0].Action)
	assert.Equal(t, map[string]string{"action": "docker-compose-up", "path": path}, audits.Calls()[0].Details)

	_, ok := c.Get(cache.KeyProjects)
	assert.False(t, ok)
	_, ok = c.Get(cache.KeyContainers)
	assert.False(t, ok)
}

func TestProjectExecute_FailureNotAudited(t *testing.T) {
	svc, base, _, runner, audits, _ := setupProjects(t)
	runner.errs["docker compose pull"] = &CommandError{Command: "docker compose pull", ExitCode: 1, Err: errors.New("exit status 1")}

	_, err := svc.Execute(context.Background(), filepath.Join(base, "app1", "docker-compose.yml"), ProjectPull, "")
	require.Error(t, err)
	assert.Empty(t, audits.Calls())
}

func TestProjectExecute_RejectsBadInput(t *testing.T) {
	svc, base, _, runner, _, _ := setupProjects(t)
	ctx := context.Background()
	good := filepath.Join(base, "app1", "docker-compose.yml")

	tests := []struct {
		name   string
		path   string
		action ProjectAction
	}{
		{"empty path", "", ProjectUp},
		{"relative path", "app1/docker-compose.yml", ProjectUp},
		{"outside base", "/etc/docker-compose.yml", ProjectUp},
		{"traversal", filepath.Join(base, "..", "docker-compose.yml"), ProjectUp},
		{"not a compose file", filepath.Join(base, "app1", "notes.txt"), ProjectUp},
		{"unknown action", good, ProjectAction("build")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Execute(ctx, tt.path, tt.action, "")
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
	assert.Empty(t, runner.Calls())
}

// =============================================================================
// Logs and config
// =============================================================================

func TestProjectLogs(t *testing.T) {
	svc, base, _, runner, _, _ := setupProjects(t)
	runner.outputs["docker compose logs --tail 200 --no-color"] = CommandResult{Stdout: "web | ready\n"}

	logs, err := svc.Logs(context.Background(), filepath.Join(base, "app1", "docker-compose.yml"), 200)
	require.NoError(t, err)
	assert.Equal(t, "web | ready\n", logs)
}

func TestProjectConfig(t *testing.T) {
	svc, base, _, _, _, _ := setupProjects(t)
	path := filepath.Join(base, "app1", "docker-compose.yml")

	cfg, err := svc.Config(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, testCompose, cfg.Content)
	assert.Equal(t, []string{"db", "web"}, cfg.Services)
	assert.Empty(t, cfg.ParseError)
}

func TestProjectConfig_ParseErrorAndMissing(t *testing.T) {
	svc, base, _, _, _, _ := setupProjects(t)
	broken := filepath.Join(base, "broken", "compose.yml")
	writeFile(t, broken, "services: [unclosed")

	cfg, err := svc.Config(context.Background(), broken)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ParseError)
	assert.Empty(t, cfg.Services)

	_, err = svc.Config(context.Background(), filepath.Join(base, "nope", "compose.yml"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// =============================================================================
// Watcher
// =============================================================================

func TestProjectWatcher_InvalidatesOnNewProject(t *testing.T) {
	base := t.TempDir()
	c := newTestCache()
	w, err := NewProjectWatcher(base, 3, c)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	c.Set(cache.KeyProjects, []models.Project{}, 0)
	require.NoError(t, os.Mkdir(filepath.Join(base, "newapp"), 0755))

	require.Eventually(t, func() bool {
		_, ok := c.Get(cache.KeyProjects)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	c.Set(cache.KeyProjects, []models.Project{}, 0)
	writeFile(t, filepath.Join(base, "newapp", "compose.yml"), testCompose)

	require.Eventually(t, func() bool {
		_, ok := c.Get(cache.KeyProjects)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "new subdirectory should be watched")
}

func TestProjectWatcher_StopIdempotent(t *testing.T) {
	w, err := NewProjectWatcher(t.TempDir(), 3, newTestCache())
	require.NoError(t, err)
	require.NoError(t, w.Start())

	w.Stop()
	w.Stop()
}
