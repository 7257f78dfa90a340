package service

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"nfcunha/vpsmanager/core/cache"
	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/apperr"
	"nfcunha/vpsmanager/utils/docker"

	"gopkg.in/yaml.v3"
)

// ComposeWorkingDirLabel is set by Compose on every container it creates.
const ComposeWorkingDirLabel = "com.docker.compose.project.working_dir"

// composeFileNames are the file names recognised as compose projects.
var composeFileNames = map[string]bool{
	"docker-compose.yml":  true,
	"docker-compose.yaml": true,
	"compose.yml":         true,
	"compose.yaml":        true,
}

// IsComposeFile reports whether name is a recognised compose file name.
func IsComposeFile(name string) bool {
	return composeFileNames[filepath.Base(name)]
}

// ProjectAction is a Compose verb.
type ProjectAction string

const (
	ProjectUp      ProjectAction = "up"
	ProjectDown    ProjectAction = "down"
	ProjectRestart ProjectAction = "restart"
	ProjectPull    ProjectAction = "pull"
)

var projectActions = map[ProjectAction]struct {
	audit models.AuditAction
	args  []string
}{
	ProjectUp:      {models.ActionComposeUp, []string{"compose", "up", "-d"}},
	ProjectDown:    {models.ActionComposeDown, []string{"compose", "down"}},
	ProjectRestart: {models.ActionComposeRestart, []string{"compose", "restart"}},
	ProjectPull:    {models.ActionComposePull, []string{"compose", "pull"}},
}

// ProjectConfig is a compose file and the services it declares.
type ProjectConfig struct {
	Path       string   `json:"path"`
	Content    string   `json:"content"`
	Services   []string `json:"services"`
	ParseError string   `json:"parseError,omitempty"`
}

// ProjectsConfig configures project discovery.
type ProjectsConfig struct {
	// HostRoot is where the host filesystem is mounted. Reported paths are
	// relative to it.
	HostRoot string

	// BasePath is the directory searched for compose files.
	BasePath string

	// MaxDepth bounds the search below BasePath. Default: 3.
	MaxDepth int
}

// ProjectService discovers compose projects and runs Compose verbs on them.
type ProjectService struct {
	engine docker.Engine
	runner Runner
	cache  *cache.Cache
	audit  *Auditor
	config ProjectsConfig
	logger *slog.Logger
}

// NewProjectService creates a new project service.
func NewProjectService(engine docker.Engine, runner Runner, c *cache.Cache, audit *Auditor, config ProjectsConfig) *ProjectService {
	if config.MaxDepth <= 0 {
		config.MaxDepth = 3
	}
	config.BasePath = filepath.Clean(config.BasePath)
	return &ProjectService{
		engine: engine,
		runner: runner,
		cache:  c,
		audit:  audit,
		config: config,
		logger: slog.Default().With("component", "projects"),
	}
}

// FindAll returns every discovered project with its aggregate status,
// served from the cache when fresh.
func (s *ProjectService) FindAll(ctx context.Context) ([]models.Project, error) {
	return cache.Load(ctx, s.cache, cache.KeyProjects, s.list)
}

// Refresh re-discovers projects and repopulates the cache.
func (s *ProjectService) Refresh(ctx context.Context) error {
	gen := s.cache.Generation(cache.KeyProjects)
	list, err := s.list(ctx)
	if err != nil {
		return err
	}
	s.cache.SetIfCurrent(cache.KeyProjects, list, 0, gen)
	return nil
}

func (s *ProjectService) list(ctx context.Context) ([]models.Project, error) {
	files, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}
	containers, err := s.engine.ListContainers(ctx, true)
	if err != nil {
		return nil, err
	}

	projects := make([]models.Project, 0, len(files))
	for _, file := range files {
		dir := filepath.Dir(file)
		relDir := s.strip(dir)

		total, running := 0, 0
		for _, c := range containers {
			wd := c.Labels[ComposeWorkingDirLabel]
			if wd == "" {
				continue
			}
			wd = filepath.Clean(wd)
			if wd != dir && wd != relDir {
				continue
			}
			total++
			if c.State == "running" {
				running++
			}
		}

		name := filepath.Base(dir)
		projects = append(projects, models.Project{
			ID:             name,
			Name:           name,
			Path:           s.strip(file),
			Directory:      relDir,
			Status:         ProjectStatus(total, running),
			ContainerCount: total,
			RunningCount:   running,
		})
	}

	return projects, nil
}

// ProjectStatus derives the aggregate status from container counts.
func ProjectStatus(total, running int) string {
	switch {
	case total == 0:
		return models.ProjectUnknown
	case running == total:
		return models.ProjectRunning
	case running == 0:
		return models.ProjectStopped
	default:
		return models.ProjectPartial
	}
}

// discover walks BasePath down to MaxDepth collecting compose files.
func (s *ProjectService) discover(ctx context.Context) ([]string, error) {
	var files []string

	err := filepath.WalkDir(s.config.BasePath, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == s.config.BasePath {
				return err
			}
			// unreadable subtree
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		depth := s.depth(path)
		if d.IsDir() {
			if path != s.config.BasePath && (depth >= s.config.MaxDepth || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if depth <= s.config.MaxDepth && IsComposeFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("projects base path does not exist", "path", s.config.BasePath)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to search for compose files: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// depth is the number of path elements below BasePath.
func (s *ProjectService) depth(path string) int {
	rel, err := filepath.Rel(s.config.BasePath, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

// Execute runs a Compose verb in the project directory. The exit code of
// the Compose CLI decides success.
func (s *ProjectService) Execute(ctx context.Context, path string, action ProjectAction, userID string) (*CommandResult, error) {
	def, ok := projectActions[action]
	if !ok {
		return nil, apperr.Invalid("action", fmt.Sprintf("unsupported project action %q", action))
	}
	file, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(file)

	s.logger.Info("running compose action", "action", action, "dir", dir)
	result, err := s.runner.Run(ctx, dir, "docker", def.args...)
	if err != nil {
		s.logger.Error("compose action failed", "action", action, "dir", dir, "error", err)
		return &result, err
	}

	s.audit.Record(ctx, def.audit, path, map[string]string{
		"action": "docker-compose-" + string(action),
		"path":   path,
	}, userID)
	s.cache.Invalidate(cache.KeyProjects)
	s.cache.Invalidate(cache.KeyContainers)

	return &result, nil
}

// Logs returns the last tail lines of every service in the project.
func (s *ProjectService) Logs(ctx context.Context, path string, tail int) (string, error) {
	file, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	result, err := s.runner.Run(ctx, filepath.Dir(file), "docker", "compose", "logs", "--tail", strconv.Itoa(tail), "--no-color")
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// Config reads a compose file and lists its services. A file that does not
// parse is still returned with ParseError set.
func (s *ProjectService) Config(ctx context.Context, path string) (*ProjectConfig, error) {
	file, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound("compose file", path)
		}
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}

	cfg := &ProjectConfig{Path: path, Content: string(content), Services: []string{}}

	var doc struct {
		Services map[string]yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		cfg.ParseError = err.Error()
		return cfg, nil
	}
	for name := range doc.Services {
		cfg.Services = append(cfg.Services, name)
	}
	sort.Strings(cfg.Services)

	return cfg, nil
}

// resolve maps a reported compose file path to the local filesystem and
// rejects anything outside BasePath or not named like a compose file.
func (s *ProjectService) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", apperr.Invalid("path", "project path is required")
	}
	if !strings.HasPrefix(path, "/") {
		return "", apperr.Invalid("path", "project path must be absolute")
	}

	local := filepath.Clean(path)
	if s.config.HostRoot != "" {
		local = filepath.Join(s.config.HostRoot, local)
	}

	rel, err := filepath.Rel(s.config.BasePath, local)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", apperr.Invalid("path", "project path is outside the projects directory")
	}
	if !IsComposeFile(local) {
		return "", apperr.Invalid("path", "not a compose file")
	}
	return local, nil
}

func (s *ProjectService) strip(path string) string {
	if s.config.HostRoot == "" {
		return path
	}
	rel := strings.TrimPrefix(path, filepath.Clean(s.config.HostRoot))
	if rel == "" {
		return "/"
	}
	return rel
}
