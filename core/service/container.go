package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"nfcunha/vpsmanager/core/cache"
	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/apperr"
	"nfcunha/vpsmanager/utils/docker"
	"nfcunha/vpsmanager/utils/metrics"
	"nfcunha/vpsmanager/utils/statsutil"

	"github.com/docker/docker/api/types"
	"github.com/docker/go-connections/nat"
	"golang.org/x/sync/errgroup"
)

// inspectConcurrency bounds parallel inspect calls while computing log sizes.
const inspectConcurrency = 8

// ContainerAction is a lifecycle verb accepted by the container endpoints.
type ContainerAction string

const (
	ContainerStart   ContainerAction = "start"
	ContainerStop    ContainerAction = "stop"
	ContainerRestart ContainerAction = "restart"
	ContainerDelete  ContainerAction = "delete"
	ContainerPause   ContainerAction = "pause"
	ContainerUnpause ContainerAction = "unpause"
)

type actionSpec struct {
	audit models.AuditAction
	run   func(e docker.Engine, ctx context.Context, id string) error
	bulk  bool
}

var containerActions = map[ContainerAction]actionSpec{
	ContainerStart:   {models.ActionStartContainer, docker.Engine.StartContainer, true},
	ContainerStop:    {models.ActionStopContainer, docker.Engine.StopContainer, true},
	ContainerRestart: {models.ActionRestartContainer, docker.Engine.RestartContainer, true},
	ContainerPause:   {models.ActionPauseContainer, docker.Engine.PauseContainer, true},
	ContainerUnpause: {models.ActionUnpauseContainer, docker.Engine.UnpauseContainer, true},
	ContainerDelete:  {models.ActionDeleteContainer, docker.Engine.RemoveContainer, false},
}

// ParseContainerAction validates a single-container action.
func ParseContainerAction(s string) (ContainerAction, error) {
	a := ContainerAction(s)
	if _, ok := containerActions[a]; !ok {
		return "", apperr.Invalid("action", fmt.Sprintf("unsupported action %q", s))
	}
	return a, nil
}

// ParseBulkAction validates an action accepted by the bulk endpoint.
func ParseBulkAction(s string) (ContainerAction, error) {
	a := ContainerAction(s)
	if def, ok := containerActions[a]; !ok || !def.bulk {
		return "", apperr.Invalid("action", fmt.Sprintf("unsupported bulk action %q", s))
	}
	return a, nil
}

// MetricSource reads persisted container samples.
type MetricSource interface {
	FindRecent(ctx context.Context, containerID string, limit int) ([]*models.ContainerMetric, error)
}

// ContainerService handles container-related operations.
type ContainerService struct {
	engine   docker.Engine
	cache    *cache.Cache
	audit    *Auditor
	samples  MetricSource
	metrics  *metrics.Metrics
	hostRoot string
	logger   *slog.Logger
}

// NewContainerService creates a new container service. hostRoot is the
// prefix under which the host filesystem is mounted ("" when running on the
// host itself).
func NewContainerService(engine docker.Engine, c *cache.Cache, audit *Auditor, samples MetricSource, m *metrics.Metrics, hostRoot string) *ContainerService {
	return &ContainerService{
		engine:   engine,
		cache:    c,
		audit:    audit,
		samples:  samples,
		metrics:  m,
		hostRoot: hostRoot,
		logger:   slog.Default().With("component", "containers"),
	}
}

// FindAll returns every container, served from the cache when fresh.
func (s *ContainerService) FindAll(ctx context.Context) ([]models.Container, error) {
	return cache.Load(ctx, s.cache, cache.KeyContainers, s.list)
}

// Refresh re-reads the container list from the Engine and repopulates the cache.
func (s *ContainerService) Refresh(ctx context.Context) error {
	gen := s.cache.Generation(cache.KeyContainers)
	list, err := s.list(ctx)
	if err != nil {
		return err
	}
	s.cache.SetIfCurrent(cache.KeyContainers, list, 0, gen)
	return nil
}

func (s *ContainerService) list(ctx context.Context) ([]models.Container, error) {
	raw, err := s.engine.ListContainers(ctx, true)
	if err != nil {
		return nil, err
	}

	result := make([]models.Container, len(raw))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inspectConcurrency)

	for i, c := range raw {
		result[i] = convertContainer(c)
		g.Go(func() error {
			result[i].LogSize = s.logSize(gctx, c.ID)
			return nil
		})
	}
	_ = g.Wait()

	return result, nil
}

// logSize stats the container's json log file. Any failure yields 0.
func (s *ContainerService) logSize(ctx context.Context, id string) int64 {
	info, err := s.engine.InspectContainer(ctx, id)
	if err != nil || info.ContainerJSONBase == nil || info.LogPath == "" {
		return 0
	}
	st, err := os.Stat(hostPath(s.hostRoot, info.LogPath))
	if err != nil {
		return 0
	}
	return st.Size()
}

// Get returns the inspect view of a single container.
func (s *ContainerService) Get(ctx context.Context, id string) (*models.ContainerDetail, error) {
	info, err := s.engine.InspectContainer(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "container", id)
	}
	if info.ContainerJSONBase == nil {
		return nil, apperr.NotFound("container", id)
	}

	detail := &models.ContainerDetail{
		Container: models.Container{
			ID:      info.ID,
			Name:    strings.TrimPrefix(info.Name, "/"),
			ImageID: info.Image,
			Created: parseTime(info.Created),
		},
		LogPath:      info.LogPath,
		RestartCount: info.RestartCount,
		Mounts:       []models.Mount{},
	}

	if info.Config != nil {
		detail.Image = info.Config.Image
		detail.Labels = info.Config.Labels
		detail.Env = info.Config.Env
		detail.Command = strings.TrimSpace(info.Path + " " + strings.Join(info.Args, " "))
	}
	if info.State != nil {
		detail.State = info.State.Status
		detail.Status = formatStatus(info.State)
		detail.StartedAt = info.State.StartedAt
		detail.FinishedAt = info.State.FinishedAt
		detail.ExitCode = info.State.ExitCode
	}
	if info.NetworkSettings != nil {
		detail.Ports = portsFromMap(info.NetworkSettings.Ports)
	}
	for _, m := range info.Mounts {
		detail.Mounts = append(detail.Mounts, models.Mount{
			Type:        string(m.Type),
			Name:        m.Name,
			Source:      m.Source,
			Destination: m.Destination,
			RW:          m.RW,
		})
	}
	if st, err := os.Stat(hostPath(s.hostRoot, info.LogPath)); err == nil && info.LogPath != "" {
		detail.LogSize = st.Size()
	}

	return detail, nil
}

// Action runs a lifecycle verb on one container. On success the action is
// audited and the container list is invalidated. Engine failures are
// returned as-is for translation by the caller.
func (s *ContainerService) Action(ctx context.Context, id string, action ContainerAction, userID string) error {
	def, ok := containerActions[action]
	if !ok {
		return apperr.Invalid("action", fmt.Sprintf("unsupported action %q", action))
	}

	if err := def.run(s.engine, ctx, id); err != nil {
		s.metrics.ObserveAction(string(action), false)
		s.logger.Error("container action failed", "action", action, "id", docker.ShortID(id), "error", err)
		return err
	}

	s.metrics.ObserveAction(string(action), true)
	s.audit.Record(ctx, def.audit, id, map[string]string{"action": string(action)}, userID)
	s.cache.Invalidate(cache.KeyContainers)
	if action == ContainerDelete {
		// the removed container no longer pins its image or volumes
		s.cache.Invalidate(cache.KeyImages)
		s.cache.Invalidate(cache.KeyVolumes)
	}

	s.logger.Info("container action completed", "action", action, "id", docker.ShortID(id))
	return nil
}

// BulkOperationResult represents the result of a bulk operation on a single container.
type BulkOperationResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BulkResult is the outcome of a bulk action.
type BulkResult struct {
	Success bool                  `json:"success"`
	Results []BulkOperationResult `json:"results"`
	Summary string                `json:"summary"`
}

// Bulk applies action to every id in order. Each id is attempted
// independently; one failure never aborts the rest.
func (s *ContainerService) Bulk(ctx context.Context, action ContainerAction, ids []string, userID string) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, apperr.Invalid("containerIds", "no containers specified")
	}
	def, ok := containerActions[action]
	if !ok || !def.bulk {
		return nil, apperr.Invalid("action", fmt.Sprintf("unsupported bulk action %q", action))
	}

	results := make([]BulkOperationResult, 0, len(ids))
	for _, id := range ids {
		result := BulkOperationResult{ID: id}

		if err := def.run(s.engine, ctx, id); err != nil {
			result.Error = err.Error()
			s.metrics.ObserveAction(string(action), false)
			s.logger.Error("bulk container action failed", "action", action, "id", docker.ShortID(id), "error", err)
		} else {
			result.Success = true
			s.metrics.ObserveAction(string(action), true)
			s.audit.Record(ctx, def.audit, id, map[string]any{
				"action":  string(action) + "-all",
				"project": true,
			}, userID)
		}

		results = append(results, result)
	}

	s.cache.Invalidate(cache.KeyContainers)

	succeeded := countSuccessful(results)
	return &BulkResult{
		Success: true,
		Results: results,
		Summary: fmt.Sprintf("%d succeeded, %d failed", succeeded, len(results)-succeeded),
	}, nil
}

// Stats returns one resource usage sample for a container.
func (s *ContainerService) Stats(ctx context.Context, id string) (*statsutil.Usage, error) {
	raw, err := s.engine.Stats(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "container", id)
	}
	usage := statsutil.Summarize(raw)
	return &usage, nil
}

// MetricPoint is one sample in a container's history.
type MetricPoint struct {
	CPU    float64 `json:"cpu"`
	Memory int64   `json:"memory"`
	Time   string  `json:"time"`
}

// DefaultMetricLimit is the history length returned when none is requested.
const DefaultMetricLimit = 20

// Metrics returns the most recent samples for a container in chronological order.
func (s *ContainerService) Metrics(ctx context.Context, id string, limit int) ([]MetricPoint, error) {
	if limit <= 0 {
		limit = DefaultMetricLimit
	}

	samples, err := s.samples.FindRecent(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load metric history: %w", err)
	}

	points := make([]MetricPoint, 0, len(samples))
	for _, m := range samples {
		points = append(points, MetricPoint{
			CPU:    m.CPU,
			Memory: m.Memory,
			Time:   m.SampledAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return points, nil
}

// =============================================================================
// Helpers
// =============================================================================

func convertContainer(c types.Container) models.Container {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	return models.Container{
		ID:      c.ID,
		Name:    name,
		Image:   c.Image,
		ImageID: c.ImageID,
		Status:  c.Status,
		State:   c.State,
		Created: c.Created,
		Ports:   extractPorts(c.Ports),
		Labels:  c.Labels,
	}
}

// extractPorts maps Engine ports to domain ports, deduplicated on
// (host port, container port, protocol). The Engine reports one entry per
// bound address family, so the same mapping usually appears twice.
func extractPorts(ports []types.Port) []models.Port {
	result := []models.Port{}
	seen := make(map[models.Port]bool)

	for _, p := range ports {
		var port models.Port
		switch {
		case p.PublicPort != 0:
			port = models.Port{HostPort: p.PublicPort, ContainerPort: p.PrivatePort, Protocol: p.Type, IsExposed: true}
		case p.PrivatePort != 0:
			port = models.Port{HostPort: p.PrivatePort, ContainerPort: p.PrivatePort, Protocol: p.Type, IsExposed: false}
		default:
			continue
		}

		key := models.Port{HostPort: port.HostPort, ContainerPort: port.ContainerPort, Protocol: port.Protocol}
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, port)
	}

	return result
}

// portsFromMap flattens an inspect port map in container-port order.
func portsFromMap(pm nat.PortMap) []models.Port {
	keys := make([]nat.Port, 0, len(pm))
	for p := range pm {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Int() != keys[j].Int() {
			return keys[i].Int() < keys[j].Int()
		}
		return keys[i].Proto() < keys[j].Proto()
	})

	result := []models.Port{}
	seen := make(map[models.Port]bool)
	add := func(p models.Port) {
		key := p
		key.IsExposed = false
		if !seen[key] {
			seen[key] = true
			result = append(result, p)
		}
	}

	for _, p := range keys {
		private := uint16(p.Int())
		bindings := pm[p]
		if len(bindings) == 0 {
			add(models.Port{HostPort: private, ContainerPort: private, Protocol: p.Proto()})
			continue
		}
		for _, b := range bindings {
			public, err := nat.ParsePort(b.HostPort)
			if err != nil || public == 0 {
				add(models.Port{HostPort: private, ContainerPort: private, Protocol: p.Proto()})
				continue
			}
			add(models.Port{HostPort: uint16(public), ContainerPort: private, Protocol: p.Proto(), IsExposed: true})
		}
	}

	return result
}

func formatStatus(state *types.ContainerState) string {
	if state.Running {
		startedAt := parseTimeString(state.StartedAt)
		if !startedAt.IsZero() {
			return fmt.Sprintf("Up %s", time.Since(startedAt).Round(time.Second))
		}
		return "Running"
	}
	finishedAt := parseTimeString(state.FinishedAt)
	if !finishedAt.IsZero() {
		return fmt.Sprintf("Exited (%d) %s ago", state.ExitCode, time.Since(finishedAt).Round(time.Second))
	}
	return fmt.Sprintf("Exited (%d)", state.ExitCode)
}

func parseTime(s string) int64 {
	t := parseTimeString(s)
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func parseTimeString(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.Year() <= 1 {
		return time.Time{}
	}
	return t
}

// hostPath prefers the path under the host filesystem mount when it exists.
func hostPath(root, p string) string {
	if root == "" || p == "" {
		return p
	}
	candidate := filepath.Join(root, p)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return p
}

// notFoundOr converts an Engine 404 into a NotFoundError.
func notFoundOr(err error, resource, id string) error {
	var engineErr *docker.EngineError
	if errors.As(err, &engineErr) && engineErr.NotFound() {
		return apperr.NotFound(resource, id)
	}
	return err
}

func countSuccessful(results []BulkOperationResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
