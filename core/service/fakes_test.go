package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"nfcunha/vpsmanager/core/cache"
	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/docker"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/api/types/volume"
)

// =============================================================================
// Fake Engine
// =============================================================================

type fakeEngine struct {
	mu sync.Mutex

	containers []types.Container
	inspect    map[string]types.ContainerJSON
	images     []image.Summary
	volumes    []*volume.Volume
	stats      map[string]*container.StatsResponse
	logs       string
	buildCache int64
	reclaimed  uint64
	imageInfo  map[string]types.ImageInspect
	pullStream string
	search     []registry.SearchResult
	created    []volume.CreateOptions

	// failures keyed by "<op>:<id>"
	failures map[string]error

	calls     []string
	listCalls int
	// onList runs inside ListContainers, after the list is taken
	onList func()

	events    chan events.Message
	eventErrs chan error
	subCtx    context.Context
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		inspect:   make(map[string]types.ContainerJSON),
		stats:     make(map[string]*container.StatsResponse),
		failures:  make(map[string]error),
		events:    make(chan events.Message, 16),
		eventErrs: make(chan error, 1),
	}
}

var _ docker.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) fail(op, id string, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op+":"+id] = docker.NewEngineError(op, id, errors.New(msg))
}

func (f *fakeEngine) record(op, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+id)
	return f.failures[op+":"+id]
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Ping(ctx context.Context) error { return f.record("ping", "") }

func (f *fakeEngine) ListContainers(ctx context.Context, all bool) ([]types.Container, error) {
	if err := f.record("list", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.listCalls++
	var out []types.Container
	for _, c := range f.containers {
		if all || c.State == "running" {
			out = append(out, c)
		}
	}
	hook := f.onList
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeEngine) InspectContainer(ctx context.Context, id string) (types.ContainerJSON, error) {
	if err := f.record("inspect", id); err != nil {
		return types.ContainerJSON{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.inspect[id]
	if !ok {
		return types.ContainerJSON{}, docker.NewEngineError("inspect container", id, errors.New("No such container: "+id))
	}
	return info, nil
}

func (f *fakeEngine) StartContainer(ctx context.Context, id string) error   { return f.record("start", id) }
func (f *fakeEngine) StopContainer(ctx context.Context, id string) error    { return f.record("stop", id) }
func (f *fakeEngine) RestartContainer(ctx context.Context, id string) error { return f.record("restart", id) }
func (f *fakeEngine) PauseContainer(ctx context.Context, id string) error   { return f.record("pause", id) }
func (f *fakeEngine) UnpauseContainer(ctx context.Context, id string) error { return f.record("unpause", id) }
func (f *fakeEngine) RemoveContainer(ctx context.Context, id string) error  { return f.record("remove", id) }

func (f *fakeEngine) Exec(ctx context.Context, id string, cmd []string, tty bool) (io.ReadWriteCloser, error) {
	return nil, f.record("exec", id)
}

func (f *fakeEngine) Logs(ctx context.Context, id string, tail string) (string, error) {
	if err := f.record("logs", id+"@"+tail); err != nil {
		return "", err
	}
	return f.logs, nil
}

func (f *fakeEngine) FollowLogs(ctx context.Context, id string, tail string) (io.ReadCloser, error) {
	if err := f.record("follow", id+"@"+tail); err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(f.logs)), nil
}

func (f *fakeEngine) Stats(ctx context.Context, id string) (*container.StatsResponse, error) {
	if err := f.record("stats", id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stats[id]; ok {
		return s, nil
	}
	return &container.StatsResponse{}, nil
}

func (f *fakeEngine) SubscribeEvents(ctx context.Context, args filters.Args) (<-chan events.Message, <-chan error) {
	f.mu.Lock()
	f.subCtx = ctx
	f.mu.Unlock()
	_ = f.record("events", "")
	return f.events, f.eventErrs
}

func (f *fakeEngine) subscription() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subCtx
}

func (f *fakeEngine) ListImages(ctx context.Context) ([]image.Summary, error) {
	if err := f.record("images", ""); err != nil {
		return nil, err
	}
	return f.images, nil
}

func (f *fakeEngine) InspectImage(ctx context.Context, id string) (types.ImageInspect, error) {
	if err := f.record("inspect-image", id); err != nil {
		return types.ImageInspect{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.imageInfo[id]
	if !ok {
		return types.ImageInspect{}, docker.NewEngineError("inspect image", id, errors.New("No such image: "+id))
	}
	return info, nil
}

func (f *fakeEngine) PullImage(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := f.record("pull", ref); err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(f.pullStream)), nil
}

func (f *fakeEngine) SearchImages(ctx context.Context, term string, limit int) ([]registry.SearchResult, error) {
	if err := f.record("search", term); err != nil {
		return nil, err
	}
	if len(f.search) > limit {
		return f.search[:limit], nil
	}
	return f.search, nil
}

func (f *fakeEngine) RemoveImage(ctx context.Context, id string) error { return f.record("rmi", id) }

func (f *fakeEngine) PruneImages(ctx context.Context, all bool) (uint64, error) {
	op := "prune-images"
	if all {
		op += "-all"
	}
	return f.reclaimed, f.record(op, "")
}

func (f *fakeEngine) ListVolumes(ctx context.Context) ([]*volume.Volume, error) {
	if err := f.record("volumes", ""); err != nil {
		return nil, err
	}
	return f.volumes, nil
}

func (f *fakeEngine) InspectVolume(ctx context.Context, name string) (volume.Volume, error) {
	if err := f.record("inspect-volume", name); err != nil {
		return volume.Volume{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.volumes {
		if v != nil && v.Name == name {
			return *v, nil
		}
	}
	return volume.Volume{}, docker.NewEngineError("inspect volume", name, errors.New("get "+name+": no such volume"))
}

func (f *fakeEngine) CreateVolume(ctx context.Context, opts volume.CreateOptions) (volume.Volume, error) {
	if err := f.record("create-volume", opts.Name); err != nil {
		return volume.Volume{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, opts)
	return volume.Volume{
		Name:       opts.Name,
		Driver:     opts.Driver,
		Labels:     opts.Labels,
		Options:    opts.DriverOpts,
		Mountpoint: "/var/lib/docker/volumes/" + opts.Name + "/_data",
		Scope:      "local",
	}, nil
}

func (f *fakeEngine) RemoveVolume(ctx context.Context, name string) error {
	return f.record("rmv", name)
}

func (f *fakeEngine) PruneVolumes(ctx context.Context) (uint64, error) {
	return f.reclaimed, f.record("prune-volumes", "")
}

func (f *fakeEngine) BuildCacheSize(ctx context.Context) (int64, error) {
	if err := f.record("buildcache", ""); err != nil {
		return 0, err
	}
	return f.buildCache, nil
}

func (f *fakeEngine) PruneBuildCache(ctx context.Context) (uint64, error) {
	return f.reclaimed, f.record("prune-builder", "")
}

func (f *fakeEngine) PruneSystem(ctx context.Context) (uint64, error) {
	return f.reclaimed, f.record("prune-system", "")
}

// =============================================================================
// Fake stores
// =============================================================================

type auditCall struct {
	Action   models.AuditAction
	Resource string
	Details  any
	UserID   string
}

type fakeAuditStore struct {
	mu    sync.Mutex
	calls []auditCall
	err   error
}

func (f *fakeAuditStore) Create(ctx context.Context, action models.AuditAction, resource string, details any, userID string) (*models.AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, auditCall{action, resource, details, userID})
	return &models.AuditLog{Action: action, Resource: resource}, nil
}

func (f *fakeAuditStore) Calls() []auditCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auditCall(nil), f.calls...)
}

type fakeMetricStore struct {
	mu      sync.Mutex
	samples []*models.ContainerMetric
	cutoff  time.Time
	err     error
}

func (f *fakeMetricStore) Create(ctx context.Context, m *models.ContainerMetric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.samples = append(f.samples, m)
	return nil
}

func (f *fakeMetricStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = cutoff
	kept := f.samples[:0]
	var removed int64
	for _, s := range f.samples {
		if s.SampledAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	f.samples = kept
	return removed, nil
}

func (f *fakeMetricStore) FindRecent(ctx context.Context, containerID string, limit int) ([]*models.ContainerMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ContainerMetric
	for _, s := range f.samples {
		if s.ContainerID == containerID {
			out = append(out, s)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMetricStore) Samples() []*models.ContainerMetric {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.ContainerMetric(nil), f.samples...)
}

type fakeAlertStore struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (f *fakeAlertStore) Create(ctx context.Context, a *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeAlertStore) Alerts() []*models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Alert(nil), f.alerts...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
	return nil
}

func (f *fakeNotifier) Notes() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.notes...)
}

// fakeRunner records commands and answers from a table keyed by the joined
// command line.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []runnerCall
	outputs map[string]CommandResult
	errs    map[string]error
}

type runnerCall struct {
	Dir  string
	Name string
	Args []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: make(map[string]CommandResult), errs: make(map[string]error)}
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) (CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runnerCall{Dir: dir, Name: name, Args: args})
	key := commandKey(name, args...)
	return f.outputs[key], f.errs[key]
}

func (f *fakeRunner) Calls() []runnerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runnerCall(nil), f.calls...)
}

func commandKey(name string, args ...string) string {
	key := name
	for _, a := range args {
		key += " " + a
	}
	return key
}

// =============================================================================
// Helpers
// =============================================================================

func newTestCache() *cache.Cache {
	return cache.New(cache.DefaultConfig())
}
