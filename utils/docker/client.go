// Package docker provides the Engine gateway: a thin typed wrapper around the
// Docker SDK client shared by every service.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// stopTimeoutSeconds is the grace period given to stop and restart.
const stopTimeoutSeconds = 10

// Engine is the set of Engine calls the services depend on. Every failure is
// returned as an *EngineError carrying the raw Engine message.
type Engine interface {
	Ping(ctx context.Context) error

	ListContainers(ctx context.Context, all bool) ([]types.Container, error)
	InspectContainer(ctx context.Context, id string) (types.ContainerJSON, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	RestartContainer(ctx context.Context, id string) error
	PauseContainer(ctx context.Context, id string) error
	UnpauseContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	Exec(ctx context.Context, id string, cmd []string, tty bool) (io.ReadWriteCloser, error)
	Logs(ctx context.Context, id string, tail string) (string, error)
	FollowLogs(ctx context.Context, id string, tail string) (io.ReadCloser, error)
	Stats(ctx context.Context, id string) (*container.StatsResponse, error)
	SubscribeEvents(ctx context.Context, args filters.Args) (<-chan events.Message, <-chan error)

	ListImages(ctx context.Context) ([]image.Summary, error)
	InspectImage(ctx context.Context, id string) (types.ImageInspect, error)
	PullImage(ctx context.Context, ref string) (io.ReadCloser, error)
	SearchImages(ctx context.Context, term string, limit int) ([]registry.SearchResult, error)
	RemoveImage(ctx context.Context, id string) error
	PruneImages(ctx context.Context, all bool) (uint64, error)
	ListVolumes(ctx context.Context) ([]*volume.Volume, error)
	InspectVolume(ctx context.Context, name string) (volume.Volume, error)
	CreateVolume(ctx context.Context, opts volume.CreateOptions) (volume.Volume, error)
	RemoveVolume(ctx context.Context, name string) error
	PruneVolumes(ctx context.Context) (uint64, error)

	BuildCacheSize(ctx context.Context) (int64, error)
	PruneBuildCache(ctx context.Context) (uint64, error)
	PruneSystem(ctx context.Context) (uint64, error)
}

// Client wraps the Docker SDK client and implements Engine.
type Client struct {
	*client.Client
}

var _ Engine = (*Client)(nil)

// NewClient creates a new Docker client. An empty host falls back to
// DOCKER_HOST or unix:///var/run/docker.sock.
func NewClient(host string) (*Client, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	slog.Debug("docker client created", "host", cli.DaemonHost())
	return &Client{Client: cli}, nil
}

// Ping verifies connection to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.Client.Ping(ctx); err != nil {
		return wrap("ping", "", err)
	}
	return nil
}

// =============================================================================
// Containers
// =============================================================================

// ListContainers lists containers; all includes stopped ones.
func (c *Client) ListContainers(ctx context.Context, all bool) ([]types.Container, error) {
	list, err := c.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, wrap("list containers", "", err)
	}
	return list, nil
}

// InspectContainer returns the full container document.
func (c *Client) InspectContainer(ctx context.Context, id string) (types.ContainerJSON, error) {
	info, err := c.ContainerInspect(ctx, id)
	if err != nil {
		return types.ContainerJSON{}, wrap("inspect container", id, err)
	}
	return info, nil
}

// StartContainer starts a stopped container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return wrap("start container", id, err)
	}
	return nil
}

// StopContainer stops a running container.
func (c *Client) StopContainer(ctx context.Context, id string) error {
	timeout := stopTimeoutSeconds
	if err := c.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return wrap("stop container", id, err)
	}
	return nil
}

// RestartContainer restarts a container.
func (c *Client) RestartContainer(ctx context.Context, id string) error {
	timeout := stopTimeoutSeconds
	if err := c.ContainerRestart(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return wrap("restart container", id, err)
	}
	return nil
}

// PauseContainer freezes every process in a container.
func (c *Client) PauseContainer(ctx context.Context, id string) error {
	if err := c.ContainerPause(ctx, id); err != nil {
		return wrap("pause container", id, err)
	}
	return nil
}

// UnpauseContainer resumes a paused container.
func (c *Client) UnpauseContainer(ctx context.Context, id string) error {
	if err := c.ContainerUnpause(ctx, id); err != nil {
		return wrap("unpause container", id, err)
	}
	return nil
}

// RemoveContainer force-removes a container without a stop grace period.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	if err := c.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return wrap("remove container", id, err)
	}
	return nil
}

// Exec creates an attached exec session inside a container and returns its
// hijacked stream. Closing the stream ends the session.
func (c *Client) Exec(ctx context.Context, id string, cmd []string, tty bool) (io.ReadWriteCloser, error) {
	created, err := c.ContainerExecCreate(ctx, id, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          tty,
		Cmd:          cmd,
	})
	if err != nil {
		return nil, wrap("create exec", id, err)
	}

	resp, err := c.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: tty})
	if err != nil {
		return nil, wrap("attach exec", id, err)
	}

	return &hijackedStream{resp: resp}, nil
}

// Logs returns the last tail lines of a container's stdout and stderr.
func (c *Client) Logs(ctx context.Context, id string, tail string) (string, error) {
	info, err := c.InspectContainer(ctx, id)
	if err != nil {
		return "", err
	}

	reader, err := c.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
		Timestamps: true,
	})
	if err != nil {
		return "", wrap("container logs", id, err)
	}
	defer reader.Close()

	var out bytes.Buffer
	if info.Config != nil && info.Config.Tty {
		_, err = io.Copy(&out, reader)
	} else {
		_, err = stdcopy.StdCopy(&out, &out, reader)
	}
	if err != nil {
		return "", wrap("read container logs", id, err)
	}

	return out.String(), nil
}

// FollowLogs streams a container's output from the last tail lines onward
// until ctx ends or the container stops. Non-TTY output is demultiplexed so
// the reader yields plain text.
func (c *Client) FollowLogs(ctx context.Context, id string, tail string) (io.ReadCloser, error) {
	info, err := c.InspectContainer(ctx, id)
	if err != nil {
		return nil, err
	}

	reader, err := c.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       tail,
		Timestamps: true,
	})
	if err != nil {
		return nil, wrap("container logs", id, err)
	}
	if info.Config != nil && info.Config.Tty {
		return reader, nil
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, reader)
		pw.CloseWithError(err)
	}()
	return &demuxedLogs{PipeReader: pr, src: reader}, nil
}

// demuxedLogs closes both the pipe and the Engine stream feeding it.
type demuxedLogs struct {
	*io.PipeReader
	src io.ReadCloser
}

func (d *demuxedLogs) Close() error {
	err := d.src.Close()
	_ = d.PipeReader.Close()
	return err
}

// Stats returns a single resource usage sample for a container.
func (c *Client) Stats(ctx context.Context, id string) (*container.StatsResponse, error) {
	resp, err := c.ContainerStats(ctx, id, false)
	if err != nil {
		return nil, wrap("container stats", id, err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, wrap("decode container stats", id, err)
	}
	return &stats, nil
}

// SubscribeEvents opens the Engine event feed. Both channels stop when ctx is
// cancelled.
func (c *Client) SubscribeEvents(ctx context.Context, args filters.Args) (<-chan events.Message, <-chan error) {
	return c.Events(ctx, events.ListOptions{Filters: args})
}

// =============================================================================
// Images and volumes
// =============================================================================

// ListImages lists every image including intermediate layers.
func (c *Client) ListImages(ctx context.Context) ([]image.Summary, error) {
	list, err := c.ImageList(ctx, image.ListOptions{All: true})
	if err != nil {
		return nil, wrap("list images", "", err)
	}
	return list, nil
}

// InspectImage returns the full image document.
func (c *Client) InspectImage(ctx context.Context, id string) (types.ImageInspect, error) {
	info, _, err := c.ImageInspectWithRaw(ctx, id)
	if err != nil {
		return types.ImageInspect{}, wrap("inspect image", id, err)
	}
	return info, nil
}

// PullImage starts pulling ref and returns the Engine's JSON progress stream.
func (c *Client) PullImage(ctx context.Context, ref string) (io.ReadCloser, error) {
	reader, err := c.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return nil, wrap("pull image", ref, err)
	}
	return reader, nil
}

// SearchImages queries the configured registry for term.
func (c *Client) SearchImages(ctx context.Context, term string, limit int) ([]registry.SearchResult, error) {
	results, err := c.ImageSearch(ctx, term, registry.SearchOptions{Limit: limit})
	if err != nil {
		return nil, wrap("search images", term, err)
	}
	return results, nil
}

// PruneImages removes dangling images, or with all every image no container
// uses.
func (c *Client) PruneImages(ctx context.Context, all bool) (uint64, error) {
	args := filters.NewArgs()
	if all {
		args.Add("dangling", "false")
	}
	report, err := c.ImagesPrune(ctx, args)
	if err != nil {
		return 0, wrap("prune images", "", err)
	}
	return report.SpaceReclaimed, nil
}

// RemoveImage force-removes an image.
func (c *Client) RemoveImage(ctx context.Context, id string) error {
	if _, err := c.ImageRemove(ctx, id, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
		return wrap("remove image", id, err)
	}
	return nil
}

// ListVolumes lists every volume.
func (c *Client) ListVolumes(ctx context.Context) ([]*volume.Volume, error) {
	resp, err := c.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, wrap("list volumes", "", err)
	}
	return resp.Volumes, nil
}

// InspectVolume returns a single volume.
func (c *Client) InspectVolume(ctx context.Context, name string) (volume.Volume, error) {
	v, err := c.VolumeInspect(ctx, name)
	if err != nil {
		return volume.Volume{}, wrap("inspect volume", name, err)
	}
	return v, nil
}

// CreateVolume creates a volume.
func (c *Client) CreateVolume(ctx context.Context, opts volume.CreateOptions) (volume.Volume, error) {
	v, err := c.VolumeCreate(ctx, opts)
	if err != nil {
		return volume.Volume{}, wrap("create volume", opts.Name, err)
	}
	return v, nil
}

// PruneVolumes removes every volume, named or anonymous, that no container
// references.
func (c *Client) PruneVolumes(ctx context.Context) (uint64, error) {
	report, err := c.VolumesPrune(ctx, filters.NewArgs(filters.Arg("all", "true")))
	if err != nil {
		return 0, wrap("prune volumes", "", err)
	}
	return report.SpaceReclaimed, nil
}

// RemoveVolume force-removes a volume.
func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	if err := c.VolumeRemove(ctx, name, true); err != nil {
		return wrap("remove volume", name, err)
	}
	return nil
}

// =============================================================================
// System
// =============================================================================

// BuildCacheSize returns the total size of the builder cache in bytes.
func (c *Client) BuildCacheSize(ctx context.Context) (int64, error) {
	du, err := c.DiskUsage(ctx, types.DiskUsageOptions{
		Types: []types.DiskUsageObject{types.BuildCacheObject},
	})
	if err != nil {
		return 0, wrap("disk usage", "", err)
	}

	var total int64
	for _, entry := range du.BuildCache {
		if entry != nil {
			total += entry.Size
		}
	}
	return total, nil
}

// PruneBuildCache removes all builder cache entries.
func (c *Client) PruneBuildCache(ctx context.Context) (uint64, error) {
	report, err := c.BuildCachePrune(ctx, types.BuildCachePruneOptions{All: true})
	if err != nil {
		return 0, wrap("prune build cache", "", err)
	}
	return report.SpaceReclaimed, nil
}

// PruneSystem removes stopped containers, dangling images, unused volumes and
// the build cache, returning the total space reclaimed.
func (c *Client) PruneSystem(ctx context.Context) (uint64, error) {
	var reclaimed uint64

	containers, err := c.ContainersPrune(ctx, filters.NewArgs())
	if err != nil {
		return reclaimed, wrap("prune containers", "", err)
	}
	reclaimed += containers.SpaceReclaimed

	images, err := c.ImagesPrune(ctx, filters.NewArgs())
	if err != nil {
		return reclaimed, wrap("prune images", "", err)
	}
	reclaimed += images.SpaceReclaimed

	volumes, err := c.VolumesPrune(ctx, filters.NewArgs())
	if err != nil {
		return reclaimed, wrap("prune volumes", "", err)
	}
	reclaimed += volumes.SpaceReclaimed

	cache, err := c.PruneBuildCache(ctx)
	if err != nil {
		return reclaimed, err
	}
	return reclaimed + cache, nil
}

// =============================================================================
// Exec stream
// =============================================================================

// hijackedStream adapts a hijacked exec connection to io.ReadWriteCloser.
type hijackedStream struct {
	resp types.HijackedResponse
}

func (s *hijackedStream) Read(p []byte) (int, error) {
	return s.resp.Reader.Read(p)
}

func (s *hijackedStream) Write(p []byte) (int, error) {
	return s.resp.Conn.Write(p)
}

func (s *hijackedStream) Close() error {
	s.resp.Close()
	return nil
}

// ShortID truncates an Engine id to the 12 characters the CLI shows.
func ShortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
