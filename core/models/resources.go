package models

import "time"

// Port is a container port mapping.
type Port struct {
	HostPort      uint16 `json:"hostPort"`
	ContainerPort uint16 `json:"containerPort"`
	Protocol      string `json:"protocol"`
	IsExposed     bool   `json:"isExposed"`
}

// Container is materialized from Engine state on every read.
type Container struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	ImageID string            `json:"imageId"`
	Status  string            `json:"status"`
	State   string            `json:"state"`
	Created int64             `json:"created"`
	LogSize int64             `json:"logSize"`
	Ports   []Port            `json:"ports"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// Mount is a container mount as seen by inspect.
type Mount struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	RW          bool   `json:"rw"`
}

// ContainerDetail is the inspect view of a single container.
type ContainerDetail struct {
	Container
	Command      string   `json:"command"`
	StartedAt    string   `json:"startedAt,omitempty"`
	FinishedAt   string   `json:"finishedAt,omitempty"`
	ExitCode     int      `json:"exitCode"`
	RestartCount int      `json:"restartCount"`
	LogPath      string   `json:"logPath,omitempty"`
	Mounts       []Mount  `json:"mounts"`
	Env          []string `json:"env,omitempty"`
}

// ContainerRef identifies a container referencing an image.
type ContainerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Image is derived from Engine state at read time.
type Image struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Tag        string         `json:"tag"`
	Size       int64          `json:"size"`
	Created    int64          `json:"created"`
	IsDangling bool           `json:"isDangling"`
	InUse      bool           `json:"inUse"`
	Containers []ContainerRef `json:"containers,omitempty"`
}

// Volume is derived from Engine state at read time.
type Volume struct {
	Name       string `json:"name"`
	Driver     string `json:"driver"`
	Mountpoint string `json:"mountpoint"`
	CreatedAt  string `json:"createdAt,omitempty"`
	InUse      bool   `json:"inUse"`
	Size       *int64 `json:"size,omitempty"`
}

// ImageDetail is the inspected form of a single image.
type ImageDetail struct {
	ID            string            `json:"id"`
	RepoTags      []string          `json:"repoTags"`
	RepoDigests   []string          `json:"repoDigests"`
	Parent        string            `json:"parent,omitempty"`
	Comment       string            `json:"comment,omitempty"`
	Created       string            `json:"created"`
	DockerVersion string            `json:"dockerVersion,omitempty"`
	Author        string            `json:"author,omitempty"`
	Architecture  string            `json:"architecture"`
	Os            string            `json:"os"`
	Size          int64             `json:"size"`
	Labels        map[string]string `json:"labels,omitempty"`
	ExposedPorts  []string          `json:"exposedPorts,omitempty"`
	Env           []string          `json:"env,omitempty"`
	Cmd           []string          `json:"cmd,omitempty"`
	Entrypoint    []string          `json:"entrypoint,omitempty"`
	Volumes       []string          `json:"volumes,omitempty"`
	WorkingDir    string            `json:"workingDir,omitempty"`
	User          string            `json:"user,omitempty"`
	Layers        []string          `json:"layers,omitempty"`
}

// ImageSearchResult is one registry search hit.
type ImageSearchResult struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Stars       int    `json:"stars"`
	Official    bool   `json:"official"`
}

// VolumeDetail is the inspected form of a single volume.
type VolumeDetail struct {
	Volume
	Scope   string            `json:"scope"`
	Labels  map[string]string `json:"labels,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// Project aggregate statuses.
const (
	ProjectRunning = "running"
	ProjectStopped = "stopped"
	ProjectPartial = "partial"
	ProjectUnknown = "unknown"
)

// Project is a compose project discovered on the host filesystem.
type Project struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Path           string `json:"path"`
	Directory      string `json:"directory"`
	Status         string `json:"status"`
	ContainerCount int    `json:"containerCount"`
	RunningCount   int    `json:"runningCount"`
}

// DiskUsage is one scanned path.
type DiskUsage struct {
	ID            string    `json:"id"`
	Path          string    `json:"path"`
	Size          int64     `json:"size"`
	FormattedSize string    `json:"formattedSize"`
	ScannedAt     time.Time `json:"scannedAt"`
}
