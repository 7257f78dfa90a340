package service

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"nfcunha/vpsmanager/core/cache"
	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/apperr"
	"nfcunha/vpsmanager/utils/docker"
	"nfcunha/vpsmanager/utils/sizeutil"

	"github.com/docker/docker/api/types/volume"
)

// PruneVolumes is the PruneResult target reported by VolumeService.Prune.
const PruneVolumes = "volumes"

const defaultVolumeDriver = "local"

// volumeNamePattern is the name grammar the Engine accepts for volumes.
var volumeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]+$`)

// CreateVolumeRequest describes a volume to create.
type CreateVolumeRequest struct {
	Name       string            `json:"name"`
	Driver     string            `json:"driver"`
	DriverOpts map[string]string `json:"driverOpts"`
	Labels     map[string]string `json:"labels"`
}

// VolumeService handles volume-related operations.
type VolumeService struct {
	engine docker.Engine
	cache  *cache.Cache
	audit  *Auditor
	logger *slog.Logger
}

// NewVolumeService creates a new volume service.
func NewVolumeService(engine docker.Engine, c *cache.Cache, audit *Auditor) *VolumeService {
	return &VolumeService{
		engine: engine,
		cache:  c,
		audit:  audit,
		logger: slog.Default().With("component", "volumes"),
	}
}

// FindAll returns every volume with its in-use flag, served from the cache
// when fresh.
func (s *VolumeService) FindAll(ctx context.Context) ([]models.Volume, error) {
	return cache.Load(ctx, s.cache, cache.KeyVolumes, s.list)
}

// Refresh re-reads the volume list from the Engine and repopulates the cache.
func (s *VolumeService) Refresh(ctx context.Context) error {
	gen := s.cache.Generation(cache.KeyVolumes)
	list, err := s.list(ctx)
	if err != nil {
		return err
	}
	s.cache.SetIfCurrent(cache.KeyVolumes, list, 0, gen)
	return nil
}

// Inspect returns the full description of one volume.
func (s *VolumeService) Inspect(ctx context.Context, name string) (*models.VolumeDetail, error) {
	v, err := s.engine.InspectVolume(ctx, name)
	if err != nil {
		return nil, notFoundOr(err, "volume", name)
	}
	return volumeDetail(v), nil
}

// Create creates a volume, defaulting to the local driver.
func (s *VolumeService) Create(ctx context.Context, req CreateVolumeRequest, userID string) (*models.VolumeDetail, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, apperr.Invalid("name", "volume name is required")
	}
	if !volumeNamePattern.MatchString(req.Name) {
		return nil, apperr.Invalid("name", "volume name may only contain letters, digits, '_', '.' and '-'")
	}
	if req.Driver == "" {
		req.Driver = defaultVolumeDriver
	}

	v, err := s.engine.CreateVolume(ctx, volume.CreateOptions{
		Name:       req.Name,
		Driver:     req.Driver,
		DriverOpts: req.DriverOpts,
		Labels:     req.Labels,
	})
	if err != nil {
		s.logger.Error("failed to create volume", "name", req.Name, "error", err)
		return nil, err
	}

	s.audit.Record(ctx, models.ActionCreateVolume, v.Name, map[string]string{
		"name":   v.Name,
		"driver": v.Driver,
	}, userID)
	s.cache.Invalidate(cache.KeyVolumes)

	s.logger.Info("volume created", "name", v.Name, "driver", v.Driver)
	return volumeDetail(v), nil
}

// Prune removes every volume no container references.
func (s *VolumeService) Prune(ctx context.Context, userID string) (*PruneResult, error) {
	reclaimed, err := s.engine.PruneVolumes(ctx)
	if err != nil {
		s.logger.Error("volume prune failed", "error", err)
		return nil, err
	}

	s.audit.Record(ctx, models.ActionPruneVolumes, PruneVolumes, map[string]any{"spaceReclaimed": reclaimed}, userID)
	s.cache.Invalidate(cache.KeyVolumes)
	s.cache.Invalidate(cache.KeyDiskScan)

	s.logger.Info("volumes pruned", "reclaimed", reclaimed)
	return &PruneResult{
		Target:             PruneVolumes,
		SpaceReclaimed:     reclaimed,
		FormattedReclaimed: sizeutil.Format(int64(reclaimed)),
	}, nil
}

func volumeDetail(v volume.Volume) *models.VolumeDetail {
	return &models.VolumeDetail{
		Volume: models.Volume{
			Name:       v.Name,
			Driver:     v.Driver,
			Mountpoint: v.Mountpoint,
			CreatedAt:  v.CreatedAt,
		},
		Scope:   v.Scope,
		Labels:  v.Labels,
		Options: v.Options,
	}
}

func (s *VolumeService) list(ctx context.Context) ([]models.Volume, error) {
	volumes, err := s.engine.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}
	containers, err := s.engine.ListContainers(ctx, true)
	if err != nil {
		return nil, err
	}

	used := make(map[string]bool)
	for _, c := range containers {
		for _, m := range c.Mounts {
			if m.Name != "" {
				used[m.Name] = true
			}
		}
	}

	result := make([]models.Volume, 0, len(volumes))
	for _, v := range volumes {
		if v == nil {
			continue
		}
		vol := models.Volume{
			Name:       v.Name,
			Driver:     v.Driver,
			Mountpoint: v.Mountpoint,
			CreatedAt:  v.CreatedAt,
			InUse:      used[v.Name],
		}
		// UsageData is only filled by the disk usage endpoint; -1 means unknown.
		if v.UsageData != nil && v.UsageData.Size >= 0 {
			size := v.UsageData.Size
			vol.Size = &size
		}
		result = append(result, vol)
	}

	return result, nil
}

// Delete force-removes a volume, audits it and invalidates the volume list.
func (s *VolumeService) Delete(ctx context.Context, name, userID string) error {
	if err := s.engine.RemoveVolume(ctx, name); err != nil {
		s.logger.Error("failed to remove volume", "name", name, "error", err)
		return notFoundOr(err, "volume", name)
	}

	s.audit.Record(ctx, models.ActionDeleteVolume, name, map[string]string{"name": name}, userID)
	s.cache.Invalidate(cache.KeyVolumes)

	s.logger.Info("volume deleted", "name", name)
	return nil
}
