package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"nfcunha/vpsmanager/core/cache"
	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/apperr"
	"nfcunha/vpsmanager/utils/docker"
	"nfcunha/vpsmanager/utils/sizeutil"

	"github.com/docker/docker/pkg/jsonmessage"
)

const untagged = "<none>"

// Registry search limits.
const (
	DefaultSearchLimit = 25
	MaxSearchLimit     = 100
)

// PruneImages is the PruneResult target reported by ImageService.Prune.
const PruneImages = "images"

// ImageService handles image-related operations.
type ImageService struct {
	engine docker.Engine
	cache  *cache.Cache
	audit  *Auditor
	logger *slog.Logger
}

// NewImageService creates a new image service.
func NewImageService(engine docker.Engine, c *cache.Cache, audit *Auditor) *ImageService {
	return &ImageService{
		engine: engine,
		cache:  c,
		audit:  audit,
		logger: slog.Default().With("component", "images"),
	}
}

// FindAll returns every image with its in-use flag, served from the cache
// when fresh.
func (s *ImageService) FindAll(ctx context.Context) ([]models.Image, error) {
	return cache.Load(ctx, s.cache, cache.KeyImages, s.list)
}

// Refresh re-reads the image list from the Engine and repopulates the cache.
func (s *ImageService) Refresh(ctx context.Context) error {
	gen := s.cache.Generation(cache.KeyImages)
	list, err := s.list(ctx)
	if err != nil {
		return err
	}
	s.cache.SetIfCurrent(cache.KeyImages, list, 0, gen)
	return nil
}

// list reads images and containers together so the in-use set always
// reflects the same moment as the image list.
func (s *ImageService) list(ctx context.Context) ([]models.Image, error) {
	images, err := s.engine.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	containers, err := s.engine.ListContainers(ctx, true)
	if err != nil {
		return nil, err
	}

	users := make(map[string][]models.ContainerRef)
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		users[c.ImageID] = append(users[c.ImageID], models.ContainerRef{ID: c.ID, Name: name})
	}

	result := make([]models.Image, 0, len(images))
	for _, img := range images {
		name, tag := imageName(img.RepoTags)
		refs := users[img.ID]
		result = append(result, models.Image{
			ID:         img.ID,
			Name:       name,
			Tag:        tag,
			Size:       img.Size,
			Created:    img.Created,
			IsDangling: isDangling(img.RepoTags),
			InUse:      len(refs) > 0,
			Containers: refs,
		})
	}

	return result, nil
}

// Delete force-removes an image, audits it and invalidates the image list.
func (s *ImageService) Delete(ctx context.Context, id, userID string) error {
	if err := s.engine.RemoveImage(ctx, id); err != nil {
		s.logger.Error("failed to remove image", "id", docker.ShortID(id), "error", err)
		return notFoundOr(err, "image", id)
	}

	s.audit.Record(ctx, models.ActionDeleteImage, id, map[string]string{"id": id}, userID)
	s.cache.Invalidate(cache.KeyImages)

	s.logger.Info("image deleted", "id", docker.ShortID(id))
	return nil
}

// Inspect returns the full description of one image.
func (s *ImageService) Inspect(ctx context.Context, id string) (*models.ImageDetail, error) {
	info, err := s.engine.InspectImage(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "image", id)
	}

	detail := &models.ImageDetail{
		ID:            info.ID,
		RepoTags:      info.RepoTags,
		RepoDigests:   info.RepoDigests,
		Parent:        info.Parent,
		Comment:       info.Comment,
		Created:       info.Created,
		DockerVersion: info.DockerVersion,
		Author:        info.Author,
		Architecture:  info.Architecture,
		Os:            info.Os,
		Size:          info.Size,
		Layers:        info.RootFS.Layers,
	}
	if cfg := info.Config; cfg != nil {
		detail.Labels = cfg.Labels
		detail.Env = cfg.Env
		detail.Cmd = cfg.Cmd
		detail.Entrypoint = cfg.Entrypoint
		detail.WorkingDir = cfg.WorkingDir
		detail.User = cfg.User
		for port := range cfg.ExposedPorts {
			detail.ExposedPorts = append(detail.ExposedPorts, string(port))
		}
		for vol := range cfg.Volumes {
			detail.Volumes = append(detail.Volumes, vol)
		}
		sort.Strings(detail.ExposedPorts)
		sort.Strings(detail.Volumes)
	}

	return detail, nil
}

// PullProgress is one line of an image pull's progress stream.
type PullProgress struct {
	ID      string `json:"id,omitempty"`
	Status  string `json:"status"`
	Current int64  `json:"current,omitempty"`
	Total   int64  `json:"total,omitempty"`
}

// Pull fetches ref from its registry and hands every progress line to
// progress. An error line in the stream fails the pull; nothing is audited
// unless the stream ends cleanly.
func (s *ImageService) Pull(ctx context.Context, ref, userID string, progress func(PullProgress)) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return apperr.Invalid("image", "image reference is required")
	}

	reader, err := s.engine.PullImage(ctx, ref)
	if err != nil {
		s.logger.Error("failed to start image pull", "image", ref, "error", err)
		return err
	}
	defer reader.Close()

	dec := json.NewDecoder(reader)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			s.logger.Error("image pull interrupted", "image", ref, "error", err)
			return fmt.Errorf("failed to read pull progress: %w", err)
		}

		if msg.Error != nil || msg.ErrorMessage != "" {
			text := msg.ErrorMessage
			if msg.Error != nil && msg.Error.Message != "" {
				text = msg.Error.Message
			}
			err := docker.NewEngineError("pull image", ref, errors.New(text))
			s.logger.Error("image pull failed", "image", ref, "error", err)
			return err
		}

		if progress != nil {
			p := PullProgress{ID: msg.ID, Status: msg.Status}
			if msg.Progress != nil {
				p.Current = msg.Progress.Current
				p.Total = msg.Progress.Total
			}
			progress(p)
		}
	}

	s.audit.Record(ctx, models.ActionPullImage, ref, map[string]string{"image": ref}, userID)
	s.cache.Invalidate(cache.KeyImages)

	s.logger.Info("image pulled", "image", ref)
	return nil
}

// Search queries the registry for images matching term. limit is clamped to
// MaxSearchLimit and falls back to DefaultSearchLimit when not positive.
func (s *ImageService) Search(ctx context.Context, term string, limit int) ([]models.ImageSearchResult, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, apperr.Invalid("term", "search term is required")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	hits, err := s.engine.SearchImages(ctx, term, limit)
	if err != nil {
		s.logger.Error("image search failed", "term", term, "error", err)
		return nil, err
	}

	results := make([]models.ImageSearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, models.ImageSearchResult{
			Name:        h.Name,
			Description: h.Description,
			Stars:       h.StarCount,
			Official:    h.IsOfficial,
		})
	}
	return results, nil
}

// BulkDelete removes every image in ids. Each id is attempted independently.
func (s *ImageService) BulkDelete(ctx context.Context, ids []string, userID string) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, apperr.Invalid("imageIds", "no images specified")
	}

	results := make([]BulkOperationResult, 0, len(ids))
	for _, id := range ids {
		result := BulkOperationResult{ID: id}
		if err := s.engine.RemoveImage(ctx, id); err != nil {
			result.Error = err.Error()
			s.logger.Error("failed to remove image", "id", docker.ShortID(id), "error", err)
		} else {
			result.Success = true
			s.audit.Record(ctx, models.ActionDeleteImage, id, map[string]any{"id": id, "bulk": true}, userID)
		}
		results = append(results, result)
	}

	s.cache.Invalidate(cache.KeyImages)

	succeeded := countSuccessful(results)
	return &BulkResult{
		Success: true,
		Results: results,
		Summary: fmt.Sprintf("%d succeeded, %d failed", succeeded, len(results)-succeeded),
	}, nil
}

// Prune removes dangling images, or with all every image no container uses.
func (s *ImageService) Prune(ctx context.Context, all bool, userID string) (*PruneResult, error) {
	reclaimed, err := s.engine.PruneImages(ctx, all)
	if err != nil {
		s.logger.Error("image prune failed", "all", all, "error", err)
		return nil, err
	}

	s.audit.Record(ctx, models.ActionPruneImages, PruneImages, map[string]any{
		"all":            all,
		"spaceReclaimed": reclaimed,
	}, userID)
	s.cache.Invalidate(cache.KeyImages)
	s.cache.Invalidate(cache.KeyDiskScan)

	s.logger.Info("images pruned", "all", all, "reclaimed", reclaimed)
	return &PruneResult{
		Target:             PruneImages,
		SpaceReclaimed:     reclaimed,
		FormattedReclaimed: sizeutil.Format(int64(reclaimed)),
	}, nil
}

// imageName returns the primary repo:tag and the tag part, or <none>.
func imageName(repoTags []string) (string, string) {
	if len(repoTags) == 0 || repoTags[0] == "" {
		return untagged, untagged
	}
	name := repoTags[0]
	i := strings.LastIndex(name, ":")
	if i < 0 || strings.Contains(name[i+1:], "/") {
		return name, untagged
	}
	return name, name[i+1:]
}

func isDangling(repoTags []string) bool {
	return len(repoTags) == 0 || repoTags[0] == "<none>:<none>"
}
