package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"nfcunha/vpsmanager/core/cache"
	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/apperr"
	"nfcunha/vpsmanager/utils/docker"
	"nfcunha/vpsmanager/utils/sizeutil"

	"golang.org/x/sync/errgroup"
)

// BuildCacheEntryID identifies the Engine build cache in scan results.
const BuildCacheEntryID = "docker-build-cache"

// Prune targets.
const (
	PruneBuildCache = "build-cache"
	PruneSystem     = "system"
)

// ScannerConfig configures the disk scanner.
type ScannerConfig struct {
	// HostRoot is where the host filesystem is mounted. Scanned paths are
	// reported without it.
	HostRoot string

	// Paths are scanned by Scan.
	Paths []string

	// ExploreLimit caps the children returned by Explore. Default: 50.
	ExploreLimit int
}

// Scanner measures host disk usage and prunes Engine caches.
type Scanner struct {
	engine docker.Engine
	runner Runner
	cache  *cache.Cache
	audit  *Auditor
	config ScannerConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewScanner creates a new scanner.
func NewScanner(engine docker.Engine, runner Runner, c *cache.Cache, audit *Auditor, config ScannerConfig) *Scanner {
	if config.ExploreLimit <= 0 {
		config.ExploreLimit = 50
	}
	return &Scanner{
		engine: engine,
		runner: runner,
		cache:  c,
		audit:  audit,
		config: config,
		logger: slog.Default().With("component", "scanner"),
		now:    time.Now,
	}
}

// Scan returns the size of each configured path plus the build cache,
// largest first, served from the cache when fresh.
func (s *Scanner) Scan(ctx context.Context) ([]models.DiskUsage, error) {
	return cache.Load(ctx, s.cache, cache.KeyDiskScan, s.scan)
}

// Refresh re-scans and repopulates the cache.
func (s *Scanner) Refresh(ctx context.Context) error {
	gen := s.cache.Generation(cache.KeyDiskScan)
	usage, err := s.scan(ctx)
	if err != nil {
		return err
	}
	s.cache.SetIfCurrent(cache.KeyDiskScan, usage, 0, gen)
	return nil
}

func (s *Scanner) scan(ctx context.Context) ([]models.DiskUsage, error) {
	sizes := make([]int64, len(s.config.Paths))
	found := make([]bool, len(s.config.Paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range s.config.Paths {
		g.Go(func() error {
			size, err := s.du(gctx, p)
			if err != nil {
				s.logger.Debug("could not scan path", "path", p, "error", err)
				return nil
			}
			sizes[i], found[i] = size, true
			return nil
		})
	}
	_ = g.Wait()

	scannedAt := s.now().UTC()
	results := make([]models.DiskUsage, 0, len(s.config.Paths)+1)
	for i, p := range s.config.Paths {
		if found[i] {
			results = append(results, newDiskUsage("disk-"+p, p, sizes[i], scannedAt))
		}
	}

	if size, err := s.engine.BuildCacheSize(ctx); err == nil {
		results = append(results, newDiskUsage(BuildCacheEntryID, "Docker Build Cache", size, scannedAt))
	} else {
		s.logger.Debug("could not read build cache size", "error", err)
	}

	sortBySize(results)
	return results, nil
}

// Explore returns the immediate children of dir with their sizes, largest
// first, capped at the configured limit.
func (s *Scanner) Explore(ctx context.Context, dir string) ([]models.DiskUsage, error) {
	clean, err := cleanHostPath(dir)
	if err != nil {
		return nil, err
	}

	full := s.resolve(clean)
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound("directory", clean)
		}
		return nil, fmt.Errorf("failed to read %s: %w", clean, err)
	}

	results := []models.DiskUsage{}
	if len(entries) == 0 {
		return results, nil
	}

	args := []string{"-sb"}
	for _, e := range entries {
		args = append(args, filepath.Join(full, e.Name()))
	}

	// du exits non-zero when a single child is unreadable but still prints
	// the rest, so parse whatever came back.
	out, runErr := s.runner.Run(ctx, "", "du", args...)
	scannedAt := s.now().UTC()
	for _, line := range strings.Split(strings.TrimSpace(out.Stdout), "\n") {
		size, path, ok := parseDuLine(line)
		if !ok {
			continue
		}
		rel := s.strip(path)
		results = append(results, newDiskUsage("explore-"+rel, rel, size, scannedAt))
	}
	if len(results) == 0 && runErr != nil {
		return nil, runErr
	}

	sortBySize(results)
	if len(results) > s.config.ExploreLimit {
		results = results[:s.config.ExploreLimit]
	}
	return results, nil
}

// PruneResult reports what a prune reclaimed.
type PruneResult struct {
	Target             string `json:"target"`
	SpaceReclaimed     uint64 `json:"spaceReclaimed"`
	FormattedReclaimed string `json:"formattedReclaimed"`
}

// Prune clears the build cache, or with PruneSystem every unused Engine
// object. The scan cache is invalidated either way.
func (s *Scanner) Prune(ctx context.Context, target, userID string) (*PruneResult, error) {
	if target == "" {
		target = PruneBuildCache
	}

	var (
		reclaimed uint64
		err       error
		action    models.AuditAction
	)
	switch target {
	case PruneBuildCache:
		action = models.ActionPruneBuildCache
		reclaimed, err = s.engine.PruneBuildCache(ctx)
	case PruneSystem:
		action = models.ActionPruneSystem
		reclaimed, err = s.engine.PruneSystem(ctx)
	default:
		return nil, apperr.Invalid("target", fmt.Sprintf("unsupported prune target %q", target))
	}
	if err != nil {
		s.logger.Error("prune failed", "target", target, "error", err)
		return nil, err
	}

	s.audit.Record(ctx, action, target, map[string]any{"spaceReclaimed": reclaimed}, userID)
	s.cache.Invalidate(cache.KeyDiskScan)
	if target == PruneSystem {
		s.cache.Invalidate(cache.KeyImages)
		s.cache.Invalidate(cache.KeyVolumes)
		s.cache.Invalidate(cache.KeyContainers)
	}

	s.logger.Info("prune completed", "target", target, "reclaimed", reclaimed)
	return &PruneResult{
		Target:             target,
		SpaceReclaimed:     reclaimed,
		FormattedReclaimed: sizeutil.Format(int64(reclaimed)),
	}, nil
}

// du returns the apparent size in bytes of path under the host root.
func (s *Scanner) du(ctx context.Context, path string) (int64, error) {
	out, err := s.runner.Run(ctx, "", "du", "-sb", s.resolve(path))
	if err != nil {
		return 0, err
	}
	size, _, ok := parseDuLine(strings.TrimSpace(out.Stdout))
	if !ok {
		return 0, fmt.Errorf("unexpected du output %q", out.Stdout)
	}
	return size, nil
}

func (s *Scanner) resolve(path string) string {
	if s.config.HostRoot == "" {
		return path
	}
	return filepath.Join(s.config.HostRoot, path)
}

func (s *Scanner) strip(path string) string {
	if s.config.HostRoot == "" {
		return path
	}
	rel := strings.TrimPrefix(path, filepath.Clean(s.config.HostRoot))
	if rel == "" {
		return "/"
	}
	return rel
}

// parseDuLine splits "<bytes>\t<path>".
func parseDuLine(line string) (int64, string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, "", false
	}
	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	return size, rest, true
}

// cleanHostPath validates an absolute host path and removes any traversal.
func cleanHostPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", apperr.Invalid("path", "path is required")
	}
	if !strings.HasPrefix(p, "/") {
		return "", apperr.Invalid("path", "path must be absolute")
	}
	return filepath.Clean(p), nil
}

func newDiskUsage(id, path string, size int64, at time.Time) models.DiskUsage {
	return models.DiskUsage{
		ID:            id,
		Path:          path,
		Size:          size,
		FormattedSize: sizeutil.Format(size),
		ScannedAt:     at,
	}
}

func sortBySize(items []models.DiskUsage) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Size > items[j].Size })
}
