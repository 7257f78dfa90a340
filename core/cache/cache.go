// Package cache provides the in-memory TTL cache that sits between the HTTP
// surface and the Engine.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"nfcunha/vpsmanager/utils/metrics"

	"golang.org/x/sync/singleflight"
)

// Resource kinds used as cache keys.
const (
	KeyContainers = "containers"
	KeyImages     = "images"
	KeyVolumes    = "volumes"
	KeyDiskScan   = "diskScan"
	KeyProjects   = "projects"
)

// Config holds cache settings.
type Config struct {
	Enabled       bool
	SweepInterval time.Duration
	TTL           map[string]time.Duration // per-key lifetime used by GetOrLoad
	DefaultTTL    time.Duration
	// LoadTimeout bounds a shared GetOrLoad load, which outlives the caller
	// that started it.
	LoadTimeout time.Duration
}

// DefaultConfig returns the stock TTLs per resource kind.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		SweepInterval: 60 * time.Second,
		DefaultTTL:    30 * time.Second,
		LoadTimeout:   30 * time.Second,
		TTL: map[string]time.Duration{
			KeyContainers: 30 * time.Second,
			KeyImages:     60 * time.Second,
			KeyVolumes:    30 * time.Second,
			KeyDiskScan:   300 * time.Second,
			KeyProjects:   30 * time.Second,
		},
	}
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Stats is the cache summary reported by the health endpoint. TTL values are
// whole seconds.
type Stats struct {
	Size    int              `json:"size"`
	Enabled bool             `json:"enabled"`
	TTL     map[string]int64 `json:"ttl"`
}

// Cache is a TTL map. There is no capacity eviction: the key space is one
// entry per resource kind. Expired entries are never returned and are
// reclaimed by the periodic sweep.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	// gens counts invalidations per key. A load that started under an older
	// generation must not store its result.
	gens    map[string]uint64
	enabled bool
	config  Config
	now     func() time.Time
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics reports the entry count to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a cache. Call Start to run the periodic sweep.
func New(cfg Config, opts ...Option) *Cache {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultConfig().LoadTimeout
	}
	if cfg.TTL == nil {
		cfg.TTL = map[string]time.Duration{}
	}

	c := &Cache{
		entries: make(map[string]entry),
		gens:    make(map[string]uint64),
		enabled: cfg.Enabled,
		config:  cfg,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "cache")
	return c
}

// Get returns the value for key, or false if it is absent, expired, or the
// cache is disabled.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.enabled {
		return nil, false
	}
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl, overwriting unconditionally.
// A non-positive ttl uses the configured lifetime for key.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value, ttl)
}

// Generation returns the invalidation counter of key. Pass it to
// SetIfCurrent after reading the underlying resource.
func (c *Cache) Generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen, ok := c.gens[key]
	if !ok {
		c.gens[key] = 0
	}
	return gen
}

// SetIfCurrent stores value only if key has not been invalidated since gen
// was read, and reports whether it did. A value read before a mutating
// action therefore never outlives the action's invalidation.
func (c *Cache) SetIfCurrent(key string, value any, ttl time.Duration, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[key] != gen {
		c.logger.Debug("dropping stale cache load", "key", key)
		return false
	}
	return c.store(key, value, ttl)
}

func (c *Cache) store(key string, value any, ttl time.Duration) bool {
	if !c.enabled {
		return false
	}
	if ttl <= 0 {
		ttl = c.ttlFor(key)
	}
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.metrics.SetCacheEntries(len(c.entries))
	return true
}

// Invalidate removes key and discards any load of it still in flight.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.drop(key)
	c.metrics.SetCacheEntries(len(c.entries))
}

// InvalidatePattern removes every key containing substr and returns how many
// entries were removed. Loads in flight for matching keys are discarded too.
func (c *Cache) InvalidatePattern(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.Contains(key, substr) {
			removed++
		}
	}
	for key := range c.keys() {
		if strings.Contains(key, substr) {
			c.drop(key)
		}
	}
	c.metrics.SetCacheEntries(len(c.entries))
	return removed
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropAll()
}

// SetEnabled toggles the cache. Disabling also drops current entries.
func (c *Cache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = enabled
	if !enabled {
		c.dropAll()
	}
}

// drop deletes key, bumps its generation and detaches the shared load so the
// next miss starts a fresh one. Callers hold mu.
func (c *Cache) drop(key string) {
	delete(c.entries, key)
	c.gens[key]++
	c.group.Forget(key)
}

func (c *Cache) dropAll() {
	for key := range c.keys() {
		c.drop(key)
	}
	c.metrics.SetCacheEntries(0)
}

// keys returns every key that has an entry or a tracked generation.
func (c *Cache) keys() map[string]struct{} {
	out := make(map[string]struct{}, len(c.entries)+len(c.gens))
	for key := range c.entries {
		out[key] = struct{}{}
	}
	for key := range c.gens {
		out[key] = struct{}{}
	}
	return out
}

// Enabled reports whether the cache is active.
func (c *Cache) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// TTL returns the configured lifetime for key.
func (c *Cache) TTL(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttlFor(key)
}

func (c *Cache) ttlFor(key string) time.Duration {
	if ttl, ok := c.config.TTL[key]; ok && ttl > 0 {
		return ttl
	}
	return c.config.DefaultTTL
}

// Stats returns the current size, enabled flag and configured TTLs.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ttl := make(map[string]int64, len(c.config.TTL))
	for k, v := range c.config.TTL {
		ttl[k] = int64(v / time.Second)
	}
	return Stats{Size: len(c.entries), Enabled: c.enabled, TTL: ttl}
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.metrics.SetCacheEntries(len(c.entries))
	return removed
}

// GetOrLoad returns the cached value for key or calls load, caching its
// result for the key's configured TTL. Concurrent misses on the same key
// share one load. The shared load is detached from the caller that started
// it and bounded by LoadTimeout; each caller stops waiting when its own ctx
// ends. A load overtaken by Invalidate returns its value but does not cache
// it.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	gen := c.Generation(key)
	ch := c.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.LoadTimeout)
		defer cancel()

		value, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.SetIfCurrent(key, value, 0, gen)
		return value, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// Load is the typed form of GetOrLoad.
func Load[T any](ctx context.Context, c *Cache, key string, load func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		// a different type was stored under key; reload without caching
		return load(ctx)
	}
	return typed, nil
}

// =============================================================================
// Sweep loop
// =============================================================================

// Start launches the periodic sweep. Calling Start twice is a no-op.
func (c *Cache) Start() {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.wg.Add(1)
	go c.sweepLoop()
}

// Stop halts the sweep loop and waits for it to exit.
func (c *Cache) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("swept expired cache entries", "removed", n)
			}
		}
	}
}
