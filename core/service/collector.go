package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/docker"
	"nfcunha/vpsmanager/utils/metrics"
	"nfcunha/vpsmanager/utils/statsutil"

	"github.com/docker/docker/api/types"
)

// MetricStore persists and prunes container samples.
type MetricStore interface {
	Create(ctx context.Context, m *models.ContainerMetric) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CollectorConfig configures the metric collector.
type CollectorConfig struct {
	// Interval is the time between collection ticks. Default: 60 seconds.
	Interval time.Duration

	// Retention is how long samples are kept. Default: 24 hours.
	Retention time.Duration

	// CPUThreshold and MemoryThreshold are percentages above which a
	// container raises a WARNING alert. 0 disables the check.
	CPUThreshold    float64
	MemoryThreshold float64
}

// DefaultCollectorConfig returns the default configuration.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Interval:        60 * time.Second,
		Retention:       24 * time.Hour,
		CPUThreshold:    90.0,
		MemoryThreshold: 90.0,
	}
}

// DashboardSummary aggregates the latest sample of every running container.
type DashboardSummary struct {
	TotalCPUPercent    float64   `json:"totalCpuPercent"`
	TotalMemoryUsage   uint64    `json:"totalMemoryUsage"`
	TotalMemoryLimit   uint64    `json:"totalMemoryLimit"`
	TotalMemoryPercent float64   `json:"totalMemoryPercent"`
	TotalNetworkRx     uint64    `json:"totalNetworkRx"`
	TotalNetworkTx     uint64    `json:"totalNetworkTx"`
	ContainerCount     int       `json:"containerCount"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// MetricCollector samples every running container on a timer, persists the
// samples and prunes those past retention. A container crossing a resource
// threshold raises one alert until it drops back below.
type MetricCollector struct {
	engine   docker.Engine
	store    MetricStore
	alerts   AlertStore
	notifier Notifier
	config   CollectorConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// latest holds the previous tick's sample per container.
	latestMu sync.RWMutex
	latest   map[string]statsutil.Usage
	summary  DashboardSummary

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMetricCollector creates a new metric collector. alerts and notifier may
// be nil, which disables threshold alerts.
func NewMetricCollector(engine docker.Engine, store MetricStore, alerts AlertStore, notifier Notifier, config CollectorConfig, m *metrics.Metrics, logger *slog.Logger) *MetricCollector {
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Retention <= 0 {
		config.Retention = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MetricCollector{
		engine:   engine,
		store:    store,
		alerts:   alerts,
		notifier: notifier,
		config:   config,
		metrics:  m,
		logger:   logger.With("component", "metric_collector"),
		now:      time.Now,
		latest:   make(map[string]statsutil.Usage),
	}
}

// Start begins collection. Calling Start while running is a no-op.
func (c *MetricCollector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info("metric collector started",
		"interval", c.config.Interval,
		"retention", c.config.Retention,
	)
}

// Stop halts collection and waits for an in-flight tick.
func (c *MetricCollector) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.logger.Info("metric collector stopped")
}

func (c *MetricCollector) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect runs one tick: one sample per running container, then pruning.
// A single container's failure is swallowed so its siblings are still sampled.
func (c *MetricCollector) Collect(ctx context.Context) {
	start := time.Now()
	defer func() { c.metrics.ObserveCollection(time.Since(start).Seconds()) }()

	containers, err := c.engine.ListContainers(ctx, false)
	if err != nil {
		c.logger.Error("failed to list running containers", "error", err)
		return
	}

	previous := c.previous()
	latest := make(map[string]statsutil.Usage, len(containers))
	for _, ctr := range containers {
		if ctr.State != "running" {
			continue
		}

		raw, err := c.engine.Stats(ctx, ctr.ID)
		if err != nil {
			c.logger.Debug("failed to sample container", "id", docker.ShortID(ctr.ID), "error", err)
			continue
		}
		usage := statsutil.Summarize(raw)
		latest[ctr.ID] = usage

		if prev, seen := previous[ctr.ID]; c.overThreshold(usage) && (!seen || !c.overThreshold(prev)) {
			c.raiseThresholdAlert(ctx, ctr, usage)
		}

		sample := &models.ContainerMetric{
			ContainerID: ctr.ID,
			CPU:         usage.CPUPercent,
			Memory:      int64(usage.MemoryUsage),
			SampledAt:   c.now().UTC(),
		}
		if err := c.store.Create(ctx, sample); err != nil {
			c.logger.Debug("failed to store sample", "id", docker.ShortID(ctr.ID), "error", err)
		}
	}

	c.setLatest(latest)

	cutoff := c.now().Add(-c.config.Retention)
	removed, err := c.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		c.logger.Error("failed to prune samples", "error", err)
		return
	}
	if removed > 0 {
		c.logger.Debug("pruned samples", "count", removed)
	}
}

func (c *MetricCollector) setLatest(latest map[string]statsutil.Usage) {
	summary := DashboardSummary{ContainerCount: len(latest), UpdatedAt: c.now().UTC()}
	for _, u := range latest {
		summary.TotalCPUPercent += u.CPUPercent
		summary.TotalMemoryUsage += u.MemoryUsage
		summary.TotalMemoryLimit += u.MemoryLimit
		summary.TotalNetworkRx += u.NetworkRx
		summary.TotalNetworkTx += u.NetworkTx
	}
	if summary.TotalMemoryLimit > 0 {
		summary.TotalMemoryPercent = float64(summary.TotalMemoryUsage) / float64(summary.TotalMemoryLimit) * 100.0
	}

	c.latestMu.Lock()
	c.latest = latest
	c.summary = summary
	c.latestMu.Unlock()
}

func (c *MetricCollector) previous() map[string]statsutil.Usage {
	c.latestMu.RLock()
	defer c.latestMu.RUnlock()
	return c.latest
}

func (c *MetricCollector) overThreshold(u statsutil.Usage) bool {
	if c.config.CPUThreshold > 0 && u.CPUPercent > c.config.CPUThreshold {
		return true
	}
	return c.config.MemoryThreshold > 0 && u.MemoryPercent > c.config.MemoryThreshold
}

func (c *MetricCollector) raiseThresholdAlert(ctx context.Context, ctr types.Container, u statsutil.Usage) {
	if c.alerts == nil {
		return
	}

	name := docker.ShortID(ctr.ID)
	if len(ctr.Names) > 0 {
		name = strings.TrimPrefix(ctr.Names[0], "/")
	}
	id := ctr.ID
	alert := &models.Alert{
		Severity:    models.SeverityWarning,
		Title:       fmt.Sprintf("Container %s is resource critical", name),
		Message:     fmt.Sprintf("Container %s (%s) is at CPU %.2f%%, memory %.2f%%", name, docker.ShortID(id), u.CPUPercent, u.MemoryPercent),
		ContainerID: &id,
	}
	c.metrics.ObserveAlert(alert.Severity)
	c.logger.Warn("container over resource threshold", "container", name, "cpu", u.CPUPercent, "memory", u.MemoryPercent)

	if err := c.alerts.Create(ctx, alert); err != nil {
		c.logger.Error("failed to store alert", "container", name, "error", err)
	}
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, Notification{Title: alert.Title, Message: alert.Message, Severity: alert.Severity}); err != nil {
		c.logger.Warn("failed to dispatch notification", "container", name, "error", err)
	}
}

// Summary returns the aggregate of the last tick.
func (c *MetricCollector) Summary() DashboardSummary {
	c.latestMu.RLock()
	defer c.latestMu.RUnlock()
	return c.summary
}
