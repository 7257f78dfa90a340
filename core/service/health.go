package service

import (
	"context"
	"time"

	"nfcunha/vpsmanager/core/cache"
)

// Overall health states.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SyncStatusProvider reports the background sync state.
type SyncStatusProvider interface {
	Status() SyncStatus
}

// DependencyCheck is the result of one dependency check.
type DependencyCheck struct {
	Status  string `json:"status"`
	Latency int64  `json:"latency"`
	Error   string `json:"error,omitempty"`
}

// HealthChecks groups every dependency check of a health report.
type HealthChecks struct {
	Database DependencyCheck `json:"database"`
	Docker   DependencyCheck `json:"docker"`
	Cache    cache.Stats     `json:"cache"`
	Sync     *SyncStatus     `json:"sync,omitempty"`
}

// HealthReport is the aggregate health of the process.
type HealthReport struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Uptime    float64      `json:"uptime"`
	Checks    HealthChecks `json:"checks"`
}

// HealthService checks the database and the Engine.
type HealthService struct {
	db      Pinger
	engine  Pinger
	cache   *cache.Cache
	sync    SyncStatusProvider
	started time.Time
	timeout time.Duration
}

// NewHealthService creates a new health service. sync may be nil when the
// background sync is disabled.
func NewHealthService(db, engine Pinger, c *cache.Cache, sync SyncStatusProvider) *HealthService {
	return &HealthService{
		db:      db,
		engine:  engine,
		cache:   c,
		sync:    sync,
		started: time.Now(),
		timeout: 5 * time.Second,
	}
}

// Check pings every dependency. The report is healthy when both the database and
// the Engine answer, degraded when one fails and unhealthy when both do.
func (s *HealthService) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Seconds(),
		Checks: HealthChecks{
			Database: s.ping(ctx, s.db),
			Docker:   s.ping(ctx, s.engine),
			Cache:    s.cache.Stats(),
		},
	}
	if s.sync != nil {
		status := s.sync.Status()
		report.Checks.Sync = &status
	}

	failed := 0
	for _, c := range []DependencyCheck{report.Checks.Database, report.Checks.Docker} {
		if c.Status != "ok" {
			failed++
		}
	}
	switch failed {
	case 0:
		report.Status = HealthHealthy
	case 1:
		report.Status = HealthDegraded
	default:
		report.Status = HealthUnhealthy
	}

	return report
}

func (s *HealthService) ping(ctx context.Context, p Pinger) DependencyCheck {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	check := DependencyCheck{Status: "ok", Latency: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = "error"
		check.Error = err.Error()
	}
	return check
}
