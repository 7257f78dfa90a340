// Package metrics exposes Prometheus instrumentation for the VPS manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vpsmanager"

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// which keeps tests and tools free of registry wiring.
type Metrics struct {
	ContainerActions       *prometheus.CounterVec
	AuditWriteFailures     prometheus.Counter
	EngineEvents           *prometheus.CounterVec
	Alerts                 *prometheus.CounterVec
	TerminalSessions       *prometheus.CounterVec
	TerminalSessionsActive prometheus.Gauge
	SSEClientsActive       prometheus.Gauge
	CacheEntries           prometheus.Gauge
	SyncDuration           prometheus.Histogram
	CollectionDuration     prometheus.Histogram
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ContainerActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "containers",
			Name:      "actions_total",
			Help:      "Container lifecycle actions by action and result",
		}, []string{"action", "result"}),

		AuditWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Audit records that could not be persisted",
		}),

		EngineEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "engine_events_total",
			Help:      "Engine events relayed to clients by type and action",
		}, []string{"type", "action"}),

		Alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "alerts_total",
			Help:      "Alerts raised by severity",
		}, []string{"severity"}),

		TerminalSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "sessions_total",
			Help:      "Terminal connection attempts by target and result",
		}, []string{"target", "result"}),

		TerminalSessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "sessions_active",
			Help:      "Terminal sessions currently streaming",
		}),

		SSEClientsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "sse_clients_active",
			Help:      "Connected event stream clients",
		}),

		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently held by the resource cache",
		}),

		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of a full background sync",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		CollectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "metrics",
			Name:      "collection_duration_seconds",
			Help:      "Duration of one container sample collection tick",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveAction counts one container action.
func (m *Metrics) ObserveAction(action string, ok bool) {
	if m == nil {
		return
	}
	m.ContainerActions.WithLabelValues(action, result(ok)).Inc()
}

// AuditFailed counts one lost audit record.
func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.AuditWriteFailures.Inc()
}

// ObserveEvent counts one relayed Engine event.
func (m *Metrics) ObserveEvent(eventType, action string) {
	if m == nil {
		return
	}
	m.EngineEvents.WithLabelValues(eventType, action).Inc()
}

// ObserveAlert counts one raised alert.
func (m *Metrics) ObserveAlert(severity string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(severity).Inc()
}

// ObserveTerminal counts one terminal connection attempt.
func (m *Metrics) ObserveTerminal(target, outcome string) {
	if m == nil {
		return
	}
	m.TerminalSessions.WithLabelValues(target, outcome).Inc()
}

// TerminalOpened and TerminalClosed track live terminal sessions.
func (m *Metrics) TerminalOpened() {
	if m == nil {
		return
	}
	m.TerminalSessionsActive.Inc()
}

func (m *Metrics) TerminalClosed() {
	if m == nil {
		return
	}
	m.TerminalSessionsActive.Dec()
}

// SSEConnected and SSEDisconnected track live event stream clients.
func (m *Metrics) SSEConnected() {
	if m == nil {
		return
	}
	m.SSEClientsActive.Inc()
}

func (m *Metrics) SSEDisconnected() {
	if m == nil {
		return
	}
	m.SSEClientsActive.Dec()
}

// SetCacheEntries records the current cache size.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// ObserveSync records a sync duration in seconds.
func (m *Metrics) ObserveSync(seconds float64) {
	if m == nil {
		return
	}
	m.SyncDuration.Observe(seconds)
}

// ObserveCollection records a metric collection duration in seconds.
func (m *Metrics) ObserveCollection(seconds float64) {
	if m == nil {
		return
	}
	m.CollectionDuration.Observe(seconds)
}
