package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/docker"
	"nfcunha/vpsmanager/utils/metrics"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
)

// DefaultHeartbeat is the interval between keep-alive comments.
const DefaultHeartbeat = 15 * time.Second

// alertDedupWindow is how long an alerted event is remembered so that
// concurrent subscribers raise it once.
const alertDedupWindow = time.Minute

// AlertStore persists alerts.
type AlertStore interface {
	Create(ctx context.Context, alert *models.Alert) error
}

// EventSink receives the relayed stream of one client.
type EventSink interface {
	// Send writes one JSON event.
	Send(v any) error
	// Heartbeat writes a keep-alive comment.
	Heartbeat() error
}

// ConnectedEvent is the first message of every stream.
type ConnectedEvent struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// EventRelay forwards the Engine event feed to clients and raises alerts on
// abnormal container exits.
type EventRelay struct {
	engine    docker.Engine
	alerts    AlertStore
	notifier  Notifier
	metrics   *metrics.Metrics
	heartbeat time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	alerted map[string]time.Time
}

// NewEventRelay creates a new event relay. heartbeat <= 0 means 15s.
func NewEventRelay(engine docker.Engine, alerts AlertStore, notifier Notifier, m *metrics.Metrics, heartbeat time.Duration) *EventRelay {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &EventRelay{
		engine:    engine,
		alerts:    alerts,
		notifier:  notifier,
		metrics:   m,
		heartbeat: heartbeat,
		logger:    slog.Default().With("component", "event_relay"),
		now:       time.Now,
		alerted:   make(map[string]time.Time),
	}
}

// EventFilters selects container, image and volume events.
func EventFilters() filters.Args {
	return filters.NewArgs(
		filters.Arg("type", string(events.ContainerEventType)),
		filters.Arg("type", string(events.ImageEventType)),
		filters.Arg("type", string(events.VolumeEventType)),
	)
}

// Stream relays events to sink until ctx is done, the sink fails or the
// Engine feed errors. On return the heartbeat ticker is stopped before the
// Engine subscription is released.
func (r *EventRelay) Stream(ctx context.Context, sink EventSink) error {
	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()

	r.metrics.SSEConnected()
	defer r.metrics.SSEDisconnected()

	if err := sink.Send(ConnectedEvent{Type: "connected", Timestamp: r.now().UTC().Format(time.RFC3339Nano)}); err != nil {
		return err
	}

	msgs, errs := r.engine.SubscribeEvents(subCtx, EventFilters())

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := sink.Heartbeat(); err != nil {
				return err
			}

		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.metrics.ObserveEvent(string(msg.Type), string(msg.Action))
			if err := sink.Send(msg); err != nil {
				return err
			}
			r.inspect(ctx, msg)

		case err, ok := <-errs:
			if !ok || err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			r.logger.Error("engine event stream failed", "error", err)
			return docker.NewEngineError("events", "", err)
		}
	}
}

// IsAbnormalExit reports whether msg is a container dying with a non-zero
// exit code or being OOM-killed.
func IsAbnormalExit(msg events.Message) bool {
	if msg.Type != events.ContainerEventType {
		return false
	}
	switch msg.Action {
	case events.ActionOOM:
		return true
	case events.ActionDie:
		code := msg.Actor.Attributes["exitCode"]
		return code != "" && code != "0"
	}
	return false
}

// inspect raises an alert for abnormal exits. The write and the
// notification run detached so a slow webhook never stalls the stream.
func (r *EventRelay) inspect(ctx context.Context, msg events.Message) {
	if !IsAbnormalExit(msg) || !r.claim(msg) {
		return
	}

	name := msg.Actor.Attributes["name"]
	if name == "" {
		name = docker.ShortID(msg.Actor.ID)
	}
	containerID := msg.Actor.ID

	alert := &models.Alert{
		Severity:    models.SeverityCritical,
		ContainerID: &containerID,
	}
	if msg.Action == events.ActionOOM {
		alert.Title = fmt.Sprintf("Container %s ran out of memory", name)
		alert.Message = fmt.Sprintf("Container %s (%s) was killed by the OOM killer", name, docker.ShortID(containerID))
	} else {
		alert.Title = fmt.Sprintf("Container %s stopped unexpectedly", name)
		alert.Message = fmt.Sprintf("Container %s (%s) exited with code %s", name, docker.ShortID(containerID), msg.Actor.Attributes["exitCode"])
	}

	r.metrics.ObserveAlert(alert.Severity)

	go func() {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		if err := r.alerts.Create(bg, alert); err != nil {
			r.logger.Error("failed to store alert", "container", name, "error", err)
		}
		if r.notifier == nil {
			return
		}
		if err := r.notifier.Notify(bg, Notification{
			Title:    alert.Title,
			Message:  alert.Message,
			Severity: alert.Severity,
		}); err != nil {
			r.logger.Warn("failed to dispatch notification", "container", name, "error", err)
		}
	}()
}

// claim returns true the first time an event is seen within the dedup window.
func (r *EventRelay) claim(msg events.Message) bool {
	key := fmt.Sprintf("%s|%s|%d", msg.Actor.ID, msg.Action, msg.TimeNano)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, seen := range r.alerted {
		if now.Sub(seen) > alertDedupWindow {
			delete(r.alerted, k)
		}
	}
	if _, ok := r.alerted[key]; ok {
		return false
	}
	r.alerted[key] = now
	return true
}
