// Package models defines domain models for the VPS manager.
package models

import (
	"encoding/json"
	"time"
)

// AuditAction is the closed set of audited operations.
type AuditAction string

const (
	ActionDeleteImage      AuditAction = "DELETE_IMAGE"
	ActionDeleteContainer  AuditAction = "DELETE_CONTAINER"
	ActionDeleteVolume     AuditAction = "DELETE_VOLUME"
	ActionClearLogs        AuditAction = "CLEAR_LOGS"
	ActionPruneBuildCache  AuditAction = "PRUNE_BUILD_CACHE"
	ActionPruneSystem      AuditAction = "PRUNE_SYSTEM"
	ActionStartContainer   AuditAction = "START_CONTAINER"
	ActionStopContainer    AuditAction = "STOP_CONTAINER"
	ActionRestartContainer AuditAction = "RESTART_CONTAINER"
	ActionPauseContainer   AuditAction = "PAUSE_CONTAINER"
	ActionUnpauseContainer AuditAction = "UNPAUSE_CONTAINER"
	ActionComposeUp        AuditAction = "COMPOSE_UP"
	ActionComposeDown      AuditAction = "COMPOSE_DOWN"
	ActionComposeRestart   AuditAction = "COMPOSE_RESTART"
	ActionComposePull      AuditAction = "COMPOSE_PULL"
	ActionTerminalOpen     AuditAction = "TERMINAL_OPEN"
	ActionPullImage        AuditAction = "PULL_IMAGE"
	ActionPruneImages      AuditAction = "PRUNE_IMAGES"
	ActionCreateVolume     AuditAction = "CREATE_VOLUME"
	ActionPruneVolumes     AuditAction = "PRUNE_VOLUMES"
)

var auditActions = map[AuditAction]bool{
	ActionDeleteImage: true, ActionDeleteContainer: true, ActionDeleteVolume: true,
	ActionClearLogs: true, ActionPruneBuildCache: true, ActionPruneSystem: true,
	ActionStartContainer: true, ActionStopContainer: true, ActionRestartContainer: true,
	ActionPauseContainer: true, ActionUnpauseContainer: true,
	ActionComposeUp: true, ActionComposeDown: true, ActionComposeRestart: true, ActionComposePull: true,
	ActionTerminalOpen: true, ActionPullImage: true, ActionPruneImages: true,
	ActionCreateVolume: true, ActionPruneVolumes: true,
}

// Valid reports whether a is one of the known audit actions.
func (a AuditAction) Valid() bool {
	return auditActions[a]
}

// AuditLog is a write-once record of a mutating action.
type AuditLog struct {
	ID        string          `json:"id" db:"id"`
	Action    AuditAction     `json:"action" db:"action"`
	Resource  string          `json:"resource" db:"resource"`
	Details   json.RawMessage `json:"details,omitempty" db:"-"`
	UserID    *string         `json:"userId,omitempty" db:"user_id"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// ContainerMetric is one persisted CPU and memory sample.
type ContainerMetric struct {
	ID          int64     `json:"id" db:"id"`
	ContainerID string    `json:"containerId" db:"container_id"`
	CPU         float64   `json:"cpu" db:"cpu"`
	Memory      int64     `json:"memory" db:"memory"`
	SampledAt   time.Time `json:"sampledAt" db:"sampled_at"`
}

// Alert severities.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// Alert is a persisted abnormal-condition record.
type Alert struct {
	ID          string    `json:"id" db:"id"`
	Severity    string    `json:"severity" db:"severity"`
	Title       string    `json:"title" db:"title"`
	Message     string    `json:"message" db:"message"`
	ContainerID *string   `json:"containerId,omitempty" db:"container_id"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// User is a dashboard account.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Name         string    `json:"name" db:"name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}
