// Package service provides business logic for Docker resource management.
package service

import (
	"context"
	"log/slog"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/metrics"
)

// AuditStore persists audit records.
type AuditStore interface {
	Create(ctx context.Context, action models.AuditAction, resource string, details any, userID string) (*models.AuditLog, error)
}

// Auditor writes audit records on a best-effort basis: a failed write is
// logged and counted, never returned to the caller.
type Auditor struct {
	store   AuditStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAuditor creates a new auditor. m may be nil.
func NewAuditor(store AuditStore, m *metrics.Metrics) *Auditor {
	return &Auditor{
		store:   store,
		metrics: m,
		logger:  slog.Default().With("component", "audit"),
	}
}

// Record appends an audit record. The write survives cancellation of ctx so
// an operator closing the tab mid-request does not drop the record.
func (a *Auditor) Record(ctx context.Context, action models.AuditAction, resource string, details any, userID string) {
	if a == nil || a.store == nil {
		return
	}

	if _, err := a.store.Create(context.WithoutCancel(ctx), action, resource, details, userID); err != nil {
		a.metrics.AuditFailed()
		a.logger.Warn("failed to write audit record",
			"action", action,
			"resource", resource,
			"error", err,
		)
	}
}
