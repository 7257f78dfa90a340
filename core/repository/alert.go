package repository

import (
	"context"
	"fmt"
	"time"

	"nfcunha/vpsmanager/core/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AlertRepository handles persistence of alerts.
type AlertRepository struct {
	db *sqlx.DB
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create stores an alert, assigning its id and timestamp.
func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	alert.ID = uuid.NewString()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO alerts (id, severity, title, message, container_id, created_at)
		VALUES (:id, :severity, :title, :message, :container_id, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, alert); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// FindRecent retrieves the latest alerts, newest first.
func (r *AlertRepository) FindRecent(ctx context.Context, limit int) ([]*models.Alert, error) {
	query := `
		SELECT id, severity, title, message, container_id, created_at
		FROM alerts
		ORDER BY created_at DESC
		LIMIT ?
	`

	var alerts []*models.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	return alerts, nil
}

// FindBySeverity retrieves the latest alerts of one severity, newest first.
func (r *AlertRepository) FindBySeverity(ctx context.Context, severity string, limit int) ([]*models.Alert, error) {
	query := `
		SELECT id, severity, title, message, container_id, created_at
		FROM alerts
		WHERE severity = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	var alerts []*models.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, severity, limit); err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	return alerts, nil
}
