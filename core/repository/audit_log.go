// Package repository provides the data access layer for audit records, samples and alerts.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"nfcunha/vpsmanager/core/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AuditLogRepository handles persistence of audit records. Records are only
// ever inserted and read.
type AuditLogRepository struct {
	db *sqlx.DB
}

// NewAuditLogRepository creates a new audit log repository.
func NewAuditLogRepository(db *sqlx.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

type auditRow struct {
	ID        string         `db:"id"`
	Action    string         `db:"action"`
	Resource  string         `db:"resource"`
	Details   sql.NullString `db:"details"`
	UserID    sql.NullString `db:"user_id"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r auditRow) toModel() *models.AuditLog {
	log := &models.AuditLog{
		ID:        r.ID,
		Action:    models.AuditAction(r.Action),
		Resource:  r.Resource,
		CreatedAt: r.CreatedAt,
	}
	if r.Details.Valid {
		log.Details = json.RawMessage(r.Details.String)
	}
	if r.UserID.Valid {
		uid := r.UserID.String
		log.UserID = &uid
	}
	return log
}

// Create appends an audit record. details may be nil; userID may be empty.
func (r *AuditLogRepository) Create(ctx context.Context, action models.AuditAction, resource string, details any, userID string) (*models.AuditLog, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("unknown audit action %q", action)
	}

	log := &models.AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		Resource:  resource,
		CreatedAt: time.Now().UTC(),
	}

	var detailsText *string
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode audit details: %w", err)
		}
		text := string(raw)
		detailsText = &text
		log.Details = raw
	}

	var uid *string
	if userID != "" {
		uid = &userID
		log.UserID = uid
	}

	query := `
		INSERT INTO audit_logs (id, action, resource, details, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query, log.ID, string(log.Action), log.Resource, detailsText, uid, log.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert audit log: %w", err)
	}

	return log, nil
}

// FindAll retrieves the most recent audit records, newest first.
func (r *AuditLogRepository) FindAll(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, action, resource, details, user_id, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT ?
	`
	return r.query(ctx, query, limit)
}

// FindByAction retrieves the most recent records of one action, newest first.
func (r *AuditLogRepository) FindByAction(ctx context.Context, action models.AuditAction, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, action, resource, details, user_id, created_at
		FROM audit_logs
		WHERE action = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	return r.query(ctx, query, string(action), limit)
}

func (r *AuditLogRepository) query(ctx context.Context, query string, args ...any) ([]*models.AuditLog, error) {
	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	logs := make([]*models.AuditLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, row.toModel())
	}
	return logs, nil
}
