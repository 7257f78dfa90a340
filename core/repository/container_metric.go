package repository

import (
	"context"
	"fmt"
	"time"

	"nfcunha/vpsmanager/core/models"

	"github.com/jmoiron/sqlx"
)

// ContainerMetricRepository handles persistence of container samples.
type ContainerMetricRepository struct {
	db *sqlx.DB
}

// NewContainerMetricRepository creates a new container metric repository.
func NewContainerMetricRepository(db *sqlx.DB) *ContainerMetricRepository {
	return &ContainerMetricRepository{db: db}
}

// Create stores one sample. A zero SampledAt is set to now.
func (r *ContainerMetricRepository) Create(ctx context.Context, m *models.ContainerMetric) error {
	if m.SampledAt.IsZero() {
		m.SampledAt = time.Now().UTC()
	}

	query := `
		INSERT INTO container_metrics (container_id, cpu, memory, sampled_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query, m.ContainerID, m.CPU, m.Memory, m.SampledAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert container metric: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = id

	return nil
}

// FindRecent retrieves the latest limit samples of a container in
// chronological order.
func (r *ContainerMetricRepository) FindRecent(ctx context.Context, containerID string, limit int) ([]*models.ContainerMetric, error) {
	query := `
		SELECT id, container_id, cpu, memory, sampled_at
		FROM container_metrics
		WHERE container_id = ?
		ORDER BY sampled_at DESC, id DESC
		LIMIT ?
	`

	var samples []*models.ContainerMetric
	if err := r.db.SelectContext(ctx, &samples, query, containerID, limit); err != nil {
		return nil, fmt.Errorf("failed to query container metrics: %w", err)
	}

	// newest-first from the query, callers chart oldest-first
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// DeleteOlderThan removes samples taken before cutoff.
func (r *ContainerMetricRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM container_metrics WHERE sampled_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune container metrics: %w", err)
	}
	return result.RowsAffected()
}
