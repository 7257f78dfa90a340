package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/apperr"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// UserRepository handles persistence of dashboard accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a user, assigning its id.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO users (id, username, name, password_hash, role, created_at)
		VALUES (:id, :username, :name, :password_hash, :role, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByUsername returns the user or a NotFoundError.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `
		SELECT id, username, name, password_hash, role, created_at
		FROM users WHERE username = ?
	`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}
