package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wndmngr/backend/models"
	"github.com/wndmngr/backend/repositories"
)

// ProfileRepository implements repositories.ProfileRepository
type ProfileRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *DB, logger *zap.Logger) repositories.ProfileRepository {
	return &ProfileRepository{db: db, logger: logger}
}

const profileColumns = `id, email, role, created_at, updated_at`

// GetByID retrieves a profile by identity id
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByEmail retrieves a profile by email, case-insensitively
func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE LOWER(email) = $1 ORDER BY created_at LIMIT 1`
	return r.getOne(ctx, query, strings.ToLower(strings.TrimSpace(email)))
}

func (r *ProfileRepository) getOne(ctx context.Context, query string, arg string) (*models.Profile, error) {
	executor := GetExecutor(ctx, r.db)
	profile := &models.Profile{}

	err := executor.QueryRowContext(ctx, query, arg).Scan(
		&profile.ID,
		&profile.Email,
		&profile.Role,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	profile.Role = models.ParseRole(string(profile.Role))
	return profile, nil
}

// Create inserts a profile. An existing row with the same id is kept and
// its stored values are loaded into profile.
func (r *ProfileRepository) Create(ctx context.Context, profile *models.Profile) error {
	query := `
		INSERT INTO profiles (id, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET id = profiles.id
		RETURNING email, role, created_at, updated_at
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		profile.ID,
		profile.Email,
		profile.Role,
		profile.CreatedAt,
		profile.UpdatedAt,
	).Scan(
		&profile.Email,
		&profile.Role,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	profile.Role = models.ParseRole(string(profile.Role))
	r.logger.Debug("profile created", zap.String("id", profile.ID), zap.String("role", string(profile.Role)))
	return nil
}

// UpdateRole changes the role of an existing profile
func (r *ProfileRepository) UpdateRole(ctx context.Context, id string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role: %q", role)
	}

	query := `UPDATE profiles SET role = $1, updated_at = $2 WHERE id = $3`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, role, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update profile role: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repositories.ErrNotFound
	}

	r.logger.Debug("profile role updated", zap.String("id", id), zap.String("role", string(role)))
	return nil
}
