package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wndmngr/backend/models"
	"github.com/wndmngr/backend/repositories"
)

// AuthEventRepository implements repositories.AuthEventRepository
type AuthEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuthEventRepository creates a new auth event repository
func NewAuthEventRepository(db *DB, logger *zap.Logger) repositories.AuthEventRepository {
	return &AuthEventRepository{db: db, logger: logger}
}

const authEventColumns = `id, request_id, occurred_at, outcome, reason, status, user_id, email, method, path, remote_addr`

// Insert inserts a new auth event
func (r *AuthEventRepository) Insert(ctx context.Context, event *models.AuthEvent) error {
	query := `
		INSERT INTO auth_events (` + authEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.RequestID,
		event.OccurredAt,
		event.Outcome,
		event.Reason,
		event.Status,
		event.UserID,
		event.Email,
		event.Method,
		event.Path,
		event.RemoteAddr,
	)
	if err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}

	r.logger.Debug("auth event inserted",
		zap.String("id", event.ID.String()),
		zap.String("outcome", string(event.Outcome)),
	)
	return nil
}

// GetByRequestID retrieves events recorded for a request
func (r *AuthEventRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuthEvent, error) {
	query := `
		SELECT ` + authEventColumns + `
		FROM auth_events
		WHERE request_id = $1
		ORDER BY occurred_at
	`
	return r.query(ctx, query, requestID)
}

// GetByUserID retrieves the most recent events of a user with pagination
func (r *AuthEventRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.AuthEvent, error) {
	query := `
		SELECT ` + authEventColumns + `
		FROM auth_events
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.query(ctx, query, userID, limit, offset)
}

// DeleteBefore removes events older than cutoff
func (r *AuthEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, `DELETE FROM auth_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete auth events: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

func (r *AuthEventRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AuthEvent, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query auth events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuthEvent
	for rows.Next() {
		event := &models.AuthEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.RequestID,
			&event.OccurredAt,
			&event.Outcome,
			&event.Reason,
			&event.Status,
			&event.UserID,
			&event.Email,
			&event.Method,
			&event.Path,
			&event.RemoteAddr,
		); err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auth events: %w", err)
	}

	return events, nil
}
