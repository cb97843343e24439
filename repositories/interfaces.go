package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/wndmngr/backend/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// ProfileRepository handles profile data operations
type ProfileRepository interface {
	// GetByID retrieves a profile by identity id. Returns ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*models.Profile, error)

	// GetByEmail retrieves a profile by lower-cased email. Returns ErrNotFound when absent.
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)

	// Create inserts a profile, leaving an existing row untouched. profile
	// holds the stored row on return.
	Create(ctx context.Context, profile *models.Profile) error

	// UpdateRole changes the role of an existing profile
	UpdateRole(ctx context.Context, id string, role models.Role) error
}

// AuthEventRepository handles auth event data operations
type AuthEventRepository interface {
	// Insert inserts a new auth event
	Insert(ctx context.Context, event *models.AuthEvent) error

	// GetByRequestID retrieves events recorded for a request
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuthEvent, error)

	// GetByUserID retrieves the most recent events of a user with pagination
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.AuthEvent, error)

	// DeleteBefore removes events older than cutoff and returns the count
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Profiles   ProfileRepository
	AuthEvents AuthEventRepository
}
