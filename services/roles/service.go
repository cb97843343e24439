package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wndmngr/backend/authz"
	"github.com/wndmngr/backend/models"
	"github.com/wndmngr/backend/repositories"
)

// Service resolves application roles from the profiles store
type Service struct {
	profiles  repositories.ProfileRepository
	txManager repositories.TransactionManager
	cache     *RoleCache
	logger    *zap.Logger
}

// Config holds cache settings for the Service
type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

// NewService creates a role service. profiles may be nil, in which case every
// lookup fails with backend_misconfigured.
func NewService(profiles repositories.ProfileRepository, txManager repositories.TransactionManager, cfg Config, logger *zap.Logger) *Service {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	return &Service{
		profiles:  profiles,
		txManager: txManager,
		cache:     NewRoleCache(cfg.CacheSize, cfg.CacheTTL),
		logger:    logger,
	}
}

// Role returns the role of id. Identities without a profile get DefaultRole.
func (s *Service) Role(ctx context.Context, id *authz.Identity) (models.Role, error) {
	if id == nil {
		return "", authz.ErrMissingCredential
	}
	if s.profiles == nil {
		return "", authz.NewError(authz.ReasonBackendMisconfigured, "profile store not configured", nil)
	}

	if role, ok := s.cache.Get(id.ID); ok {
		return role, nil
	}

	profile, err := s.profiles.GetByID(ctx, id.ID)
	if errors.Is(err, repositories.ErrNotFound) && id.Email != "" {
		profile, err = s.profiles.GetByEmail(ctx, strings.ToLower(id.Email))
	}

	var role models.Role
	switch {
	case err == nil:
		role = profile.Role
		if !role.Valid() {
			s.logger.Warn("profile carries unknown role",
				zap.String("user_id", id.ID),
				zap.String("role", string(role)))
		}
	case errors.Is(err, repositories.ErrNotFound):
		role = models.DefaultRole
	default:
		s.logger.Error("role lookup failed",
			zap.String("user_id", id.ID),
			zap.Error(err))
		return "", authz.NewError(authz.ReasonBackendMisconfigured, "role lookup failed", err)
	}

	s.cache.Set(id.ID, role)
	return role, nil
}

// Require returns nil when id holds at least the required role
func (s *Service) Require(ctx context.Context, id *authz.Identity, required models.Role) error {
	role, err := s.Role(ctx, id)
	if err != nil {
		return err
	}
	if !role.Satisfies(required) {
		return authz.NewError(authz.ReasonInsufficientRole,
			fmt.Sprintf("role %q does not satisfy %q", role, required), nil)
	}
	return nil
}

// EnsureProfile returns the profile of id, creating one with the default role
// on first login
func (s *Service) EnsureProfile(ctx context.Context, id *authz.Identity) (*models.Profile, error) {
	if id == nil {
		return nil, authz.ErrMissingCredential
	}
	if s.profiles == nil {
		return nil, authz.NewError(authz.ReasonBackendMisconfigured, "profile store not configured", nil)
	}

	var profile *models.Profile
	ensure := func(ctx context.Context) error {
		existing, err := s.profiles.GetByID(ctx, id.ID)
		if err == nil {
			profile = existing
			return nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}

		created := models.NewProfile(id.ID, id.Email)
		if err := s.profiles.Create(ctx, created); err != nil {
			return err
		}
		profile = created
		s.logger.Info("profile ensured",
			zap.String("user_id", id.ID),
			zap.String("role", string(created.Role)))
		return nil
	}

	var err error
	if s.txManager != nil {
		err = s.txManager.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			return ensure(ctx)
		})
	} else {
		err = ensure(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}

	s.cache.Set(profile.ID, profile.Role)
	return profile, nil
}

// SetRole changes the stored role of a profile
func (s *Service) SetRole(ctx context.Context, userID string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	if s.profiles == nil {
		return authz.NewError(authz.ReasonBackendMisconfigured, "profile store not configured", nil)
	}
	if err := s.profiles.UpdateRole(ctx, userID, role); err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	s.cache.Invalidate(userID)
	return nil
}

// CacheStats exposes the role cache statistics
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}
