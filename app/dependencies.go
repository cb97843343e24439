package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wndmngr/backend/adapter/cache"
	"github.com/wndmngr/backend/auth"
	"github.com/wndmngr/backend/authz"
	"github.com/wndmngr/backend/config"
	"github.com/wndmngr/backend/entra"
	"github.com/wndmngr/backend/middleware"
	"github.com/wndmngr/backend/repositories"
	"github.com/wndmngr/backend/repositories/postgres"
	"github.com/wndmngr/backend/services"
	"github.com/wndmngr/backend/services/audit"
	"github.com/wndmngr/backend/services/roles"
	"github.com/wndmngr/backend/session"
	"github.com/wndmngr/backend/telemetry"
)

const (
	keySetPrefetchTimeout = 10 * time.Second
	auditStopTimeout      = 5 * time.Second
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config    *config.Config
	Logger    *zap.Logger
	Telemetry *telemetry.Provider
	DB        *postgres.DB
	Redis     *redis.Client

	// Repository Factory, nil when no database is configured
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Profiles   repositories.ProfileRepository
	AuthEvents repositories.AuthEventRepository
	TxManager  repositories.TransactionManager

	// Services
	Audit  *audit.Service
	Roles  *roles.Service
	States *cache.RedisStateStore

	// Auth
	AllowList authz.DomainAllowList
	KeySet    *entra.KeySetCache
	Verifier  *entra.TokenVerifier
	Gate      *middleware.AuthGate

	authHandler *auth.Handler
}

// AuthHandler returns the auth handler for route wiring (implements handlers.AuthDeps)
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// NewDependencies creates and wires up all application dependencies.
// Partially initialized dependencies are closed on failure.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		AllowList: authz.NewDomainAllowList(cfg.Auth.AllowedDomains...),
	}

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"telemetry", deps.initTelemetry},
		{"database", deps.initDatabase},
		{"redis", deps.initRedis},
		{"services", deps.initServices},
		{"auth", deps.initAuth},
	}

	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("auth_mode", string(cfg.Auth.Mode)),
		zap.Strings("allowed_domains", deps.AllowList.Domains()),
		zap.Bool("database", deps.DB != nil),
		zap.Bool("redis", deps.Redis != nil))
	return deps, nil
}

func (d *Dependencies) initTelemetry(ctx context.Context) error {
	provider, err := telemetry.New(ctx, d.Config.Observability, d.Config.Environment, d.Logger)
	if err != nil {
		return err
	}
	d.Telemetry = provider
	return nil
}

// initDatabase connects to PostgreSQL and builds the repositories
func (d *Dependencies) initDatabase(ctx context.Context) error {
	if !d.Config.Database.Enabled() {
		d.Logger.Warn("DATABASE_URL not set, profiles and audit persistence disabled")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(d.Config.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	repos := factory.NewRepositories()
	d.Profiles = repos.Profiles
	d.AuthEvents = repos.AuthEvents
	d.TxManager = factory.GetTransactionManager()
	return nil
}

func (d *Dependencies) initRedis(ctx context.Context) error {
	if !d.Config.Redis.Enabled() {
		return nil
	}

	client, err := cache.NewRedisClient(ctx, d.Config.Redis.URL, d.Logger)
	if err != nil {
		return err
	}
	d.Redis = client
	d.States = cache.NewRedisStateStore(client, d.Config.Redis.StateTTL)
	return nil
}

// initServices starts the audit workers and builds the role service
func (d *Dependencies) initServices(context.Context) error {
	if d.Config.Audit.Enabled {
		d.Audit = audit.NewService(d.AuthEvents, d.Logger, audit.Config{
			BufferSize:  d.Config.Audit.BufferSize,
			WorkerCount: d.Config.Audit.Workers,
		})
		if err := d.Audit.Start(); err != nil {
			return err
		}
	}

	if d.Profiles != nil {
		d.Roles = roles.NewService(d.Profiles, d.TxManager, roles.Config{
			CacheSize: d.Config.Roles.CacheSize,
			CacheTTL:  d.Config.Roles.CacheTTL,
		}, d.Logger)
	}
	return nil
}

// initAuth builds the credential validator for the configured mode and the gate
func (d *Dependencies) initAuth(ctx context.Context) error {
	cfg := d.Config

	// Entra keys are only fetched when bearer mode or the login flow needs them
	entraConfigured := cfg.Entra.TenantID != "" && cfg.Entra.ClientID != ""
	loginFlow := entraConfigured && cfg.Entra.ClientSecret != ""
	if entraConfigured && (cfg.Auth.Mode == config.AuthModeBearer || loginFlow) {
		if err := d.initEntra(ctx); err != nil {
			return err
		}
	}

	var validator middleware.CredentialValidator
	switch cfg.Auth.Mode {
	case config.AuthModeBearer:
		if d.Verifier == nil {
			return errors.New("entra tenant and client id are required in bearer mode")
		}
		validator = middleware.NewTokenValidator(d.Verifier, cfg.Auth.SessionCookieName)
	case config.AuthModeSession:
		factory, err := session.NewSupabaseClientFactory(cfg.Supabase, &http.Client{Timeout: cfg.Supabase.Timeout})
		if err != nil {
			return err
		}
		validator = middleware.NewSessionValidator(session.NewResolver(factory, d.Logger))
		d.Logger.Info("session validation enabled", zap.String("cookie", factory.CookieName()))
	case config.AuthModeProxy:
		validator = middleware.NewProxyHeaderValidator(middleware.ProxyHeaderConfig{
			EmailHeader:  cfg.Proxy.EmailHeader,
			NameHeader:   cfg.Proxy.NameHeader,
			DevMockEmail: cfg.Proxy.DevMockEmail,
			Development:  cfg.IsDevelopment(),
		})
		if cfg.IsDevelopment() && cfg.Proxy.DevMockEmail != "" {
			d.Logger.Warn("proxy mode uses a mock identity when the header is absent",
				zap.String("email", cfg.Proxy.DevMockEmail))
		}
	default:
		return fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}

	var auditor middleware.AuditRecorder
	if d.Audit != nil {
		auditor = d.Audit
	}

	d.Gate = middleware.NewAuthGate(validator, middleware.AuthGateConfig{
		Mode:              cfg.Auth.Mode,
		AllowList:         d.AllowList,
		ProtectedPrefixes: cfg.Auth.ProtectedPrefixes,
		VerifyTimeout:     cfg.Auth.VerifyTimeout,
		LoginPath:         cfg.Auth.LoginPath,
	}, auditor, d.Logger)

	d.Logger.Info("auth gate initialized",
		zap.String("mode", string(cfg.Auth.Mode)),
		zap.Strings("protected_prefixes", cfg.Auth.ProtectedPrefixes))
	return nil
}

// initEntra builds the key set cache, the verifier and, when a client secret
// is configured, the authorization code flow handler
func (d *Dependencies) initEntra(ctx context.Context) error {
	cfg := d.Config
	endpoints := entra.NewEndpoints(cfg.Entra.Authority, cfg.Entra.TenantID)

	d.KeySet = entra.NewKeySetCache(entra.KeySetConfig{
		URI:             endpoints.KeysURI(),
		HTTPTimeout:     cfg.Entra.HTTPTimeout,
		TTL:             cfg.Entra.KeySetTTL,
		RefetchInterval: cfg.Entra.RefetchInterval,
	}, d.Logger)

	verifier, err := entra.NewTokenVerifier(d.KeySet, entra.VerifierConfig{
		Issuer:    endpoints.Issuer(),
		Audience:  cfg.Entra.ClientID,
		ClockSkew: cfg.Auth.ClockSkew,
	})
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}
	d.Verifier = verifier

	prefetchCtx, cancel := context.WithTimeout(ctx, keySetPrefetchTimeout)
	defer cancel()
	if _, err := d.KeySet.Refresh(prefetchCtx); err != nil {
		d.Logger.Warn("signing keys not prefetched, will fetch on first request", zap.Error(err))
	}

	if cfg.Entra.ClientSecret == "" {
		d.Logger.Warn("ENTRA_CLIENT_SECRET not set, login flow disabled")
		return nil
	}

	exchanger := services.NewEntraTokenExchanger(cfg.Entra, &http.Client{Timeout: cfg.Entra.HTTPTimeout})
	handler := auth.NewHandler(cfg, exchanger, verifier, d.Logger)
	if d.States != nil {
		handler.WithStateStore(d.States)
	}
	if d.Roles != nil {
		handler.WithProfiles(d.Roles)
	}
	if d.Audit != nil {
		handler.WithEvents(d.Audit)
	}
	d.authHandler = handler

	d.Logger.Info("auth handler initialized", zap.String("authority", endpoints.Authority))
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Audit != nil && d.Audit.GetStats().Started {
		timeout := auditStopTimeout
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) > 0 {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
		d.Audit = nil
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.Redis = nil
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	if d.Telemetry != nil {
		if err := d.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush traces: %w", err))
		}
		d.Telemetry = nil
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
