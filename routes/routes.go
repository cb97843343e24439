package routes

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wndmngr/backend/adapter/cache"
	"github.com/wndmngr/backend/app"
	"github.com/wndmngr/backend/config"
	"github.com/wndmngr/backend/handlers"
	"github.com/wndmngr/backend/middleware"
	"github.com/wndmngr/backend/models"
	"github.com/wndmngr/backend/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	health := newHealthHandler(deps)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	// OAuth2 authorization code flow (Entra ID)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", handlers.AuthLoginHandler(deps))
		r.Get("/callback", handlers.AuthCallbackHandler(deps))
		r.Get("/logout", handlers.AuthLogoutHandler(deps))
	})

	var roleLookup handlers.RoleLookup
	if deps.Roles != nil {
		roleLookup = deps.Roles
	}
	users := handlers.NewUserHandler(roleLookup, deps.Logger)

	// Everything below passes the auth gate
	r.Group(func(r chi.Router) {
		r.Use(deps.Gate.Authenticate)
		if cfg.Auth.Mode != config.AuthModeBearer {
			r.Use(deps.Gate.RequireIdentity)
		}

		r.Get("/dashboard", users.HandleDashboard)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/me", users.HandleMe)

			// Role administration requires a profile store
			if deps.Roles != nil {
				admin := handlers.NewAdminHandler(deps.Roles, deps.Logger)
				r.Route("/admin", func(r chi.Router) {
					r.Use(deps.Gate.RequireRole(deps.Roles, models.RoleAdmin))
					r.Put("/users/{id}/role", admin.HandleSetRole)
				})
			}
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

func newHealthHandler(deps *app.Dependencies) *handlers.HealthHandler {
	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}

	health := handlers.NewHealthHandler(db, deps.Logger)
	if deps.KeySet != nil {
		health.WithKeySet(deps.KeySet)
	}
	if deps.Redis != nil {
		client := deps.Redis
		health.WithCheck("redis", func(ctx context.Context) error {
			return cache.Ping(ctx, client)
		})
	}
	return health
}
