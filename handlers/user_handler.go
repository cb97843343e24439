package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/wndmngr/backend/authz"
	"github.com/wndmngr/backend/middleware"
	"github.com/wndmngr/backend/models"
	"github.com/wndmngr/backend/utils"
)

// RoleLookup resolves the application role of an identity
type RoleLookup interface {
	Role(ctx context.Context, id *authz.Identity) (models.Role, error)
}

// MeResponse is the identity echo returned to the frontend
type MeResponse struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Role  models.Role `json:"role,omitempty"`
}

// DashboardResponse is the placeholder payload of the dashboard route
type DashboardResponse struct {
	User    MeResponse `json:"user"`
	Message string     `json:"message"`
}

// UserHandler serves identity surfaces behind the auth gate
type UserHandler struct {
	roles  RoleLookup
	logger *zap.Logger
}

// NewUserHandler creates a UserHandler. roles may be nil when no profile
// store is configured.
func NewUserHandler(roles RoleLookup, logger *zap.Logger) *UserHandler {
	return &UserHandler{roles: roles, logger: logger}
}

// HandleMe handles GET /api/v1/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	me, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	_ = utils.WriteOK(w, me)
}

// HandleDashboard handles GET /dashboard
func (h *UserHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	me, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	_ = utils.WriteOK(w, DashboardResponse{
		User:    me,
		Message: "Welcome, " + me.Name,
	})
}

func (h *UserHandler) currentUser(w http.ResponseWriter, r *http.Request) (MeResponse, bool) {
	ctx := r.Context()

	id := middleware.IdentityFromContext(ctx)
	if id == nil {
		_ = utils.WriteUnauthorized(w, authz.ReasonMissingCredential.PublicMessage())
		return MeResponse{}, false
	}

	me := MeResponse{ID: id.ID, Email: id.Email, Name: id.Name}

	if role := middleware.RoleFromContext(ctx); role != "" {
		me.Role = role
	} else if h.roles != nil {
		role, err := h.roles.Role(ctx, id)
		if err != nil {
			h.logger.Error("failed to resolve role",
				zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
				zap.String("user_id", id.ID),
				zap.Error(err))
			_ = utils.WriteServiceUnavailable(w, authz.ReasonOf(err).PublicMessage())
			return MeResponse{}, false
		}
		me.Role = role
	}

	return me, true
}
