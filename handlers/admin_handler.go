package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wndmngr/backend/middleware"
	"github.com/wndmngr/backend/models"
	"github.com/wndmngr/backend/repositories"
	"github.com/wndmngr/backend/utils"
)

// RoleUpdater changes a stored role
type RoleUpdater interface {
	SetRole(ctx context.Context, userID string, role models.Role) error
}

// SetRoleRequest is the body of PUT /api/v1/admin/users/{id}/role
type SetRoleRequest struct {
	Role models.Role `json:"role" validate:"required,oneof=viewer user admin"`
}

// AdminHandler serves role administration
type AdminHandler struct {
	roles  RoleUpdater
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler
func NewAdminHandler(roles RoleUpdater, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{roles: roles, logger: logger}
}

// HandleSetRole handles PUT /api/v1/admin/users/{id}/role
func (h *AdminHandler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")
	if userID == "" {
		_ = utils.WriteBadRequest(w, "Missing user id", nil)
		return
	}

	var req SetRoleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		details := make(map[string]interface{})
		for field, msg := range utils.GetValidationFields(err) {
			details[field] = msg
		}
		_ = utils.WriteBadRequest(w, "Validation failed", details)
		return
	}

	if err := h.roles.SetRole(ctx, userID, req.Role); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Profile not found")
			return
		}
		h.logger.Error("failed to update role",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.String("user_id", userID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to update role")
		return
	}

	actor := ""
	if id := middleware.IdentityFromContext(ctx); id != nil {
		actor = id.ID
	}
	h.logger.Info("role updated",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("user_id", userID),
		zap.String("role", string(req.Role)),
		zap.String("actor", actor))

	_ = utils.WriteOK(w, map[string]string{"id": userID, "role": string(req.Role)})
}
