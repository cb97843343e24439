package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wndmngr/backend/authz"
	"github.com/wndmngr/backend/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// IdentityKey is the context key for the authenticated identity
	IdentityKey contextKey = "identity"

	// RoleKey is the context key for the resolved application role
	RoleKey contextKey = "role"

	identitySlotKey contextKey = "identity_slot"
)

// GetRequestIDFromContext retrieves the request ID from context, falling back
// to the id assigned by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		return requestID
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// IdentityFromContext returns the identity attached by the auth gate, or nil
func IdentityFromContext(ctx context.Context) *authz.Identity {
	if id, ok := ctx.Value(IdentityKey).(*authz.Identity); ok {
		return id
	}
	return nil
}

// WithIdentity attaches an identity to the context. The user id is also
// reported to an enclosing RequestLogger.
func WithIdentity(ctx context.Context, id *authz.Identity) context.Context {
	if slot, ok := ctx.Value(identitySlotKey).(**string); ok && id != nil {
		userID := id.ID
		*slot = &userID
	}
	return context.WithValue(ctx, IdentityKey, id)
}

func withIdentitySlot(ctx context.Context, slot **string) context.Context {
	return context.WithValue(ctx, identitySlotKey, slot)
}

// RoleFromContext returns the role resolved by RequireRole, or ""
func RoleFromContext(ctx context.Context) models.Role {
	role, _ := ctx.Value(RoleKey).(models.Role)
	return role
}

// WithRole attaches a resolved role to the context
func WithRole(ctx context.Context, role models.Role) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}
