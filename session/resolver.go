// Package session validates managed-database sessions carried in request
// cookies and turns them into identities.
package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wndmngr/backend/authz"
)

// User is the auth backend's view of the session owner
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

// Session is the decoded session cookie
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user,omitempty"`
}

// Client talks to the auth backend on behalf of one request.
// Both methods return (nil, nil) when there is no usable session.
type Client interface {
	GetUser(ctx context.Context) (*User, error)
	GetSession(ctx context.Context) (*Session, error)
}

// ClientFactory builds a Client scoped to the cookies of a request
type ClientFactory interface {
	NewClient(cookies []*http.Cookie) Client
}

// nameMetadataKeys are tried in order before falling back to the email local part
var nameMetadataKeys = []string{"full_name", "name"}

// Resolver turns request cookies into an identity
type Resolver struct {
	factory ClientFactory
	logger  *zap.Logger
}

// NewResolver creates a Resolver
func NewResolver(factory ClientFactory, logger *zap.Logger) *Resolver {
	return &Resolver{factory: factory, logger: logger}
}

// Resolve returns the identity of the session owner, or (nil, nil) when the
// cookies carry no valid session. Errors mean the backend could not be asked.
func (r *Resolver) Resolve(ctx context.Context, cookies []*http.Cookie) (*authz.Identity, error) {
	client := r.factory.NewClient(cookies)

	user, err := client.GetUser(ctx)
	if err != nil {
		return nil, authz.NewError(authz.ReasonBackendMisconfigured, "session lookup failed", err)
	}
	if user == nil {
		return nil, nil
	}

	sess, err := client.GetSession(ctx)
	if err != nil {
		return nil, authz.NewError(authz.ReasonBackendMisconfigured, "session lookup failed", err)
	}
	if sess == nil {
		return nil, nil
	}
	if sess.User != nil && sess.User.ID != "" && sess.User.ID != user.ID {
		r.logger.Warn("session cookie owner does not match validated user",
			zap.String("user_id", user.ID))
		return nil, nil
	}

	email := strings.TrimSpace(user.Email)
	if email == "" || user.EmailConfirmedAt == nil {
		r.logger.Debug("session user has no confirmed email", zap.String("user_id", user.ID))
		return nil, nil
	}

	return &authz.Identity{
		ID:    user.ID,
		Email: email,
		Name:  displayName(user.UserMetadata, email),
	}, nil
}

func displayName(metadata map[string]any, email string) string {
	for _, key := range nameMetadataKeys {
		if v, ok := metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return authz.LocalPart(email)
}
