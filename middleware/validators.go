package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/wndmngr/backend/authz"
	"github.com/wndmngr/backend/entra"
	"github.com/wndmngr/backend/utils"
)

// CredentialValidator extracts and checks the credential of a request.
// It returns (nil, nil) when the request carries no credential it recognizes
// and a reason-tagged error when the credential is present but unusable.
type CredentialValidator interface {
	Validate(ctx context.Context, r *http.Request) (*authz.Identity, error)
}

// TokenVerifier verifies a raw bearer token
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*entra.TokenClaims, error)
}

// IdentityResolver resolves a session carried in cookies
type IdentityResolver interface {
	Resolve(ctx context.Context, cookies []*http.Cookie) (*authz.Identity, error)
}

// TokenValidator accepts an Authorization bearer token, falling back to the
// session cookie set by the login callback
type TokenValidator struct {
	verifier   TokenVerifier
	cookieName string
}

// NewTokenValidator creates a TokenValidator. An empty cookieName disables the
// cookie fallback.
func NewTokenValidator(verifier TokenVerifier, cookieName string) *TokenValidator {
	return &TokenValidator{verifier: verifier, cookieName: cookieName}
}

// Validate implements CredentialValidator
func (v *TokenValidator) Validate(ctx context.Context, r *http.Request) (*authz.Identity, error) {
	raw, present := extractBearerToken(r)
	if !present && v.cookieName != "" {
		if cookie, err := r.Cookie(v.cookieName); err == nil && cookie.Value != "" {
			raw, present = cookie.Value, true
		}
	}
	if !present || raw == "" {
		return nil, authz.ErrMissingCredential
	}

	claims, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	id := claims.Identity()
	return &id, nil
}

// SessionValidator checks the managed-database session cookie
type SessionValidator struct {
	resolver IdentityResolver
}

// NewSessionValidator creates a SessionValidator
func NewSessionValidator(resolver IdentityResolver) *SessionValidator {
	return &SessionValidator{resolver: resolver}
}

// Validate implements CredentialValidator
func (v *SessionValidator) Validate(ctx context.Context, r *http.Request) (*authz.Identity, error) {
	return v.resolver.Resolve(ctx, r.Cookies())
}

// ProxyHeaderValidator trusts identity headers injected by an upstream access
// proxy. The mock identity is only used when development is true.
type ProxyHeaderValidator struct {
	emailHeader  string
	nameHeader   string
	devMockEmail string
	development  bool
}

// ProxyHeaderConfig configures a ProxyHeaderValidator
type ProxyHeaderConfig struct {
	EmailHeader  string
	NameHeader   string
	DevMockEmail string
	Development  bool
}

// NewProxyHeaderValidator creates a ProxyHeaderValidator
func NewProxyHeaderValidator(cfg ProxyHeaderConfig) *ProxyHeaderValidator {
	v := &ProxyHeaderValidator{
		emailHeader: cfg.EmailHeader,
		nameHeader:  cfg.NameHeader,
		development: cfg.Development,
	}
	if cfg.Development {
		v.devMockEmail = strings.TrimSpace(cfg.DevMockEmail)
	}
	return v
}

// Validate implements CredentialValidator
func (v *ProxyHeaderValidator) Validate(_ context.Context, r *http.Request) (*authz.Identity, error) {
	email := strings.TrimSpace(r.Header.Get(v.emailHeader))
	name := ""
	if v.nameHeader != "" {
		name = strings.TrimSpace(r.Header.Get(v.nameHeader))
	}

	if email == "" {
		if !v.development || v.devMockEmail == "" {
			return nil, nil
		}
		email, name = v.devMockEmail, ""
	}

	if err := utils.ValidateEmail(email); err != nil {
		return nil, authz.NewError(authz.ReasonMalformed, "invalid proxy identity header", err)
	}
	if name == "" {
		name = authz.LocalPart(email)
	}

	return &authz.Identity{
		ID:    strings.ToLower(email),
		Email: email,
		Name:  name,
	}, nil
}

// extractBearerToken returns the token of an "Authorization: Bearer" header.
// present is false when no bearer scheme was sent.
func extractBearerToken(r *http.Request) (token string, present bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	scheme, rest, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}

	return strings.TrimSpace(rest), true
}
