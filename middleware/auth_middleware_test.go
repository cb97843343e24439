package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wndmngr/backend/authz"
	"github.com/wndmngr/backend/config"
	"github.com/wndmngr/backend/entra"
	"github.com/wndmngr/backend/models"
)

// MockTokenVerifier is a mock implementation of TokenVerifier
type MockTokenVerifier struct {
	mock.Mock
}

func (m *MockTokenVerifier) Verify(ctx context.Context, raw string) (*entra.TokenClaims, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entra.TokenClaims), args.Error(1)
}

// MockRoleResolver is a mock implementation of RoleResolver
type MockRoleResolver struct {
	mock.Mock
}

func (m *MockRoleResolver) Require(ctx context.Context, id *authz.Identity, required models.Role) error {
	args := m.Called(ctx, id, required)
	return args.Error(0)
}

func (m *MockRoleResolver) Role(ctx context.Context, id *authz.Identity) (models.Role, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Role), args.Error(1)
}

type recordedVerdict struct {
	verdict authz.Verdict
	path    string
}

type fakeAuditor struct {
	mu      sync.Mutex
	records []recordedVerdict
}

func (a *fakeAuditor) RecordVerdict(v authz.Verdict, _, _, path, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, recordedVerdict{verdict: v, path: path})
}

type validatorFunc func(ctx context.Context, r *http.Request) (*authz.Identity, error)

func (f validatorFunc) Validate(ctx context.Context, r *http.Request) (*authz.Identity, error) {
	return f(ctx, r)
}

var aliceClaims = &entra.TokenClaims{
	ID:      "oid-alice",
	Subject: "sub-alice",
	Email:   "alice@wpd.fr",
	Name:    "Alice",
}

func bearerGate(verifier TokenVerifier, auditor AuditRecorder) *AuthGate {
	return NewAuthGate(NewTokenValidator(verifier, "session"), AuthGateConfig{
		Mode:              config.AuthModeBearer,
		AllowList:         authz.NewDomainAllowList("wpd.fr"),
		ProtectedPrefixes: []string{"/api/v1"},
		VerifyTimeout:     time.Second,
	}, auditor, zap.NewNop())
}

func cookieGate(mode config.AuthMode, v CredentialValidator) *AuthGate {
	return NewAuthGate(v, AuthGateConfig{
		Mode:              mode,
		AllowList:         authz.NewDomainAllowList("wpd.fr"),
		ProtectedPrefixes: []string{"/dashboard", "/data", "/api/v1"},
		VerifyTimeout:     time.Second,
		LoginPath:         "/auth/login",
	}, nil, zap.NewNop())
}

// identityEcho writes the identity it received, or "anonymous"
func identityEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		if id == nil {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_ = json.NewEncoder(w).Encode(id)
	})
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestAuthGate_BearerMode(t *testing.T) {
	t.Run("missing header is 401", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		auditor := &fakeAuditor{}
		handler := bearerGate(verifier, auditor).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		body := decodeError(t, rr)
		assert.Equal(t, "unauthorized", body["error"])
		assert.Equal(t, authz.ReasonMissingCredential.PublicMessage(), body["message"])
		verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)

		require.Len(t, auditor.records, 1)
		assert.Equal(t, authz.ReasonMissingCredential, auditor.records[0].verdict.Reason())
	})

	t.Run("non bearer scheme is 401", func(t *testing.T) {
		handler := bearerGate(new(MockTokenVerifier), nil).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid token attaches identity", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		verifier.On("Verify", mock.Anything, "good.token.sig").Return(aliceClaims, nil)
		auditor := &fakeAuditor{}
		handler := bearerGate(verifier, auditor).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Bearer good.token.sig")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var id authz.Identity
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &id))
		assert.Equal(t, authz.Identity{ID: "oid-alice", Email: "alice@wpd.fr", Name: "Alice"}, id)

		require.Len(t, auditor.records, 1)
		assert.True(t, auditor.records[0].verdict.Allowed())
	})

	t.Run("session cookie fallback", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		verifier.On("Verify", mock.Anything, "cookie.token.sig").Return(aliceClaims, nil)
		handler := bearerGate(verifier, nil).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: "cookie.token.sig"})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("header takes precedence over cookie", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		verifier.On("Verify", mock.Anything, "header.token.sig").Return(aliceClaims, nil)
		handler := bearerGate(verifier, nil).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "bearer header.token.sig")
		req.AddCookie(&http.Cookie{Name: "session", Value: "cookie.token.sig"})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		verifier.AssertExpectations(t)
	})

	t.Run("foreign domain is 403", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		verifier.On("Verify", mock.Anything, mock.Anything).Return(&entra.TokenClaims{
			ID: "oid-mallory", Email: "mallory@evil.com",
		}, nil)
		handler := bearerGate(verifier, nil).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Bearer a.b.c")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "forbidden", decodeError(t, rr)["error"])
	})

	t.Run("verification errors map to status", func(t *testing.T) {
		tests := []struct {
			err    error
			status int
		}{
			{authz.ErrMalformed, http.StatusUnauthorized},
			{authz.ErrUnknownKey, http.StatusUnauthorized},
			{authz.ErrBadSignature, http.StatusUnauthorized},
			{authz.ErrExpired, http.StatusUnauthorized},
			{authz.ErrIssuerMismatch, http.StatusUnauthorized},
			{authz.ErrAudienceMismatch, http.StatusUnauthorized},
			{authz.ErrKeySetUnavailable, http.StatusServiceUnavailable},
			{errors.New("dial tcp: connection refused"), http.StatusServiceUnavailable},
		}

		for _, tt := range tests {
			verifier := new(MockTokenVerifier)
			verifier.On("Verify", mock.Anything, mock.Anything).Return(nil, tt.err)
			handler := bearerGate(verifier, nil).Authenticate(identityEcho())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			req.Header.Set("Authorization", "Bearer a.b.c")
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code, tt.err.Error())
			assert.NotContains(t, rr.Body.String(), "connection refused")
		}
	})

	t.Run("verification timeout is 503", func(t *testing.T) {
		slow := validatorFunc(func(ctx context.Context, _ *http.Request) (*authz.Identity, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		gate := NewAuthGate(slow, AuthGateConfig{
			Mode:          config.AuthModeBearer,
			VerifyTimeout: 20 * time.Millisecond,
		}, nil, zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		verdict := gate.Authorize(req)

		assert.True(t, verdict.Rejected())
		assert.Equal(t, authz.ReasonBackendMisconfigured, verdict.Reason())
		assert.Equal(t, http.StatusServiceUnavailable, verdict.Status())
	})

	t.Run("browser requests are not redirected in bearer mode", func(t *testing.T) {
		handler := bearerGate(new(MockTokenVerifier), nil).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Accept", "text/html")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestAuthGate_SessionMode(t *testing.T) {
	noSession := validatorFunc(func(context.Context, *http.Request) (*authz.Identity, error) {
		return nil, nil
	})

	t.Run("protected prefix is never silently allowed", func(t *testing.T) {
		handler := cookieGate(config.AuthModeSession, noSession).Authenticate(identityEcho())

		for _, p := range []string{"/dashboard", "/dashboard/", "/dashboard/farms", "/data/x", "/api/v1/me",
			"/static/../dashboard", "//dashboard"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.URL.Path = p
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code, p)
			assert.NotEqual(t, "anonymous", rr.Body.String(), p)
		}
	})

	t.Run("public path is anonymous", func(t *testing.T) {
		handler := cookieGate(config.AuthModeSession, noSession).Authenticate(identityEcho())

		for _, p := range []string{"/", "/about", "/dashboards", "/database"} {
			req := httptest.NewRequest(http.MethodGet, p, nil)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code, p)
			assert.Equal(t, "anonymous", rr.Body.String(), p)
		}
	})

	t.Run("browser GET on protected prefix redirects to login", func(t *testing.T) {
		handler := cookieGate(config.AuthModeSession, noSession).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/dashboard?tab=farms", nil)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/auth/login?next=%2Fdashboard%3Ftab%3Dfarms", rr.Header().Get("Location"))
	})

	t.Run("valid session is allowed", func(t *testing.T) {
		valid := validatorFunc(func(context.Context, *http.Request) (*authz.Identity, error) {
			return &authz.Identity{ID: "u1", Email: "bob@WPD.fr", Name: "Bob"}, nil
		})
		handler := cookieGate(config.AuthModeSession, valid).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"id":"u1"`)
	})

	t.Run("foreign domain is 403 even on public paths", func(t *testing.T) {
		foreign := validatorFunc(func(context.Context, *http.Request) (*authz.Identity, error) {
			return &authz.Identity{ID: "u2", Email: "eve@example.com"}, nil
		})
		handler := cookieGate(config.AuthModeSession, foreign).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/about", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("backend failure", func(t *testing.T) {
		failing := validatorFunc(func(context.Context, *http.Request) (*authz.Identity, error) {
			return nil, authz.NewError(authz.ReasonBackendMisconfigured, "session lookup failed", errors.New("502"))
		})
		handler := cookieGate(config.AuthModeSession, failing).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

		req = httptest.NewRequest(http.MethodGet, "/about", nil)
		rr = httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "anonymous", rr.Body.String())
	})
}

func TestAuthGate_ProxyMode(t *testing.T) {
	prodProxy := NewProxyHeaderValidator(ProxyHeaderConfig{
		EmailHeader:  "Cf-Access-Authenticated-User-Email",
		NameHeader:   "Cf-Access-Authenticated-User-Common-Name",
		DevMockEmail: "dev@wpd.fr",
		Development:  false,
	})
	devProxy := NewProxyHeaderValidator(ProxyHeaderConfig{
		EmailHeader:  "Cf-Access-Authenticated-User-Email",
		DevMockEmail: "dev@wpd.fr",
		Development:  true,
	})

	t.Run("missing header on protected prefix fails closed outside development", func(t *testing.T) {
		handler := cookieGate(config.AuthModeProxy, prodProxy).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("proxy header identity", func(t *testing.T) {
		handler := cookieGate(config.AuthModeProxy, prodProxy).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.Header.Set("Cf-Access-Authenticated-User-Email", "Alice@wpd.fr")
		req.Header.Set("Cf-Access-Authenticated-User-Common-Name", "Alice Martin")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var id authz.Identity
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &id))
		assert.Equal(t, "alice@wpd.fr", id.ID)
		assert.Equal(t, "Alice@wpd.fr", id.Email)
		assert.Equal(t, "Alice Martin", id.Name)
	})

	t.Run("development mock identity", func(t *testing.T) {
		handler := cookieGate(config.AuthModeProxy, devProxy).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"email":"dev@wpd.fr"`)
		assert.Contains(t, rr.Body.String(), `"name":"dev"`)
	})

	t.Run("foreign proxy email is 403", func(t *testing.T) {
		handler := cookieGate(config.AuthModeProxy, prodProxy).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Cf-Access-Authenticated-User-Email", "eve@notwpd.fr")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("malformed proxy email is 401", func(t *testing.T) {
		handler := cookieGate(config.AuthModeProxy, prodProxy).Authenticate(identityEcho())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Cf-Access-Authenticated-User-Email", "not-an-email")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestAuthGate_IsProtected(t *testing.T) {
	gate := cookieGate(config.AuthModeSession, nil)

	tests := map[string]bool{
		"/dashboard":             true,
		"/dashboard/":            true,
		"/dashboard/farms/1":     true,
		"/data":                  true,
		"/api/v1":                true,
		"/api/v1/me":             true,
		"/dashboards":            false,
		"/database":              false,
		"/api/v10":               false,
		"/":                      false,
		"":                       false,
		"/public/../data/export": true,
		"/./dashboard":           true,
	}
	for p, want := range tests {
		assert.Equal(t, want, gate.IsProtected(p), p)
	}
}

func TestAuthGate_RequireIdentity(t *testing.T) {
	gate := cookieGate(config.AuthModeSession, nil)
	handler := gate.RequireIdentity(identityEcho())

	req := httptest.NewRequest(http.MethodPost, "/auth/profile", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req = req.WithContext(WithIdentity(req.Context(), &authz.Identity{ID: "u1", Email: "a@wpd.fr"}))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthGate_RequireRole(t *testing.T) {
	gate := bearerGate(new(MockTokenVerifier), nil)
	alice := &authz.Identity{ID: "oid-alice", Email: "alice@wpd.fr"}

	withIdentity := func(r *http.Request) *http.Request {
		return r.WithContext(WithIdentity(r.Context(), alice))
	}

	t.Run("satisfied", func(t *testing.T) {
		roles := new(MockRoleResolver)
		roles.On("Require", mock.Anything, alice, models.RoleAdmin).Return(nil)

		var seen models.Role
		handler := gate.RequireRole(roles, models.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RoleFromContext(r.Context())
		}))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/api/v1/admin", nil)))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, models.RoleAdmin, seen)
	})

	t.Run("insufficient role", func(t *testing.T) {
		roles := new(MockRoleResolver)
		roles.On("Require", mock.Anything, alice, models.RoleAdmin).Return(authz.ErrInsufficientRole)

		handler := gate.RequireRole(roles, models.RoleAdmin)(identityEcho())
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/api/v1/admin", nil)))

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, authz.ReasonInsufficientRole.PublicMessage(), decodeError(t, rr)["message"])
	})

	t.Run("store failure is 503", func(t *testing.T) {
		roles := new(MockRoleResolver)
		roles.On("Require", mock.Anything, alice, models.RoleUser).
			Return(authz.NewError(authz.ReasonBackendMisconfigured, "role lookup failed", errors.New("db down")))

		handler := gate.RequireRole(roles, models.RoleUser)(identityEcho())
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/api/v1/admin", nil)))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("no identity", func(t *testing.T) {
		handler := gate.RequireRole(new(MockRoleResolver), models.RoleUser)(identityEcho())
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestAuthGate_EndToEndWithEntraVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key: &key.PublicKey, KeyID: "kid-1", Algorithm: "RS256", Use: "sig",
	}}}
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	defer jwks.Close()

	endpoints := entra.NewEndpoints("https://login.example.com", "tenant-1")
	cache := entra.NewKeySetCache(entra.KeySetConfig{URI: jwks.URL, HTTPClient: jwks.Client()}, zap.NewNop())
	verifier, err := entra.NewTokenVerifier(cache, entra.VerifierConfig{
		Issuer:   endpoints.Issuer(),
		Audience: "client-1",
	})
	require.NoError(t, err)

	sign := func(email string, exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"iss":   endpoints.Issuer(),
			"aud":   "client-1",
			"oid":   "oid-1",
			"sub":   "sub-1",
			"email": email,
			"name":  "Test User",
			"iat":   time.Now().Add(-time.Minute).Unix(),
			"exp":   exp.Unix(),
		})
		tok.Header["kid"] = "kid-1"
		signed, err := tok.SignedString(key)
		require.NoError(t, err)
		return signed
	}

	handler := bearerGate(verifier, nil).Authenticate(identityEcho())
	do := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusUnauthorized, do("").Code)

	rr := do(sign("user@wpd.fr", time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id":"oid-1"`)

	assert.Equal(t, http.StatusForbidden, do(sign("user@other.com", time.Now().Add(time.Hour))).Code)
	assert.Equal(t, http.StatusUnauthorized, do(sign("user@wpd.fr", time.Now().Add(-time.Hour))).Code)
	assert.Equal(t, http.StatusUnauthorized, do("not-a-jwt").Code)
}
