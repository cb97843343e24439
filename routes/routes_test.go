package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wndmngr/backend/app"
	"github.com/wndmngr/backend/config"
)

func proxyDeps(t *testing.T) *app.Dependencies {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
			RequestTimeout: 5 * time.Second,
		},
		Auth: config.AuthConfig{
			Mode:              config.AuthModeProxy,
			AllowedDomains:    []string{"wpd.fr"},
			ProtectedPrefixes: []string{"/dashboard", "/api/v1"},
			VerifyTimeout:     time.Second,
			LoginPath:         "/auth/login",
		},
		Proxy: config.ProxyConfig{EmailHeader: "Cf-Access-Authenticated-User-Email"},
		Audit: config.AuditConfig{Enabled: true, BufferSize: 10, Workers: 1},
	}

	deps, err := app.NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })
	return deps
}

func TestSetupRoutes(t *testing.T) {
	router := SetupRoutes(proxyDeps(t))

	tests := []struct {
		name       string
		method     string
		path       string
		headers    map[string]string
		wantStatus int
	}{
		{"liveness", http.MethodGet, "/healthz", nil, http.StatusOK},
		{"readiness without dependencies", http.MethodGet, "/readyz", nil, http.StatusOK},
		{"login flow disabled", http.MethodGet, "/auth/login", nil, http.StatusNotFound},
		{"me without identity", http.MethodGet, "/api/v1/me", nil, http.StatusUnauthorized},
		{
			"me with proxy identity", http.MethodGet, "/api/v1/me",
			map[string]string{"Cf-Access-Authenticated-User-Email": "alice@wpd.fr"},
			http.StatusOK,
		},
		{
			"disallowed domain", http.MethodGet, "/api/v1/me",
			map[string]string{"Cf-Access-Authenticated-User-Email": "mallory@evil.test"},
			http.StatusForbidden,
		},
		{
			"dashboard redirects browsers", http.MethodGet, "/dashboard",
			map[string]string{"Accept": "text/html"},
			http.StatusSeeOther,
		},
		{
			"admin routes absent without profile store", http.MethodPut, "/api/v1/admin/users/x/role",
			map[string]string{"Cf-Access-Authenticated-User-Email": "alice@wpd.fr"},
			http.StatusNotFound,
		},
		{"unknown route", http.MethodGet, "/nope", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestSetupRoutes_CORS(t *testing.T) {
	router := SetupRoutes(proxyDeps(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/me", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestSetupRoutes_RedirectCarriesNext(t *testing.T) {
	router := SetupRoutes(proxyDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/dashboard?tab=2", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login?next=%2Fdashboard%3Ftab%3D2", rec.Header().Get("Location"))
}
