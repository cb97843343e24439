package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wndmngr/backend/authz"
	"github.com/wndmngr/backend/config"
	"github.com/wndmngr/backend/models"
	"github.com/wndmngr/backend/utils"
)

const defaultVerifyTimeout = 5 * time.Second

// AuditRecorder receives one record per non-anonymous gate decision
type AuditRecorder interface {
	RecordVerdict(v authz.Verdict, requestID, method, path, remoteAddr string)
}

// RoleResolver checks application roles
type RoleResolver interface {
	Require(ctx context.Context, id *authz.Identity, required models.Role) error
	Role(ctx context.Context, id *authz.Identity) (models.Role, error)
}

// AuthGateConfig holds the gate settings
type AuthGateConfig struct {
	Mode              config.AuthMode
	AllowList         authz.DomainAllowList
	ProtectedPrefixes []string
	VerifyTimeout     time.Duration
	LoginPath         string
}

// AuthGate decides, for every request, whether it may reach a handler
type AuthGate struct {
	validator     CredentialValidator
	mode          config.AuthMode
	allowList     authz.DomainAllowList
	prefixes      []string
	verifyTimeout time.Duration
	loginPath     string
	auditor       AuditRecorder
	logger        *zap.Logger
	tracer        trace.Tracer
}

// NewAuthGate creates a new AuthGate. auditor may be nil.
func NewAuthGate(validator CredentialValidator, cfg AuthGateConfig, auditor AuditRecorder, logger *zap.Logger) *AuthGate {
	timeout := cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}

	prefixes := make([]string, 0, len(cfg.ProtectedPrefixes))
	for _, p := range cfg.ProtectedPrefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		prefixes = append(prefixes, path.Clean("/"+strings.TrimPrefix(p, "/")))
	}

	return &AuthGate{
		validator:     validator,
		mode:          cfg.Mode,
		allowList:     cfg.AllowList,
		prefixes:      prefixes,
		verifyTimeout: timeout,
		loginPath:     cfg.LoginPath,
		auditor:       auditor,
		logger:        logger,
		tracer:        otel.Tracer("github.com/wndmngr/backend/middleware"),
	}
}

// IsProtected reports whether p lies under a protected prefix. Matching is
// segment-aware and runs on the cleaned path.
func (g *AuthGate) IsProtected(p string) bool {
	if p == "" {
		p = "/"
	}
	cleaned := path.Clean("/" + strings.TrimPrefix(p, "/"))
	for _, prefix := range g.prefixes {
		if prefix == "/" || cleaned == prefix || strings.HasPrefix(cleaned, prefix+"/") {
			return true
		}
	}
	return false
}

// Authorize runs the gate state machine for r
func (g *AuthGate) Authorize(r *http.Request) authz.Verdict {
	ctx, span := g.tracer.Start(r.Context(), "auth.authorize",
		trace.WithAttributes(attribute.String("auth.mode", string(g.mode))))
	defer span.End()

	verdict := g.authorize(ctx, r)
	span.SetAttributes(attribute.Bool("auth.allowed", verdict.Allowed()))
	if verdict.Rejected() {
		span.SetAttributes(attribute.String("auth.reason", string(verdict.Reason())))
	}
	return verdict
}

func (g *AuthGate) authorize(parent context.Context, r *http.Request) authz.Verdict {
	ctx, cancel := context.WithTimeout(parent, g.verifyTimeout)
	defer cancel()

	id, err := g.validator.Validate(ctx, r)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return authz.Reject(authz.ReasonBackendMisconfigured,
				authz.NewError(authz.ReasonBackendMisconfigured, "credential verification timed out", err))
		}

		reason := authz.ReasonOf(err)
		if g.mode == config.AuthModeBearer {
			return authz.Reject(reason, err)
		}
		if reason == authz.ReasonMissingCredential {
			id = nil
		} else if reason.IsInfrastructure() && !g.IsProtected(r.URL.Path) {
			g.logger.Error("identity lookup failed on public path",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			return authz.Anonymous()
		} else {
			return authz.Reject(reason, err)
		}
	}

	if id == nil {
		if g.mode == config.AuthModeBearer || g.IsProtected(r.URL.Path) {
			return authz.Reject(authz.ReasonMissingCredential, authz.ErrMissingCredential)
		}
		return authz.Anonymous()
	}

	if !g.allowList.IsAllowed(id.Email) {
		return authz.Reject(authz.ReasonDomainNotAllowed, authz.ErrDomainNotAllowed)
	}

	return authz.Allow(*id)
}

// Authenticate applies the gate verdict to every request passing through
func (g *AuthGate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verdict := g.Authorize(r)
		requestID := GetRequestIDFromContext(r.Context())

		if g.auditor != nil && verdict.Kind() != authz.VerdictAnonymous {
			g.auditor.RecordVerdict(verdict, requestID, r.Method, r.URL.Path, r.RemoteAddr)
		}

		switch verdict.Kind() {
		case authz.VerdictAllowed:
			id := verdict.Identity()
			g.logger.Debug("request authorized",
				zap.String("request_id", requestID),
				zap.String("user_id", id.ID),
				zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))

		case authz.VerdictAnonymous:
			next.ServeHTTP(w, r)

		default:
			g.logRejection(requestID, r, verdict)
			if g.shouldRedirect(r, verdict) {
				http.Redirect(w, r, g.loginRedirect(r), http.StatusSeeOther)
				return
			}
			writeRejection(w, verdict.Reason())
		}
	})
}

// RequireIdentity rejects requests that reached it without an identity.
// It is a route-level guard for cookie and proxy modes where the gate lets
// anonymous requests through on public paths.
func (g *AuthGate) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFromContext(r.Context()) == nil {
			verdict := authz.Reject(authz.ReasonMissingCredential, authz.ErrMissingCredential)
			g.logRejection(GetRequestIDFromContext(r.Context()), r, verdict)
			if g.shouldRedirect(r, verdict) {
				http.Redirect(w, r, g.loginRedirect(r), http.StatusSeeOther)
				return
			}
			writeRejection(w, verdict.Reason())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects identities that do not hold at least role
func (g *AuthGate) RequireRole(roles RoleResolver, role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			id := IdentityFromContext(ctx)
			if id == nil {
				g.logger.Error("identity not found in context",
					zap.String("request_id", requestID))
				writeRejection(w, authz.ReasonMissingCredential)
				return
			}

			if err := roles.Require(ctx, id, role); err != nil {
				reason := authz.ReasonOf(err)
				verdict := authz.Reject(reason, err)
				g.logRejection(requestID, r, verdict)
				if g.auditor != nil {
					g.auditor.RecordVerdict(verdict, requestID, r.Method, r.URL.Path, r.RemoteAddr)
				}
				writeRejection(w, reason)
				return
			}

			g.logger.Debug("role check passed",
				zap.String("request_id", requestID),
				zap.String("required_role", string(role)))

			next.ServeHTTP(w, r.WithContext(WithRole(ctx, role)))
		})
	}
}

func (g *AuthGate) logRejection(requestID string, r *http.Request, v authz.Verdict) {
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("reason", string(v.Reason())),
		zap.Int("status", v.Status()),
		zap.String("path", r.URL.Path),
	}
	if err := v.Err(); err != nil {
		fields = append(fields, zap.Error(err))
	}

	switch v.Status() {
	case http.StatusServiceUnavailable:
		g.logger.Error("authentication backend failure", fields...)
	case http.StatusForbidden:
		g.logger.Warn("request forbidden", fields...)
	default:
		g.logger.Warn("request unauthorized", fields...)
	}
}

// shouldRedirect sends browsers without a session to the login page instead
// of a JSON 401. Bearer clients always get the JSON body.
func (g *AuthGate) shouldRedirect(r *http.Request, v authz.Verdict) bool {
	if g.mode == config.AuthModeBearer || g.loginPath == "" {
		return false
	}
	if v.Reason() != authz.ReasonMissingCredential {
		return false
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (g *AuthGate) loginRedirect(r *http.Request) string {
	return g.loginPath + "?" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
}

func writeRejection(w http.ResponseWriter, reason authz.Reason) {
	_ = utils.WriteError(w, reason.Status(), reason.PublicMessage(), nil)
}
