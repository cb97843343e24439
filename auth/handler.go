package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wndmngr/backend/adapter/cache"
	"github.com/wndmngr/backend/authz"
	"github.com/wndmngr/backend/config"
	"github.com/wndmngr/backend/entra"
	"github.com/wndmngr/backend/middleware"
	"github.com/wndmngr/backend/models"
	"github.com/wndmngr/backend/services"
	"github.com/wndmngr/backend/utils"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName = "oauth_state"
	// NextCookieName carries the post-login path when no state store is configured
	NextCookieName       = "oauth_next"
	stateCookieMaxAge    = 600
	defaultSessionMaxAge = time.Hour
)

// TokenExchanger exchanges OAuth2 authorization codes for tokens via the OAuth2 token endpoint.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*services.TokenResponse, error)
}

// TokenVerifier verifies the id_token returned by the token endpoint.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*entra.TokenClaims, error)
}

// StateStore keeps pending login states server-side.
type StateStore interface {
	Save(ctx context.Context, state string, data cache.OAuthState) error
	Consume(ctx context.Context, state string) (*cache.OAuthState, error)
}

// ProfileProvisioner creates the profile row of a first-time user.
type ProfileProvisioner interface {
	EnsureProfile(ctx context.Context, id *authz.Identity) (*models.Profile, error)
}

// EventRecorder receives login and logout events.
type EventRecorder interface {
	Record(event *models.AuthEvent)
}

// Handler handles OAuth2 authentication flows (login, callback, logout).
type Handler struct {
	cfg       *config.Config
	endpoints entra.Endpoints
	allowList authz.DomainAllowList
	exchanger TokenExchanger
	verifier  TokenVerifier
	states    StateStore
	profiles  ProfileProvisioner
	events    EventRecorder
	now       func() time.Time
	logger    *zap.Logger
}

// NewHandler creates a new auth handler with the given config, token exchanger, and verifier.
func NewHandler(cfg *config.Config, exchanger TokenExchanger, verifier TokenVerifier, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		endpoints: entra.NewEndpoints(cfg.Entra.Authority, cfg.Entra.TenantID),
		allowList: authz.NewDomainAllowList(cfg.Auth.AllowedDomains...),
		exchanger: exchanger,
		verifier:  verifier,
		now:       time.Now,
		logger:    logger,
	}
}

// WithStateStore makes states single-use across instances
func (h *Handler) WithStateStore(states StateStore) *Handler {
	h.states = states
	return h
}

// WithProfiles provisions a profile on successful login
func (h *Handler) WithProfiles(profiles ProfileProvisioner) *Handler {
	h.profiles = profiles
	return h
}

// WithEvents records login and logout events
func (h *Handler) WithEvents(events EventRecorder) *Handler {
	h.events = events
	return h
}

// HandleLogin redirects to the Entra ID authorize endpoint
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Entra.TenantID == "" || h.cfg.Entra.ClientID == "" {
		h.logger.Error("entra not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	state, err := generateSecureState()
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	next := safeNext(r.URL.Query().Get("next"))

	if h.states != nil {
		err := h.states.Save(r.Context(), state, cache.OAuthState{Next: next, CreatedAt: h.now().UTC()})
		if err != nil {
			h.logger.Error("failed to persist login state",
				zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
				zap.Error(err))
			_ = utils.WriteServiceUnavailable(w, authz.ReasonBackendMisconfigured.PublicMessage())
			return
		}
	} else if next != "" {
		h.setCookie(w, NextCookieName, next, stateCookieMaxAge)
	}

	h.setCookie(w, StateCookieName, state, stateCookieMaxAge)

	authURL := h.buildAuthURL(state)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback exchanges the authorization code for tokens, verifies the
// id_token, applies the domain policy and sets the session cookie
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	if code := query.Get("error"); code != "" {
		h.logger.Warn("authorization failed at identity provider",
			zap.String("error", code),
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)))
		_ = utils.WriteBadRequest(w, "Authentication was not completed", map[string]interface{}{"error": code})
		return
	}

	code := query.Get("code")
	state := query.Get("state")

	if code == "" {
		_ = utils.WriteBadRequest(w, "Missing authorization code", nil)
		return
	}
	if state == "" {
		_ = utils.WriteBadRequest(w, "Missing state parameter", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}
	h.clearCookie(w, StateCookieName)

	next := ""
	if h.states != nil {
		saved, err := h.states.Consume(ctx, state)
		if err != nil {
			if errors.Is(err, cache.ErrStateNotFound) {
				_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
				return
			}
			h.logger.Error("failed to load login state", zap.Error(err))
			_ = utils.WriteServiceUnavailable(w, authz.ReasonBackendMisconfigured.PublicMessage())
			return
		}
		next = safeNext(saved.Next)
	} else if c, err := r.Cookie(NextCookieName); err == nil {
		next = safeNext(c.Value)
		h.clearCookie(w, NextCookieName)
	}

	if h.exchanger == nil || h.verifier == nil {
		h.logger.Error("token exchange not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	tokens, err := h.exchanger.ExchangeCode(ctx, code, h.cfg.Entra.RedirectURI)
	if err != nil {
		h.logger.Warn("token exchange failed", zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Authentication failed")
		return
	}

	claims, err := h.verifier.Verify(ctx, tokens.IDToken)
	if err != nil {
		reason := authz.ReasonOf(err)
		h.logger.Warn("id token rejected", zap.String("reason", string(reason)), zap.Error(err))
		h.record(r, models.NewAuthEvent(models.AuthOutcomeRejected, reason.Status()).WithReason(string(reason)))
		_ = utils.WriteError(w, reason.Status(), reason.PublicMessage(), nil)
		return
	}

	id := claims.Identity()
	if !h.allowList.IsAllowed(id.Email) {
		reason := authz.ReasonDomainNotAllowed
		h.logger.Warn("login from disallowed domain", zap.String("user_id", id.ID))
		h.record(r, models.NewAuthEvent(models.AuthOutcomeRejected, reason.Status()).
			WithReason(string(reason)).
			WithUser(id.ID, id.Email))
		_ = utils.WriteForbidden(w, reason.PublicMessage())
		return
	}

	if h.profiles != nil {
		if _, err := h.profiles.EnsureProfile(ctx, &id); err != nil {
			h.logger.Error("failed to provision profile", zap.String("user_id", id.ID), zap.Error(err))
		}
	}

	h.setCookie(w, h.sessionCookieName(), tokens.IDToken, h.sessionMaxAge(claims))
	h.record(r, models.NewAuthEvent(models.AuthOutcomeLogin, http.StatusFound).WithUser(id.ID, id.Email))

	h.logger.Info("user logged in",
		zap.String("user_id", id.ID),
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)))

	redirectURL := next
	if redirectURL == "" {
		redirectURL = h.cfg.Server.FrontEndURL
	}
	if redirectURL == "" {
		redirectURL = "/"
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// HandleLogout clears the session cookie and redirects to the Entra ID logout endpoint
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	event := models.NewAuthEvent(models.AuthOutcomeLogout, http.StatusFound)
	if c, err := r.Cookie(h.sessionCookieName()); err == nil && c.Value != "" && h.verifier != nil {
		if claims, err := h.verifier.Verify(r.Context(), c.Value); err == nil {
			event.WithUser(claims.ID, claims.Email)
		}
	}

	h.clearCookie(w, h.sessionCookieName())
	h.record(r, event)

	http.Redirect(w, r, h.buildLogoutURL(), http.StatusFound)
}

func (h *Handler) record(r *http.Request, event *models.AuthEvent) {
	if h.events == nil {
		return
	}
	h.events.Record(event.WithRequest(middleware.GetRequestIDFromContext(r.Context()), r.Method, r.URL.Path, r.RemoteAddr))
}

func (h *Handler) sessionCookieName() string {
	if h.cfg.Auth.SessionCookieName == "" {
		return "session"
	}
	return h.cfg.Auth.SessionCookieName
}

// sessionMaxAge bounds the cookie by the token lifetime
func (h *Handler) sessionMaxAge(claims *entra.TokenClaims) int {
	if claims.ExpiresAt.IsZero() {
		return int(defaultSessionMaxAge.Seconds())
	}
	remaining := int(claims.ExpiresAt.Sub(h.now()).Seconds())
	if remaining < 1 {
		return 1
	}
	return remaining
}

// setCookie writes an HttpOnly cookie. Lax is required so the cookie
// accompanies the top-level redirect back from the identity provider.
func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	h.setCookie(w, name, "", -1)
}

func (h *Handler) buildAuthURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {h.cfg.Entra.ClientID},
		"redirect_uri":  {h.cfg.Entra.RedirectURI},
		"response_mode": {"query"},
		"scope":         {h.cfg.Entra.Scopes},
		"state":         {state},
	}
	return h.endpoints.AuthorizeURI() + "?" + params.Encode()
}

func (h *Handler) buildLogoutURL() string {
	target := h.cfg.Server.FrontEndURL
	if target == "" {
		if parsed, err := url.Parse(h.cfg.Entra.RedirectURI); err == nil && parsed.Host != "" {
			target = parsed.Scheme + "://" + parsed.Host
		}
	}
	if target == "" {
		return h.endpoints.LogoutURI()
	}
	params := url.Values{"post_logout_redirect_uri": {target}}
	return h.endpoints.LogoutURI() + "?" + params.Encode()
}

// safeNext accepts only same-origin absolute paths
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	parsed, err := url.Parse(next)
	if err != nil || parsed.Scheme != "" || parsed.Host != "" {
		return ""
	}
	return next
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
