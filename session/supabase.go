package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wndmngr/backend/config"
)

const (
	base64Prefix    = "base64-"
	maxCookieChunks = 16
	maxUserBodySize = 1 << 20
)

var errMalformedCookie = errors.New("malformed session cookie")

// SupabaseClientFactory creates per-request Supabase auth clients
type SupabaseClientFactory struct {
	baseURL    string
	anonKey    string
	cookieName string
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewSupabaseClientFactory validates cfg and derives the session cookie name
// from the project reference. client may be nil.
func NewSupabaseClientFactory(cfg config.SupabaseConfig, client *http.Client) (*SupabaseClientFactory, error) {
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid supabase url %q", cfg.URL)
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("supabase anon key is required")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &SupabaseClientFactory{
		baseURL:    u.String(),
		anonKey:    cfg.AnonKey,
		cookieName: CookieName(u.Hostname()),
		httpClient: client,
		tracer:     otel.Tracer("github.com/wndmngr/backend/session"),
	}, nil
}

// CookieName returns the auth cookie name used for a Supabase host
func CookieName(host string) string {
	ref, _, _ := strings.Cut(host, ".")
	return "sb-" + ref + "-auth-token"
}

// CookieName returns the session cookie name of the configured project
func (f *SupabaseClientFactory) CookieName() string {
	return f.cookieName
}

// NewClient implements ClientFactory
func (f *SupabaseClientFactory) NewClient(cookies []*http.Cookie) Client {
	return &SupabaseClient{factory: f, cookies: cookies}
}

// SupabaseClient is bound to the cookies of a single request
type SupabaseClient struct {
	factory *SupabaseClientFactory
	cookies []*http.Cookie

	once    sync.Once
	session *Session
	decErr  error
}

// GetSession decodes the session cookie. A missing cookie yields (nil, nil).
// A cookie that cannot be decoded is treated as no session.
func (c *SupabaseClient) GetSession(_ context.Context) (*Session, error) {
	c.once.Do(func() {
		c.session, c.decErr = decodeSessionCookie(c.cookies, c.factory.cookieName)
	})
	if c.decErr != nil {
		return nil, nil
	}
	return c.session, nil
}

// GetUser validates the session's access token against the auth backend
func (c *SupabaseClient) GetUser(ctx context.Context) (*User, error) {
	sess, _ := c.GetSession(ctx)
	if sess == nil || sess.AccessToken == "" {
		return nil, nil
	}

	ctx, span := c.factory.tracer.Start(ctx, "supabase.get_user",
		trace.WithAttributes(attribute.String("supabase.url", c.factory.baseURL)))
	defer span.End()

	user, status, err := c.fetchUser(ctx, sess.AccessToken)
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		return nil, err
	}
	return user, nil
}

func (c *SupabaseClient) fetchUser(ctx context.Context, accessToken string) (*User, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.factory.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build user request: %w", err)
	}
	req.Header.Set("apikey", c.factory.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.factory.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("user request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, resp.StatusCode, nil
	case resp.StatusCode != http.StatusOK:
		return nil, resp.StatusCode, fmt.Errorf("user lookup failed: status=%d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserBodySize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read user: %w", err)
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode user: %w", err)
	}
	if user.ID == "" {
		return nil, resp.StatusCode, nil
	}
	return &user, resp.StatusCode, nil
}

// decodeSessionCookie reassembles a possibly chunked cookie and decodes it
func decodeSessionCookie(cookies []*http.Cookie, name string) (*Session, error) {
	raw, ok := cookieValue(cookies, name)
	if !ok || raw == "" {
		return nil, nil
	}

	if strings.HasPrefix(raw, base64Prefix) {
		decoded, err := decodeBase64(strings.TrimPrefix(raw, base64Prefix))
		if err != nil {
			return nil, errMalformedCookie
		}
		raw = decoded
	} else if unescaped, err := url.QueryUnescape(raw); err == nil {
		raw = unescaped
	}

	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		// legacy array layout: [access_token, refresh_token, ...]
		var parts []*string
		if err := json.Unmarshal([]byte(raw), &parts); err != nil || len(parts) == 0 || parts[0] == nil {
			return nil, errMalformedCookie
		}
		sess := &Session{AccessToken: *parts[0]}
		if len(parts) > 1 && parts[1] != nil {
			sess.RefreshToken = *parts[1]
		}
		return sess, nil
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, errMalformedCookie
	}
	if sess.AccessToken == "" {
		return nil, errMalformedCookie
	}
	return &sess, nil
}

func cookieValue(cookies []*http.Cookie, name string) (string, bool) {
	byName := make(map[string]string, len(cookies))
	for _, c := range cookies {
		if c != nil {
			byName[c.Name] = c.Value
		}
	}

	if v, ok := byName[name]; ok {
		return v, true
	}

	var b strings.Builder
	for i := 0; i < maxCookieChunks; i++ {
		chunk, ok := byName[name+"."+strconv.Itoa(i)]
		if !ok {
			break
		}
		b.WriteString(chunk)
	}
	return b.String(), b.Len() > 0
}

func decodeBase64(s string) (string, error) {
	trimmed := strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return string(b), nil
	}
	b, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
