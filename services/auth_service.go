package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wndmngr/backend/config"
	"github.com/wndmngr/backend/entra"
)

const maxTokenResponseSize = 1 << 20

// TokenResponse represents the OAuth2 token endpoint response from Entra ID
type TokenResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// tokenError is the error body returned by the v2.0 token endpoint
type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// EntraTokenExchanger exchanges authorization codes for tokens at the tenant's
// v2.0 token endpoint
type EntraTokenExchanger struct {
	tokenURI     string
	clientID     string
	clientSecret string
	scopes       string
	httpClient   *http.Client
	tracer       trace.Tracer
}

// NewEntraTokenExchanger creates a new token exchanger. client may be nil.
func NewEntraTokenExchanger(cfg config.EntraConfig, client *http.Client) *EntraTokenExchanger {
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &EntraTokenExchanger{
		tokenURI:     entra.NewEndpoints(cfg.Authority, cfg.TenantID).TokenURI(),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scopes:       cfg.Scopes,
		httpClient:   client,
		tracer:       otel.Tracer("github.com/wndmngr/backend/services"),
	}
}

// ExchangeCode exchanges an authorization code for an ID token
func (e *EntraTokenExchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	if e.clientID == "" || e.clientSecret == "" {
		return nil, fmt.Errorf("entra client credentials not configured")
	}

	ctx, span := e.tracer.Start(ctx, "entra.exchange_code",
		trace.WithAttributes(attribute.String("oauth.token_uri", e.tokenURI)))
	defer span.End()

	resp, err := e.exchange(ctx, code, redirectURI)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token exchange failed")
		return nil, err
	}
	return resp, nil
}

func (e *EntraTokenExchanger) exchange(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {e.clientID},
		"client_secret": {e.clientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"scope":         {e.scopes},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURI, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var te tokenError
		if json.Unmarshal(body, &te) == nil && te.Error != "" {
			return nil, fmt.Errorf("token exchange failed: status %d: %s", resp.StatusCode, te.Error)
		}
		return nil, fmt.Errorf("token exchange failed: status %d", resp.StatusCode)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}

	if tokenResp.IDToken == "" {
		return nil, fmt.Errorf("no id_token in response")
	}

	return &tokenResp, nil
}
