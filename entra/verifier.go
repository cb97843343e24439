package entra

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wndmngr/backend/authz"
)

// DefaultMethods are the asymmetric algorithms accepted for signatures
var DefaultMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// KeyProvider resolves signing keys by kid
type KeyProvider interface {
	Key(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// VerifierConfig holds configuration for TokenVerifier
type VerifierConfig struct {
	Issuer   string
	Audience string
	Methods  []string

	// ClockSkew is tolerated on exp, nbf and iat only
	ClockSkew time.Duration

	Claims ClaimTable
	Now    func() time.Time
}

// TokenVerifier verifies Entra ID JWTs against a key set
type TokenVerifier struct {
	keys     KeyProvider
	issuer   string
	audience string
	skew     time.Duration
	claims   ClaimTable
	now      func() time.Time
	parser   *jwt.Parser
}

// NewTokenVerifier creates a verifier. Issuer and audience are required.
func NewTokenVerifier(keys KeyProvider, cfg VerifierConfig) (*TokenVerifier, error) {
	if keys == nil {
		return nil, errors.New("key provider is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = DefaultMethods
	}
	if cfg.ClockSkew < 0 {
		return nil, errors.New("clock skew must not be negative")
	}
	if cfg.Claims.ID == nil && cfg.Claims.Email == nil && cfg.Claims.Name == nil {
		cfg.Claims = DefaultClaimTable
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenVerifier{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		skew:     cfg.ClockSkew,
		claims:   cfg.Claims,
		now:      cfg.Now,
		parser:   jwt.NewParser(jwt.WithValidMethods(cfg.Methods), jwt.WithoutClaimsValidation()),
	}, nil
}

// Verify checks structure, key, signature, issuer, audience and validity
// window, in that order, and returns the extracted claims.
func (v *TokenVerifier) Verify(ctx context.Context, raw string) (*TokenClaims, error) {
	if !wellFormed(raw) {
		return nil, authz.ErrMalformed
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, authz.NewError(authz.ReasonUnknownKey, "kid header not found", nil)
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	iss, err := claims.GetIssuer()
	if err != nil || iss != v.issuer {
		return nil, authz.NewError(authz.ReasonIssuerMismatch, fmt.Sprintf("unexpected issuer %q", iss), nil)
	}

	aud, err := claims.GetAudience()
	if err != nil || !slices.Contains(aud, v.audience) {
		return nil, authz.ErrAudienceMismatch
	}

	now := v.now()
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, authz.NewError(authz.ReasonExpired, "token has no valid exp claim", err)
	}
	if !exp.Add(v.skew).After(now) {
		return nil, authz.ErrExpired
	}
	nbf, err := claims.GetNotBefore()
	if err != nil || (nbf != nil && nbf.After(now.Add(v.skew))) {
		return nil, authz.NewError(authz.ReasonExpired, "token not yet valid", err)
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || (iat != nil && iat.After(now.Add(v.skew))) {
		return nil, authz.NewError(authz.ReasonExpired, "token not yet valid", err)
	}

	id, email, name := v.claims.extract(claims)
	if id == "" {
		return nil, authz.NewError(authz.ReasonMalformed, "token carries no subject", nil)
	}

	sub, _ := claims.GetSubject()
	oid, _ := claims["oid"].(string)
	parsed := &TokenClaims{
		ID:        id,
		Subject:   sub,
		ObjectID:  oid,
		Email:     email,
		Name:      name,
		Issuer:    iss,
		Audience:  aud,
		ExpiresAt: exp.Time,
	}
	if nbf != nil {
		parsed.NotBefore = nbf.Time
	}
	if iat != nil {
		parsed.IssuedAt = iat.Time
	}
	return parsed, nil
}

// wellFormed requires exactly three non-empty dot-separated segments
func wellFormed(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

func classifyParseError(err error) error {
	var authErr *authz.Error
	if errors.As(err, &authErr) {
		return authErr
	}
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return authz.NewError(authz.ReasonMalformed, "malformed token", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return authz.NewError(authz.ReasonBadSignature, "invalid token signature", err)
	default:
		return authz.NewError(authz.ReasonMalformed, "malformed token", err)
	}
}
