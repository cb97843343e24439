package entra

import (
	"strings"
	"time"

	"github.com/wndmngr/backend/authz"
)

// ClaimTable lists, per identity field, the claims to try in order.
// The first non-empty string wins.
type ClaimTable struct {
	ID    []string
	Email []string
	Name  []string
}

// DefaultClaimTable covers Entra ID v2.0 id and access tokens
var DefaultClaimTable = ClaimTable{
	ID:    []string{"oid", "sub"},
	Email: []string{"email", "preferred_username", "upn"},
	Name:  []string{"name", "given_name"},
}

// TokenClaims holds the verified claims of a token
type TokenClaims struct {
	ID        string
	Subject   string
	ObjectID  string
	Email     string
	Name      string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	NotBefore time.Time
}

// Identity returns the normalized identity carried by the token
func (c *TokenClaims) Identity() authz.Identity {
	return authz.Identity{ID: c.ID, Email: c.Email, Name: c.Name}
}

func (t ClaimTable) extract(claims map[string]interface{}) (id, email, name string) {
	return firstString(claims, t.ID), firstString(claims, t.Email), firstString(claims, t.Name)
}

func firstString(claims map[string]interface{}, names []string) string {
	for _, name := range names {
		if s, ok := claims[name].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
