package entra

import (
	"fmt"
	"strings"
)

// DefaultAuthority is the public Microsoft identity platform host
const DefaultAuthority = "https://login.microsoftonline.com"

// Endpoints derives the v2.0 endpoints of a single Entra ID tenant
type Endpoints struct {
	Authority string
	Tenant    string
}

// NewEndpoints returns the endpoints for tenant. An empty authority falls
// back to DefaultAuthority.
func NewEndpoints(authority, tenant string) Endpoints {
	if authority == "" {
		authority = DefaultAuthority
	}
	return Endpoints{Authority: strings.TrimRight(authority, "/"), Tenant: tenant}
}

// Issuer is the exact iss value carried by v2.0 tokens of the tenant
func (e Endpoints) Issuer() string {
	return fmt.Sprintf("%s/%s/v2.0", e.Authority, e.Tenant)
}

// KeysURI is the JWKS document location
func (e Endpoints) KeysURI() string {
	return fmt.Sprintf("%s/%s/discovery/v2.0/keys", e.Authority, e.Tenant)
}

func (e Endpoints) AuthorizeURI() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/authorize", e.Authority, e.Tenant)
}

func (e Endpoints) TokenURI() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", e.Authority, e.Tenant)
}

func (e Endpoints) LogoutURI() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/logout", e.Authority, e.Tenant)
}
