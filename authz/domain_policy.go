package authz

import "strings"

// DomainAllowList is an ordered set of permitted email domains.
// The empty list allows every domain; config only produces it when
// allow-all was requested explicitly.
type DomainAllowList struct {
	domains []string
}

// NewDomainAllowList normalizes domains: trims space, strips a leading "@",
// lower-cases and drops empty or duplicate entries while keeping order.
func NewDomainAllowList(domains ...string) DomainAllowList {
	seen := make(map[string]bool, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return DomainAllowList{domains: out}
}

// Domains returns a copy of the normalized list
func (l DomainAllowList) Domains() []string {
	return append([]string(nil), l.domains...)
}

// AllowsAll reports whether the list is empty
func (l DomainAllowList) AllowsAll() bool {
	return len(l.domains) == 0
}

// IsAllowed reports whether email's domain is on the list
func (l DomainAllowList) IsAllowed(email string) bool {
	return IsAllowed(email, l.domains)
}

// IsAllowed reports whether the domain after the last "@" in email
// case-insensitively equals one of allowList. An empty allowList allows
// everything; otherwise an email without a domain is rejected.
func IsAllowed(email string, allowList []string) bool {
	if len(allowList) == 0 {
		return true
	}

	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := email[at+1:]
	if domain == "" {
		return false
	}

	for _, allowed := range allowList {
		if strings.EqualFold(domain, allowed) {
			return true
		}
	}
	return false
}
