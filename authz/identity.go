package authz

import "strings"

// Identity is the normalized user handed to downstream handlers.
// It never carries raw token or session material.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// LocalPart returns the part of the email before the last "@"
func LocalPart(email string) string {
	email = strings.TrimSpace(email)
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}
