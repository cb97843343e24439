package models

import (
	"strings"
	"time"
)

// Role is the application role stored on a profile
type Role string

const (
	RoleViewer Role = "viewer"
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
)

// DefaultRole is assumed for authenticated users without a profile row
const DefaultRole = RoleUser

var roleLevels = map[Role]int{
	RoleViewer: 1,
	RoleUser:   2,
	RoleAdmin:  3,
}

// ParseRole normalizes a stored role name
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// Level returns the position of the role in the hierarchy, 0 if unknown
func (r Role) Level() int {
	return roleLevels[r]
}

// Valid reports whether the role is part of the hierarchy
func (r Role) Valid() bool {
	return r.Level() > 0
}

// Satisfies reports whether r grants at least the required role.
// An unknown required role is never satisfied.
func (r Role) Satisfies(required Role) bool {
	need := required.Level()
	if need == 0 {
		return false
	}
	return r.Level() >= need
}

// Profile is the application-side record of an authenticated user
type Profile struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Role      Role      `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Profile model
func (Profile) TableName() string {
	return "profiles"
}

// NewProfile creates a profile with the default role
func NewProfile(id, email string) *Profile {
	now := time.Now()
	return &Profile{
		ID:        id,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Role:      DefaultRole,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsAdmin returns true if the profile has the admin role
func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}
