package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthOutcome is the result recorded for an authorization decision
type AuthOutcome string

const (
	AuthOutcomeAllowed  AuthOutcome = "allowed"
	AuthOutcomeRejected AuthOutcome = "rejected"
	AuthOutcomeLogin    AuthOutcome = "login"
	AuthOutcomeLogout   AuthOutcome = "logout"
)

// AuthEvent is one audit trail entry of the auth gate
type AuthEvent struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	RequestID  string      `json:"request_id" db:"request_id"`
	OccurredAt time.Time   `json:"occurred_at" db:"occurred_at"`
	Outcome    AuthOutcome `json:"outcome" db:"outcome"`
	Reason     string      `json:"reason,omitempty" db:"reason"`
	Status     int         `json:"status" db:"status"`
	UserID     *string     `json:"user_id,omitempty" db:"user_id"`
	Email      *string     `json:"email,omitempty" db:"email"`
	Method     string      `json:"method" db:"method"`
	Path       string      `json:"path" db:"path"`
	RemoteAddr string      `json:"remote_addr" db:"remote_addr"`
}

// TableName returns the table name for the AuthEvent model
func (AuthEvent) TableName() string {
	return "auth_events"
}

// NewAuthEvent creates a new AuthEvent instance
func NewAuthEvent(outcome AuthOutcome, status int) *AuthEvent {
	return &AuthEvent{
		ID:         uuid.New(),
		Outcome:    outcome,
		Status:     status,
		OccurredAt: time.Now(),
	}
}

// WithReason sets the rejection reason
func (e *AuthEvent) WithReason(reason string) *AuthEvent {
	e.Reason = reason
	return e
}

// WithUser sets the identity fields
func (e *AuthEvent) WithUser(userID, email string) *AuthEvent {
	if userID != "" {
		e.UserID = &userID
	}
	if email != "" {
		e.Email = &email
	}
	return e
}

// WithRequest sets request metadata
func (e *AuthEvent) WithRequest(requestID, method, path, remoteAddr string) *AuthEvent {
	e.RequestID = requestID
	e.Method = method
	e.Path = path
	e.RemoteAddr = remoteAddr
	return e
}
