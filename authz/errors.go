package authz

import (
	"errors"
	"fmt"
	"net/http"
)

// Reason identifies why a request was not authorized
type Reason string

const (
	ReasonMissingCredential    Reason = "missing_credential"
	ReasonMalformed            Reason = "malformed"
	ReasonUnknownKey           Reason = "unknown_key"
	ReasonBadSignature         Reason = "bad_signature"
	ReasonExpired              Reason = "expired"
	ReasonIssuerMismatch       Reason = "issuer_mismatch"
	ReasonAudienceMismatch     Reason = "audience_mismatch"
	ReasonDomainNotAllowed     Reason = "domain_not_allowed"
	ReasonInsufficientRole     Reason = "insufficient_role"
	ReasonKeySetUnavailable    Reason = "keyset_unavailable"
	ReasonBackendMisconfigured Reason = "backend_misconfigured"
)

// Status returns the HTTP status code a rejection with this reason surfaces as
func (r Reason) Status() int {
	switch r {
	case ReasonDomainNotAllowed, ReasonInsufficientRole:
		return http.StatusForbidden
	case ReasonKeySetUnavailable, ReasonBackendMisconfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

// IsInfrastructure reports whether the reason points at an operational problem
// rather than a bad credential
func (r Reason) IsInfrastructure() bool {
	return r.Status() == http.StatusServiceUnavailable
}

// PublicMessage is the short message returned to callers. It never carries
// provider detail.
func (r Reason) PublicMessage() string {
	switch r {
	case ReasonMissingCredential:
		return "Missing or invalid authorization"
	case ReasonDomainNotAllowed:
		return "Access restricted to allowed email domains"
	case ReasonInsufficientRole:
		return "Insufficient permissions"
	case ReasonKeySetUnavailable, ReasonBackendMisconfigured:
		return "Authentication temporarily unavailable"
	default:
		return "Invalid or expired token"
	}
}

// Error is a reason-tagged authentication error
type Error struct {
	Reason  Reason
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same reason
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// NewError creates a reason-tagged error wrapping err
func NewError(reason Reason, message string, err error) *Error {
	return &Error{Reason: reason, Message: message, Err: err}
}

var (
	ErrMissingCredential    = &Error{Reason: ReasonMissingCredential, Message: "missing credential"}
	ErrMalformed            = &Error{Reason: ReasonMalformed, Message: "malformed token"}
	ErrUnknownKey           = &Error{Reason: ReasonUnknownKey, Message: "unknown signing key"}
	ErrBadSignature         = &Error{Reason: ReasonBadSignature, Message: "invalid token signature"}
	ErrExpired              = &Error{Reason: ReasonExpired, Message: "token expired"}
	ErrIssuerMismatch       = &Error{Reason: ReasonIssuerMismatch, Message: "issuer mismatch"}
	ErrAudienceMismatch     = &Error{Reason: ReasonAudienceMismatch, Message: "audience mismatch"}
	ErrDomainNotAllowed     = &Error{Reason: ReasonDomainNotAllowed, Message: "email domain not allowed"}
	ErrInsufficientRole     = &Error{Reason: ReasonInsufficientRole, Message: "insufficient role"}
	ErrKeySetUnavailable    = &Error{Reason: ReasonKeySetUnavailable, Message: "signing key set unavailable"}
	ErrBackendMisconfigured = &Error{Reason: ReasonBackendMisconfigured, Message: "authentication backend misconfigured"}
)

// ReasonOf classifies err. Errors that carry no reason are treated as
// infrastructure failures.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	// deadline exceeded, transport failures, store outages
	return ReasonBackendMisconfigured
}
