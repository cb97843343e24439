package authz

// VerdictKind discriminates the outcome of an authorization attempt
type VerdictKind int

const (
	// VerdictRejected stops the request with Status
	VerdictRejected VerdictKind = iota
	// VerdictAllowed continues with an authenticated Identity
	VerdictAllowed
	// VerdictAnonymous continues without an identity. Only produced for
	// unprotected paths in session and proxy modes.
	VerdictAnonymous
)

// Verdict is the per-request outcome produced by the auth gate.
// Values are immutable once constructed.
type Verdict struct {
	kind     VerdictKind
	identity *Identity
	reason   Reason
	err      error
}

// Allow returns an allowed verdict carrying a copy of id
func Allow(id Identity) Verdict {
	return Verdict{kind: VerdictAllowed, identity: &id}
}

// Anonymous returns a verdict that lets the request through unauthenticated
func Anonymous() Verdict {
	return Verdict{kind: VerdictAnonymous}
}

// Reject returns a rejected verdict. err is kept for server-side logging only.
func Reject(reason Reason, err error) Verdict {
	return Verdict{kind: VerdictRejected, reason: reason, err: err}
}

// RejectErr classifies err and returns the matching rejection
func RejectErr(err error) Verdict {
	return Reject(ReasonOf(err), err)
}

func (v Verdict) Kind() VerdictKind { return v.kind }

func (v Verdict) Allowed() bool { return v.kind == VerdictAllowed }

func (v Verdict) Rejected() bool { return v.kind == VerdictRejected }

// Identity returns a copy of the verified identity, or nil if none
func (v Verdict) Identity() *Identity {
	if v.identity == nil {
		return nil
	}
	id := *v.identity
	return &id
}

func (v Verdict) Reason() Reason { return v.reason }

// Status is the HTTP status for a rejection, 0 otherwise
func (v Verdict) Status() int {
	if v.kind != VerdictRejected {
		return 0
	}
	return v.reason.Status()
}

// Err is the underlying cause of a rejection, for logs
func (v Verdict) Err() error { return v.err }
