package venue

import (
	"errors"
	"fmt"
)

// FailKind classifies portal request failures. The engine treats them all as
// "no usable result this poll"; the distinction matters for logging and for
// the session maintenance path.
type FailKind int

const (
	// KindTransport covers timeouts, connection errors and non-200 statuses.
	KindTransport FailKind = iota
	// KindSessionInvalid means the portal answered with a login page instead
	// of data. The canonical "cookie expired" signal.
	KindSessionInvalid
	// KindMalformed means the body is neither a login page nor the expected
	// structured format.
	KindMalformed
)

func (k FailKind) String() string {
	switch k {
	case KindSessionInvalid:
		return "session_invalid"
	case KindMalformed:
		return "malformed_response"
	default:
		return "transport"
	}
}

// RequestError is the single failure type surfaced by the portal client.
type RequestError struct {
	Kind    FailKind
	Op      string
	Detail  string
	Preview string // first bytes of the offending body, for diagnosis
	Err     error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsSessionInvalid reports whether err is a login-page failure.
func IsSessionInvalid(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Kind == KindSessionInvalid
}

// MFAError means unattended renewal hit a multi-factor challenge. It cannot
// be resolved automatically and must be escalated to the operator.
type MFAError struct {
	Detail string
}

func (e *MFAError) Error() string {
	return "renewal blocked by multi-factor authentication: " + e.Detail
}

// IsMFA reports whether err is an MFA escalation.
func IsMFA(err error) bool {
	var me *MFAError
	return errors.As(err, &me)
}

var (
	// ErrNoSession aborts a booking cycle: no live session and renewal failed.
	ErrNoSession = errors.New("no valid portal session")
	// ErrNoTargets aborts a booking cycle: nothing configured to book.
	ErrNoTargets = errors.New("no booking targets configured")
	// ErrNoCredentials means renewal was needed but no secret is configured.
	ErrNoCredentials = errors.New("no renewal credentials configured")
)
