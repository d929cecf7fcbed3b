package rfb

import "fmt"

// Kind is the session error taxonomy. It groups failures by how the
// session should react, not by exact cause.
type Kind int

const (
	// Transport indicates a stream read/write failed or ended unexpectedly.
	Transport Kind = iota
	// UnrecognizedProtocolElement indicates the peer sent an ill-formed or
	// unsupported value at a position the protocol defines.
	UnrecognizedProtocolElement
	// NoSupportedAuthenticationMethods indicates the intersection of
	// offered and configured authentication methods is empty.
	NoSupportedAuthenticationMethods
	// AuthenticationFailed indicates the embedder rejected credentials.
	AuthenticationFailed
	// SanityCheck indicates a self-consistency violation, e.g. no
	// framebuffer available or an impossibly large count.
	SanityCheck
	// InvalidArgument indicates caller misuse of the session API.
	InvalidArgument
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case UnrecognizedProtocolElement:
		return "unrecognized-protocol-element"
	case NoSupportedAuthenticationMethods:
		return "no-supported-authentication-methods"
	case AuthenticationFailed:
		return "authentication-failed"
	case SanityCheck:
		return "sanity-check"
	case InvalidArgument:
		return "invalid-argument"
	default:
		return "unknown"
	}
}

// SessionError is the error type every session-terminating failure is
// reported as. Op names the operation that failed (e.g. "handshake.version",
// "dispatch.SetEncodings"); Err, if present, is the underlying cause.
type SessionError struct {
	Op  string
	K   Kind
	Msg string
	Err error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rfb %s: %s: %s: %v", e.K, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("rfb %s: %s: %s", e.K, e.Op, e.Msg)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Is reports whether target is a *SessionError with the same Kind.
func (e *SessionError) Is(target error) bool {
	other, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.K == other.K
}

// Kind returns the error's Kind for callers that received a plain error.
func (e *SessionError) Kind() Kind { return e.K }

func newErr(op string, k Kind, msg string, err error) *SessionError {
	return &SessionError{Op: op, K: k, Msg: msg, Err: err}
}
