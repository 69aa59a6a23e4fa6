package goShield

import (
	"net/http"
	"time"
)

// Reason is the coarse classification of an admission decision. Callers may
// branch on it; response bodies stay minimal and non-diagnostic regardless.
type Reason uint8

const (
	// ReasonAllowed admits the request.
	ReasonAllowed Reason = iota
	// ReasonBlocked rejects a request from an identity under an active block.
	ReasonBlocked
	// ReasonMalicious rejects a request matching a malicious signature.
	ReasonMalicious
	// ReasonRateLimited rejects a request exceeding its tier window.
	ReasonRateLimited
	// ReasonCSRF rejects a state-changing request with a missing or invalid
	// token.
	ReasonCSRF
)

func (r Reason) String() string {
	switch r {
	case ReasonAllowed:
		return "allowed"
	case ReasonBlocked:
		return "blocked"
	case ReasonMalicious:
		return "malicious"
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonCSRF:
		return "csrf"
	default:
		return "unknown"
	}
}

// Err maps a rejection to its sentinel, nil for admitted requests. Non-HTTP
// embeddings use it with errors.Is instead of switching on Reason.
func (r Reason) Err() error {
	switch r {
	case ReasonBlocked:
		return ErrBlocked
	case ReasonMalicious:
		return ErrMaliciousRequest
	case ReasonRateLimited:
		return ErrRateLimited
	case ReasonCSRF:
		return ErrCSRFInvalid
	default:
		return nil
	}
}

// Decision is the single admit/reject outcome the gate produces per request.
type Decision struct {
	Allow      bool
	Status     int
	Reason     Reason
	Identity   Identity
	RequestID  string
	RetryAfter time.Duration

	// ClientIP is the anonymous accounting address, derived under the same
	// proxy-trust rules as Identity. Set even when Identity is a user.
	ClientIP string

	// Tier names the rate tier that produced a ReasonRateLimited decision.
	Tier string
	// RuleID names the signature behind a ReasonMalicious decision. For
	// embedding-side logs only; it is never written to the response.
	RuleID string
}

// RequestInfo is the transport-agnostic view of one inbound request. The
// middleware package builds it from *http.Request; non-HTTP embeddings can
// construct it directly.
type RequestInfo struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header

	// Body is the (possibly truncated) request body made available for
	// signature scanning. Nil is fine; the gate never reads the wire.
	Body        []byte
	ContentType string

	// RemoteAddr is the direct transport peer (host or host:port).
	RemoteAddr string
	// ForwardedFor is the raw forwarding header value, if any.
	ForwardedFor string

	// Principal is the authenticated subject, empty for anonymous callers.
	Principal string

	// CSRFToken is the token echoed via header, form field, or query
	// parameter. CSRFCookie is the double-submit cookie value.
	CSRFToken  string
	CSRFCookie string

	// RequestID is the trace-correlation identifier. Empty means the gate
	// generates one.
	RequestID string
}
