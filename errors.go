package goShield

import "errors"

var (
	// ErrBlocked indicates the identity has an active block in the strike ledger.
	ErrBlocked = errors.New("identity blocked")
	// ErrMaliciousRequest indicates the request matched a malicious signature.
	ErrMaliciousRequest = errors.New("malicious request")
	// ErrRateLimited indicates the identity exceeded a rate-limit window.
	ErrRateLimited = errors.New("rate limited")
	// ErrCSRFInvalid indicates a state-changing request carried a missing,
	// mismatched, or expired CSRF token.
	ErrCSRFInvalid = errors.New("csrf token invalid")
	// ErrStoreUnavailable indicates the enforcement backend is unreachable.
	// It never reaches callers of Inspect: the gate degrades open instead.
	ErrStoreUnavailable = errors.New("enforcement store unavailable")
	// ErrGateNotReady indicates the gate was used before Build completed.
	ErrGateNotReady = errors.New("gate not initialized")
	// ErrInvalidConfig indicates a configuration value failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)
