package goShield

import "context"

type requestIDContextKey struct{}
type identityContextKey struct{}

// WithRequestID attaches the trace-correlation identifier to ctx. The
// middleware does this for every request so downstream handlers and audit
// events share one ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// RequestIDFromContext returns the identifier set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

// WithIdentity attaches the resolved identity to ctx so business handlers
// can key their own telemetry consistently with the gate.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity set by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return "", false
	}
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}
