// Package middleware exposes the HTTP adapter for the goShield admission
// gate.
//
// # Guards
//
//   - [Protect] — full admission: block check, signature scan, rate limit,
//     CSRF verification, request-ID echo, double-submit cookie mirroring,
//     and automatic failure recording for failures-only rate tiers.
//   - [PrincipalFromJWT] — derives the authenticated principal from a
//     bearer token's subject claim.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Gate calls. It does NOT make
// admission decisions itself — all policy is delegated to Gate.Inspect.
//
// # What this package must NOT do
//
//   - Access Redis (the Gate handles I/O).
//   - Write diagnostic detail into rejection bodies — attackers learn the
//     status code and nothing else.
//   - Consume the request body; scanning reads a bounded prefix and puts it
//     back.
package middleware
