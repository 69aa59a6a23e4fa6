// Package goShield provides an inline HTTP request-admission engine with
// trust-aware identity resolution, bounded-cost attack-signature scanning,
// a Redis-backed strike ledger with decay and tiered blocking, fixed-window
// rate limiting, and double-submit CSRF verification.
//
// The package is designed for concurrent server workloads: Gate methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// goShield is the public surface. It exposes [Gate], [Builder], [Config],
// [Decision], and value types (Identity, MetricsSnapshot, RequestInfo, etc.).
// All internal coordination — signature scanning, strike accounting, window
// counting, token storage, audit dispatch — lives under internal/ and is
// never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or signature internals in its
//     public API.
//   - Make business authorization decisions (role checks belong downstream).
//   - Turn storage failures into 5xx responses: enforcement degrades open,
//     loudly, never closed.
//
// # Performance contract
//
// Inspect is the hot path. Identity resolution and signature scanning are
// synchronous, CPU-bound, and bounded (every scanned field is truncated
// before matching). Only the strike ledger, rate limiter, and CSRF manager
// are allowed Redis round-trips, and each degrades to a permissive default
// when Redis is unreachable.
package goShield
