// Package ratelimit implements independent fixed-window counters per
// identity per tier on Redis: INCR plus a conditional EXPIRE on the first
// hit of each window.
//
// # Tiers
//
// A tier carries its own window, ceiling, path routing, and two behavioral
// flags: FailuresOnly (check budget at admission, count via RecordFailure —
// repeated successful calls are free) and KeyByIP (anonymous keying even for
// authenticated callers, for surfaces where a claimed identity is not
// trustworthy). Thresholds are policy configuration, never constants.
//
// # What this package must NOT do
//
//   - Write to the strike ledger — rate limiting is independent abuse
//     signal, not punishment.
//   - Fail closed: a Redis error admits the request and raises a throttled
//     alert.
//   - Import goShield or any sibling internal package.
package ratelimit
