// Package csrf implements per-identity token issuance and double-submit
// verification for state-changing requests.
//
// # Design
//
// One Redis string per identity with the configured TTL. Issuance is lazy
// and idempotent: SET NX mints a token on first need, and every later call
// inside the TTL returns the same token, so concurrent first requests from
// one session converge. Verification requires the echoed token and the
// script-readable cookie to both be present, equal, and matching the stored
// value — a pure cross-site request cannot read the cookie, so it cannot
// forge the pair. Comparisons are constant-time.
//
// # What this package must NOT do
//
//   - Set cookies or read HTTP carriers — the middleware owns transport.
//   - Fail closed on a Redis outage: verification degrades open with an
//     alert, consistent with the rest of the enforcement layer.
//   - Import goShield or any sibling internal package.
package csrf
