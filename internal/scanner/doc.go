// Package scanner implements bounded-cost attack-signature matching over
// request URLs, non-sensitive headers, and non-structured bodies.
//
// # Components
//
//   - [Rule] — one compiled signature with an ID, tier, and strike severity.
//   - [Scanner] — ordered rule evaluation with hard per-field truncation.
//   - [Match] — a signature hit with the field that produced it.
//
// # Cost bound
//
// Every scanned field is truncated to MaxScanBytes before matching, so the
// worst case is O(rules × MaxScanBytes) regardless of input size. Go's RE2
// engine guarantees linear matching on top of that; there is no pathological
// backtracking to exploit.
//
// # What this package must NOT do
//
//   - Scan sensitive headers (credentials, cookies) — they are excluded so
//     secrets cannot leak into match logs.
//   - Record strikes or make admission decisions — the gate owns consequences.
//   - Import goShield or any sibling internal package.
package scanner
