// Package strikes implements the durable abuse ledger: per-identity strike
// accounting with decay, tiered blocking, a local read cache, and an
// explicit fail-open posture when Redis is unreachable.
//
// # Design
//
// One versioned, binary-encoded record per identity, persisted without TTL
// (records are upserted forever, never deleted). Writes run inside
// WATCH/MULTI optimistic transactions with retry on contention — a plain
// read-modify-write would lose concurrent increments from the same
// offender. Reads prefer the injected TTL cache and fall back to Redis;
// a store failure answers "not blocked" and raises a rate-limited critical
// alert, because an unavailable enforcement store must never become a
// denial-of-service vector itself.
//
// # What this package must NOT do
//
//   - Return a store error from the read path — availability wins, loudly.
//   - Decide what earns a strike; the gate owns that policy.
//   - Import goShield or any sibling internal package except internal/cache.
package strikes
