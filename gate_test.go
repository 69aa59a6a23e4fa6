package goShield

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newTestGate(t *testing.T, cfg Config) (*Gate, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)

	gate, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return gate, mr, func() {
		gate.Close()
		mr.Close()
	}
}

func gateTestConfig() Config {
	cfg := defaultConfig()
	cfg.CSRF.Enabled = false
	return cfg
}

func plainRequest(path, addr string) RequestInfo {
	return RequestInfo{
		Method:     http.MethodGet,
		Path:       path,
		Header:     http.Header{},
		RemoteAddr: addr,
	}
}

func TestInspect_AdmitsPlainRequest(t *testing.T) {
	gate, _, done := newTestGate(t, gateTestConfig())
	defer done()

	d := gate.Inspect(context.Background(), plainRequest("/api/items", "198.51.100.7:4000"))
	if !d.Allow {
		t.Fatalf("expected admit, got %+v", d)
	}
	if d.Reason != ReasonAllowed {
		t.Fatalf("expected ReasonAllowed, got %v", d.Reason)
	}
	if d.Identity != IPIdentity("198.51.100.7") {
		t.Fatalf("unexpected identity %q", d.Identity)
	}
	if d.RequestID == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestInspect_EchoesClientRequestID(t *testing.T) {
	gate, _, done := newTestGate(t, gateTestConfig())
	defer done()

	info := plainRequest("/api/items", "198.51.100.7:4000")
	info.RequestID = "trace-123"

	d := gate.Inspect(context.Background(), info)
	if d.RequestID != "trace-123" {
		t.Fatalf("expected client request id to be kept, got %q", d.RequestID)
	}
}

// Three malicious requests strike to the block threshold; the fourth is
// rejected by the block check before pattern scanning runs.
func TestInspect_MaliciousStrikesEscalateToBlock(t *testing.T) {
	gate, _, done := newTestGate(t, gateTestConfig())
	defer done()

	ctx := context.Background()
	attack := RequestInfo{
		Method:     http.MethodGet,
		Path:       "/api/items",
		RawQuery:   "q=union+select+password",
		Header:     http.Header{},
		RemoteAddr: "198.51.100.7:4000",
	}

	for i := 1; i <= 3; i++ {
		d := gate.Inspect(ctx, attack)
		if d.Allow {
			t.Fatalf("request %d: expected reject", i)
		}
		if d.Status != http.StatusBadRequest || d.Reason != ReasonMalicious {
			t.Fatalf("request %d: expected 400 malicious, got %d %v", i, d.Status, d.Reason)
		}
	}

	scansBefore := gate.MetricsSnapshot().Counters[MetricScannerMaliciousHits]

	d := gate.Inspect(ctx, attack)
	if d.Status != http.StatusForbidden || d.Reason != ReasonBlocked {
		t.Fatalf("blocked request: expected 403 blocked, got %d %v", d.Status, d.Reason)
	}

	scansAfter := gate.MetricsSnapshot().Counters[MetricScannerMaliciousHits]
	if scansAfter != scansBefore {
		t.Fatalf("blocked request must not be scanned: %d -> %d", scansBefore, scansAfter)
	}
	if gate.MetricsSnapshot().Counters[MetricBlocksSet] != 1 {
		t.Fatalf("expected exactly one block set, got %d", gate.MetricsSnapshot().Counters[MetricBlocksSet])
	}
}

func TestInspect_ReconProbeIsLoggedNotPenalized(t *testing.T) {
	gate, _, done := newTestGate(t, gateTestConfig())
	defer done()

	probe := plainRequest("/wp-login.php", "203.0.113.9:1000")

	d := gate.Inspect(context.Background(), probe)
	if !d.Allow {
		t.Fatalf("recon probe must not reject, got %+v", d)
	}
	if got := gate.MetricsSnapshot().Counters[MetricScannerReconHits]; got != 1 {
		t.Fatalf("expected one recon hit, got %d", got)
	}
	if got := gate.MetricsSnapshot().Counters[MetricStrikesRecorded]; got != 0 {
		t.Fatalf("recon must not strike, got %d strikes", got)
	}
}

// Auth tier at 5/min: the 6th request in one window is rejected with a
// retry-after hint; the first request of the next window is admitted.
func TestInspect_AuthTierWindow(t *testing.T) {
	gate, mr, done := newTestGate(t, gateTestConfig())
	defer done()

	ctx := context.Background()
	login := plainRequest("/api/auth/login", "198.51.100.7:4000")

	for i := 1; i <= 5; i++ {
		if d := gate.Inspect(ctx, login); !d.Allow {
			t.Fatalf("request %d: expected admit, got %+v", i, d)
		}
	}

	d := gate.Inspect(ctx, login)
	if d.Allow || d.Status != http.StatusTooManyRequests {
		t.Fatalf("6th request: expected 429, got %+v", d)
	}
	if d.Reason != ReasonRateLimited || d.Tier != "auth" {
		t.Fatalf("expected auth tier rate limit, got %v/%q", d.Reason, d.Tier)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("expected retry-after within the window, got %v", d.RetryAfter)
	}

	mr.FastForward(time.Minute + time.Second)

	if d := gate.Inspect(ctx, login); !d.Allow {
		t.Fatalf("first request of next window: expected admit, got %+v", d)
	}
}

func TestInspect_HealthPathExemptFromAPITier(t *testing.T) {
	cfg := gateTestConfig()
	for i := range cfg.RateLimit.Tiers {
		if cfg.RateLimit.Tiers[i].Name == "api" {
			cfg.RateLimit.Tiers[i].Limit = 2
		}
	}

	gate, _, done := newTestGate(t, cfg)
	defer done()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if d := gate.Inspect(ctx, plainRequest("/health", "198.51.100.7:1")); !d.Allow {
			t.Fatalf("health check %d rejected: %+v", i, d)
		}
	}
}

// Public tier keys by IP even when a principal is present: a claimed user
// identity on an anonymous surface is not trustworthy.
func TestInspect_PublicTierKeysByIP(t *testing.T) {
	gate, _, done := newTestGate(t, gateTestConfig())
	defer done()

	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		info := plainRequest("/public/feed", "203.0.113.50:900")
		info.Principal = "user-" + string(rune('a'+i%5)) // rotating users, same IP
		if d := gate.Inspect(ctx, info); !d.Allow {
			t.Fatalf("request %d: expected admit, got %+v", i, d)
		}
	}

	info := plainRequest("/public/feed", "203.0.113.50:900")
	info.Principal = "user-z"
	if d := gate.Inspect(ctx, info); d.Allow {
		t.Fatal("21st request from same IP should be rejected regardless of principal")
	}
}

// Peer outside every trusted range: the forwarding header is ignored.
func TestInspect_UntrustedProxyHeaderIgnored(t *testing.T) {
	gate, _, done := newTestGate(t, gateTestConfig())
	defer done()

	info := plainRequest("/api/items", "203.0.113.5:9999")
	info.ForwardedFor = "10.0.0.9"

	d := gate.Inspect(context.Background(), info)
	if d.Identity != IPIdentity("203.0.113.5") {
		t.Fatalf("expected ip:203.0.113.5, got %q", d.Identity)
	}
}

// Store outage on the read path degrades open and counts the degradation.
func TestInspect_FailsOpenWhenStoreDown(t *testing.T) {
	gate, mr, done := newTestGate(t, gateTestConfig())
	defer done()

	mr.Close()

	d := gate.Inspect(context.Background(), plainRequest("/api/items", "198.51.100.7:4000"))
	if !d.Allow {
		t.Fatalf("store outage must fail open, got %+v", d)
	}
	if got := gate.MetricsSnapshot().Counters[MetricStoreFailOpen]; got == 0 {
		t.Fatal("expected fail-open degradations to be counted")
	}
}

// A second gate sharing the store mutates the ledger; the first gate's
// cached answer stays authoritative for its TTL.
func TestInspect_CacheStalenessWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := gateTestConfig()

	gateA, err := New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("Build gateA: %v", err)
	}
	defer gateA.Close()

	gateB, err := New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("Build gateB: %v", err)
	}
	defer gateB.Close()

	ctx := context.Background()
	attack := RequestInfo{
		Method:     http.MethodGet,
		Path:       "/api/items",
		RawQuery:   "q=../../etc/passwd",
		Header:     http.Header{},
		RemoteAddr: "198.51.100.77:4000",
	}

	// gateA caches "not blocked" for the identity.
	if d := gateA.Inspect(ctx, plainRequest("/api/items", "198.51.100.77:4000")); !d.Allow {
		t.Fatalf("expected admit before any strikes, got %+v", d)
	}

	// gateB drives the identity into a block through the shared store.
	for i := 0; i < 3; i++ {
		gateB.Inspect(ctx, attack)
	}
	if d := gateB.Inspect(ctx, plainRequest("/api/items", "198.51.100.77:4000")); d.Allow {
		t.Fatal("gateB should see its own freshly written block")
	}

	// gateA's stale cache still admits within the TTL.
	if d := gateA.Inspect(ctx, plainRequest("/api/items", "198.51.100.77:4000")); !d.Allow {
		t.Fatalf("gateA should serve the stale cached answer, got %+v", d)
	}
}

func TestInspect_NilGateRejects(t *testing.T) {
	var gate *Gate
	d := gate.Inspect(context.Background(), plainRequest("/", "127.0.0.1:1"))
	if d.Allow {
		t.Fatal("nil gate must not admit")
	}
}

func TestBuilder_SingleUse(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	b := New().WithRedis(rdb)
	if _, err := b.Build(); err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error on second Build")
	}
}

func TestBuilder_RequiresRedis(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected error when redis client missing")
	}
}

func TestReasonErrMapping(t *testing.T) {
	cases := []struct {
		reason Reason
		want   error
	}{
		{ReasonAllowed, nil},
		{ReasonBlocked, ErrBlocked},
		{ReasonMalicious, ErrMaliciousRequest},
		{ReasonRateLimited, ErrRateLimited},
		{ReasonCSRF, ErrCSRFInvalid},
	}
	for _, tc := range cases {
		if got := tc.reason.Err(); !errors.Is(got, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.reason, got, tc.want)
		}
	}
}

func TestInspect_ReconPathCarryingPayloadIsRejected(t *testing.T) {
	gate, _, done := newTestGate(t, gateTestConfig())
	defer done()

	d := gate.Inspect(context.Background(), plainRequest("/wp-admin/../../etc/passwd", "198.51.100.30:4000"))
	if d.Allow || d.Status != http.StatusBadRequest || d.Reason != ReasonMalicious {
		t.Fatalf("expected 400 malicious, got %+v", d)
	}
	if d.RuleID != "path-traversal" {
		t.Fatalf("rule = %q, want path-traversal", d.RuleID)
	}

	snap := gate.MetricsSnapshot()
	if snap.Counters[MetricScannerReconHits] != 1 {
		t.Fatalf("recon hits = %d, want 1", snap.Counters[MetricScannerReconHits])
	}
	if snap.Counters[MetricScannerMaliciousHits] != 1 {
		t.Fatalf("malicious hits = %d, want 1", snap.Counters[MetricScannerMaliciousHits])
	}
	if snap.Counters[MetricStrikesRecorded] != 1 {
		t.Fatalf("strikes = %d, want 1", snap.Counters[MetricStrikesRecorded])
	}
}

func TestInspect_BlockCacheCountersAdvance(t *testing.T) {
	gate, _, done := newTestGate(t, gateTestConfig())
	defer done()
	ctx := context.Background()

	gate.Inspect(ctx, plainRequest("/api/items", "198.51.100.31:4000"))
	gate.Inspect(ctx, plainRequest("/api/items", "198.51.100.31:4000"))

	snap := gate.MetricsSnapshot()
	if snap.Counters[MetricCacheMisses] != 1 {
		t.Fatalf("cache misses = %d, want 1", snap.Counters[MetricCacheMisses])
	}
	if snap.Counters[MetricCacheHits] != 1 {
		t.Fatalf("cache hits = %d, want 1", snap.Counters[MetricCacheHits])
	}
}
