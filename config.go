package goShield

import (
	"fmt"
	"net"
	"time"
)

// Config defines the full tuning surface of the gate. Instances are intended
// to be configured during initialization and then treated as immutable.
type Config struct {
	Identity  IdentityConfig
	Scanner   ScannerConfig
	Strikes   StrikeConfig
	RateLimit RateLimitConfig
	CSRF      CSRFConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
IDENTITY CONFIG
====================================
*/

// IdentityConfig controls trust-aware resolution of the caller identity.
type IdentityConfig struct {
	// TrustedProxyCIDRs lists network prefixes whose forwarding headers are
	// believed. Empty means loopback-only: no external proxy is trusted
	// without explicit configuration.
	TrustedProxyCIDRs []string

	// ForwardingHeader names the header carrying the client chain.
	// Defaults to X-Forwarded-For.
	ForwardingHeader string
}

/*
====================================
SCANNER CONFIG
====================================
*/

// SignatureTier separates reconnaissance probes (logged, never penalized)
// from malicious payloads (rejected plus one strike).
type SignatureTier int

const (
	// TierRecon marks signatures for known scanner probes. Matches are
	// logged only.
	TierRecon SignatureTier = iota
	// TierMalicious marks attack payload signatures. Matches reject the
	// request and record a strike.
	TierMalicious
)

// SignatureRule is one entry of the ordered signature library.
type SignatureRule struct {
	ID       string
	Tier     SignatureTier
	Severity int // strike weight on match; 0 means 1
	Pattern  string
}

// ScannerConfig controls the bounded-cost signature scanner.
type ScannerConfig struct {
	Enabled bool

	// MaxScanBytes truncates every scanned field before matching. This is
	// the worst-case cost bound; it must stay positive.
	MaxScanBytes int

	// SensitiveHeaders are never scanned, so credentials cannot leak into
	// match logs.
	SensitiveHeaders []string

	// ExemptContentTypes lists body content types excluded from body-text
	// scanning (structured payloads are parsed downstream, not pattern
	// matched here).
	ExemptContentTypes []string

	// Rules is the ordered signature library. Empty means DefaultSignatures.
	Rules []SignatureRule
}

/*
====================================
STRIKE CONFIG
====================================
*/

// StrikeConfig controls progressive punishment and its decay.
type StrikeConfig struct {
	// BlockThreshold is the strike count at which a short block starts.
	BlockThreshold int
	// LongBlockThreshold is the strike count at which the long block starts.
	LongBlockThreshold int
	// BlockDuration is the short block length.
	BlockDuration time.Duration
	// LongBlockDuration is the long block length.
	LongBlockDuration time.Duration
	// DecayAfter resets accumulated strikes to the incoming severity when
	// the previous update is older than this.
	DecayAfter time.Duration

	// CacheTTL bounds staleness of the local block cache.
	CacheTTL time.Duration
	// CacheMaxEntries triggers opportunistic eviction of expired entries.
	CacheMaxEntries int

	// RedisPrefix namespaces ledger keys. Defaults to "str".
	RedisPrefix string

	// AlertInterval throttles store-unavailable alerts to at most one per
	// interval per process.
	AlertInterval time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateTier is one independent fixed-window policy.
type RateTier struct {
	// Name keys the window counter and appears in audit events.
	Name string
	// PathPrefixes routes requests into this tier. The first tier whose
	// prefix matches wins; order matters.
	PathPrefixes []string
	// ExemptPaths are exact paths never counted (health checks).
	ExemptPaths []string
	// Window is the fixed window length.
	Window time.Duration
	// Limit is the request ceiling per window.
	Limit int
	// FailuresOnly counts only failed attempts: the gate checks the budget
	// at admission and the caller records failures afterward.
	FailuresOnly bool
	// KeyByIP forces IP keying even for authenticated callers. Required on
	// public surfaces where a claimed user identity is not trustworthy.
	KeyByIP bool
}

// RateLimitConfig controls the per-tier fixed-window limiter.
type RateLimitConfig struct {
	Enabled bool

	// Tiers is ordered; the first path-prefix match selects the tier and
	// the last tier acts as the default when nothing matches.
	Tiers []RateTier

	// RedisPrefix namespaces window keys. Defaults to "rw".
	RedisPrefix string
}

/*
====================================
CSRF CONFIG
====================================
*/

// CSRFConfig controls double-submit token verification for state-changing
// requests.
type CSRFConfig struct {
	Enabled bool

	// TokenTTL bounds token lifetime. Issuance is idempotent within the TTL.
	TokenTTL time.Duration

	// HeaderName, FormField, and QueryParam are the accepted token carriers,
	// checked in that order.
	HeaderName string
	FormField  string
	QueryParam string

	// CookieName is the script-readable double-submit cookie.
	CookieName string

	// AllowListPrefixes exempts public state-changing endpoints (webhooks,
	// login) from token verification.
	AllowListPrefixes []string

	// RedisPrefix namespaces token keys. Defaults to "csrf".
	RedisPrefix string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls async audit dispatching.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process atomic counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Identity: IdentityConfig{
			ForwardingHeader: "X-Forwarded-For",
		},
		Scanner: ScannerConfig{
			Enabled:      true,
			MaxScanBytes: 4096,
			SensitiveHeaders: []string{
				"Authorization",
				"Cookie",
				"Set-Cookie",
				"Proxy-Authorization",
				"X-Api-Key",
				"X-CSRF-Token",
			},
			ExemptContentTypes: []string{
				"application/json",
				"application/x-protobuf",
				"application/grpc",
			},
		},
		Strikes: StrikeConfig{
			BlockThreshold:     3,
			LongBlockThreshold: 10,
			BlockDuration:      time.Hour,
			LongBlockDuration:  30 * 24 * time.Hour,
			DecayAfter:         time.Hour,
			CacheTTL:           60 * time.Second,
			CacheMaxEntries:    10000,
			RedisPrefix:        "str",
			AlertInterval:      60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Tiers: []RateTier{
				{
					Name:         "auth",
					PathPrefixes: []string{"/api/auth/login", "/api/auth/token"},
					Window:       time.Minute,
					Limit:        5,
				},
				{
					Name:         "password-reset",
					PathPrefixes: []string{"/api/auth/password-reset"},
					Window:       time.Minute,
					Limit:        3,
					FailuresOnly: true,
				},
				{
					Name:         "upload",
					PathPrefixes: []string{"/api/uploads"},
					Window:       5 * time.Minute,
					Limit:        10,
				},
				{
					Name:         "public",
					PathPrefixes: []string{"/public"},
					Window:       time.Minute,
					Limit:        20,
					KeyByIP:      true,
				},
				{
					Name:        "api",
					Window:      time.Minute,
					Limit:       100,
					ExemptPaths: []string{"/health", "/healthz"},
				},
			},
			RedisPrefix: "rw",
		},
		CSRF: CSRFConfig{
			Enabled:    true,
			TokenTTL:   time.Hour,
			HeaderName: "X-CSRF-Token",
			FormField:  "csrf_token",
			QueryParam: "csrf_token",
			CookieName: "goshield_csrf",
			AllowListPrefixes: []string{
				"/api/auth/login",
				"/api/webhooks",
			},
			RedisPrefix: "csrf",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks structural config invariants. Signature patterns are
// compiled (and therefore validated) during Build.
func (c Config) Validate() error {
	if c.Scanner.Enabled && c.Scanner.MaxScanBytes <= 0 {
		return fmt.Errorf("%w: Scanner.MaxScanBytes must be positive", ErrInvalidConfig)
	}

	for _, cidr := range c.Identity.TrustedProxyCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("%w: bad trusted proxy CIDR %q: %v", ErrInvalidConfig, cidr, err)
		}
	}

	if c.Strikes.BlockThreshold <= 0 {
		return fmt.Errorf("%w: Strikes.BlockThreshold must be positive", ErrInvalidConfig)
	}
	if c.Strikes.LongBlockThreshold < c.Strikes.BlockThreshold {
		return fmt.Errorf("%w: Strikes.LongBlockThreshold below BlockThreshold", ErrInvalidConfig)
	}
	if c.Strikes.BlockDuration <= 0 || c.Strikes.LongBlockDuration < c.Strikes.BlockDuration {
		return fmt.Errorf("%w: strike block durations must escalate", ErrInvalidConfig)
	}
	if c.Strikes.DecayAfter <= 0 {
		return fmt.Errorf("%w: Strikes.DecayAfter must be positive", ErrInvalidConfig)
	}
	if c.Strikes.CacheTTL <= 0 {
		return fmt.Errorf("%w: Strikes.CacheTTL must be positive", ErrInvalidConfig)
	}

	if c.RateLimit.Enabled {
		if len(c.RateLimit.Tiers) == 0 {
			return fmt.Errorf("%w: RateLimit enabled with no tiers", ErrInvalidConfig)
		}
		seen := map[string]bool{}
		for _, tier := range c.RateLimit.Tiers {
			if tier.Name == "" {
				return fmt.Errorf("%w: rate tier with empty name", ErrInvalidConfig)
			}
			if seen[tier.Name] {
				return fmt.Errorf("%w: duplicate rate tier %q", ErrInvalidConfig, tier.Name)
			}
			seen[tier.Name] = true
			if tier.Window <= 0 || tier.Limit <= 0 {
				return fmt.Errorf("%w: rate tier %q needs positive window and limit", ErrInvalidConfig, tier.Name)
			}
		}
	}

	if c.CSRF.Enabled {
		if c.CSRF.TokenTTL <= 0 {
			return fmt.Errorf("%w: CSRF.TokenTTL must be positive", ErrInvalidConfig)
		}
		if c.CSRF.HeaderName == "" && c.CSRF.FormField == "" && c.CSRF.QueryParam == "" {
			return fmt.Errorf("%w: CSRF enabled with no token carrier", ErrInvalidConfig)
		}
		if c.CSRF.CookieName == "" {
			return fmt.Errorf("%w: CSRF.CookieName required for double-submit", ErrInvalidConfig)
		}
	}

	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Identity.TrustedProxyCIDRs = cloneStrings(cfg.Identity.TrustedProxyCIDRs)
	out.Scanner.SensitiveHeaders = cloneStrings(cfg.Scanner.SensitiveHeaders)
	out.Scanner.ExemptContentTypes = cloneStrings(cfg.Scanner.ExemptContentTypes)
	out.Scanner.Rules = append([]SignatureRule(nil), cfg.Scanner.Rules...)
	out.RateLimit.Tiers = make([]RateTier, len(cfg.RateLimit.Tiers))
	for i, tier := range cfg.RateLimit.Tiers {
		tier.PathPrefixes = cloneStrings(tier.PathPrefixes)
		tier.ExemptPaths = cloneStrings(tier.ExemptPaths)
		out.RateLimit.Tiers[i] = tier
	}
	out.CSRF.AllowListPrefixes = cloneStrings(cfg.CSRF.AllowListPrefixes)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
