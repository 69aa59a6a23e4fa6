package goShield

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/goShield/internal/cache"
	"github.com/MrEthical07/goShield/internal/csrf"
	"github.com/MrEthical07/goShield/internal/ratelimit"
	"github.com/MrEthical07/goShield/internal/scanner"
	"github.com/MrEthical07/goShield/internal/strikes"
)

// Builder assembles a [Gate]. Construction is allocation-only; no I/O
// happens until the gate handles requests.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

// New starts a builder with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the enforcement store client. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger supplies the structured logger used for recon observations and
// fail-open alerts. Defaults to a nop logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink supplies the audit event consumer and enables dispatching.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, compiles the signature library, and
// wires every component. A builder is single-use.
func (b *Builder) Build() (*Gate, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	trusted, err := parseTrustedRanges(cfg.Identity.TrustedProxyCIDRs)
	if err != nil {
		return nil, err
	}

	gate := &Gate{
		config:  cfg,
		trusted: trusted,
		logger:  logger,
	}

	gate.metrics = NewMetrics(cfg.Metrics)
	gate.audit = newAuditDispatcher(cfg.Audit, b.auditSink)

	// Every storage-touching component reports degraded operation through
	// the same path: one counter, one audit event, throttled logging inside
	// the component itself.
	onFailOpen := func(op string, err error) {
		gate.metrics.Inc(MetricStoreFailOpen)
		gate.emit(context.Background(), AuditEvent{
			EventType: auditEventStoreDegraded,
			Error:     err.Error(),
			Metadata:  map[string]string{"op": op},
		})
	}

	if cfg.Scanner.Enabled {
		specs := signatureSpecs(cfg.Scanner.Rules)
		sc, err := scanner.New(scanner.Config{
			MaxScanBytes:       cfg.Scanner.MaxScanBytes,
			SensitiveHeaders:   cfg.Scanner.SensitiveHeaders,
			ExemptContentTypes: cfg.Scanner.ExemptContentTypes,
		}, specs, logger)
		if err != nil {
			return nil, err
		}
		gate.scanner = sc
	}

	onCacheLookup := func(hit bool) {
		if hit {
			gate.metrics.Inc(MetricCacheHits)
		} else {
			gate.metrics.Inc(MetricCacheMisses)
		}
	}

	blockCache := cache.New[bool](cfg.Strikes.CacheMaxEntries)
	gate.ledger = strikes.New(b.redis, strikes.Config{
		BlockThreshold:     cfg.Strikes.BlockThreshold,
		LongBlockThreshold: cfg.Strikes.LongBlockThreshold,
		BlockDuration:      cfg.Strikes.BlockDuration,
		LongBlockDuration:  cfg.Strikes.LongBlockDuration,
		DecayAfter:         cfg.Strikes.DecayAfter,
		CacheTTL:           cfg.Strikes.CacheTTL,
		Prefix:             cfg.Strikes.RedisPrefix,
		AlertInterval:      cfg.Strikes.AlertInterval,
	}, blockCache, logger, onFailOpen, onCacheLookup)

	if cfg.RateLimit.Enabled {
		tiers := make([]ratelimit.Tier, len(cfg.RateLimit.Tiers))
		for i, tier := range cfg.RateLimit.Tiers {
			tiers[i] = ratelimit.Tier{
				Name:         tier.Name,
				PathPrefixes: tier.PathPrefixes,
				ExemptPaths:  tier.ExemptPaths,
				Window:       tier.Window,
				Limit:        tier.Limit,
				FailuresOnly: tier.FailuresOnly,
				KeyByIP:      tier.KeyByIP,
			}
		}
		gate.limiter = ratelimit.New(b.redis, ratelimit.Config{
			Prefix:        cfg.RateLimit.RedisPrefix,
			Tiers:         tiers,
			AlertInterval: cfg.Strikes.AlertInterval,
		}, logger, onFailOpen)
	}

	if cfg.CSRF.Enabled {
		gate.csrf = csrf.New(b.redis, csrf.Config{
			TTL:           cfg.CSRF.TokenTTL,
			Prefix:        cfg.CSRF.RedisPrefix,
			AlertInterval: cfg.Strikes.AlertInterval,
		}, logger, onFailOpen)
	}

	b.built = true

	return gate, nil
}

// DefaultSignatures returns the stock signature library in config form, for
// callers that want to extend rather than replace it.
func DefaultSignatures() []SignatureRule {
	specs := scanner.DefaultSpecs()
	rules := make([]SignatureRule, len(specs))
	for i, spec := range specs {
		rules[i] = SignatureRule{
			ID:       spec.ID,
			Tier:     SignatureTier(spec.Tier),
			Severity: spec.Severity,
			Pattern:  spec.Pattern,
		}
	}
	return rules
}

func signatureSpecs(rules []SignatureRule) []scanner.Spec {
	if len(rules) == 0 {
		return scanner.DefaultSpecs()
	}
	specs := make([]scanner.Spec, len(rules))
	for i, rule := range rules {
		specs[i] = scanner.Spec{
			ID:       rule.ID,
			Tier:     scanner.Tier(rule.Tier),
			Severity: rule.Severity,
			Pattern:  rule.Pattern,
		}
	}
	return specs
}
