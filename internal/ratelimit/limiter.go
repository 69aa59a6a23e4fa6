package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	xrate "golang.org/x/time/rate"
)

// ErrStoreUnavailable indicates the counter backend is unreachable.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Tier is one fixed-window policy.
type Tier struct {
	Name         string
	PathPrefixes []string
	ExemptPaths  []string
	Window       time.Duration
	Limit        int
	FailuresOnly bool
	KeyByIP      bool
}

// Config holds the ordered tier set. The first path-prefix match selects a
// tier; a tier with no prefixes is the default.
type Config struct {
	Prefix string
	Tiers  []Tier

	AlertInterval time.Duration
}

// Outcome is one admission check result.
type Outcome struct {
	Allowed    bool
	Tier       string
	RetryAfter time.Duration
}

// Limiter enforces the configured tiers against Redis counters.
type Limiter struct {
	redis      redis.UniversalClient
	cfg        Config
	logger     *zap.Logger
	alertEvery *xrate.Limiter
	onFailOpen func(op string, err error)
}

// New builds the limiter.
func New(rdb redis.UniversalClient, cfg Config, logger *zap.Logger, onFailOpen func(op string, err error)) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "rw"
	}
	if cfg.AlertInterval <= 0 {
		cfg.AlertInterval = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if onFailOpen == nil {
		onFailOpen = func(string, error) {}
	}

	return &Limiter{
		redis:      rdb,
		cfg:        cfg,
		logger:     logger,
		alertEvery: xrate.NewLimiter(xrate.Every(cfg.AlertInterval), 1),
		onFailOpen: onFailOpen,
	}
}

// Check applies the tier matching path to the identity. identity is the
// resolved accounting key; ip is the anonymous fallback used by KeyByIP
// tiers.
func (l *Limiter) Check(ctx context.Context, path, identity, ip string) Outcome {
	tier := l.tierFor(path)
	if tier == nil {
		return Outcome{Allowed: true}
	}
	for _, exempt := range tier.ExemptPaths {
		if path == exempt {
			return Outcome{Allowed: true, Tier: tier.Name}
		}
	}

	key := l.key(tier, identity, ip)

	if tier.FailuresOnly {
		// Budget check only; failures are counted after the fact via
		// RecordFailure, so distinct successful calls stay free.
		count, err := l.redis.Get(ctx, key).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return Outcome{Allowed: true, Tier: tier.Name}
			}
			l.failOpen("check", err)
			return Outcome{Allowed: true, Tier: tier.Name}
		}
		if count >= int64(tier.Limit) {
			return l.rejected(ctx, tier, key)
		}
		return Outcome{Allowed: true, Tier: tier.Name}
	}

	count, err := l.incrementWithTTL(ctx, key, tier.Window)
	if err != nil {
		l.failOpen("check", err)
		return Outcome{Allowed: true, Tier: tier.Name}
	}
	if count > int64(tier.Limit) {
		return l.rejected(ctx, tier, key)
	}

	return Outcome{Allowed: true, Tier: tier.Name}
}

// RecordFailure counts one failed attempt for failures-only tiers. It is a
// no-op for every other tier.
func (l *Limiter) RecordFailure(ctx context.Context, path, identity, ip string) {
	tier := l.tierFor(path)
	if tier == nil || !tier.FailuresOnly {
		return
	}

	if _, err := l.incrementWithTTL(ctx, l.key(tier, identity, ip), tier.Window); err != nil {
		l.failOpen("record_failure", err)
	}
}

func (l *Limiter) key(tier *Tier, identity, ip string) string {
	subject := identity
	if tier.KeyByIP && ip != "" {
		subject = "ip:" + ip
	}
	return l.cfg.Prefix + ":" + tier.Name + ":" + subject
}

func (l *Limiter) tierFor(path string) *Tier {
	var fallback *Tier
	for i := range l.cfg.Tiers {
		tier := &l.cfg.Tiers[i]
		if len(tier.PathPrefixes) == 0 {
			if fallback == nil {
				fallback = tier
			}
			continue
		}
		for _, prefix := range tier.PathPrefixes {
			if strings.HasPrefix(path, prefix) {
				return tier
			}
		}
	}
	return fallback
}

// rejected derives the retry-after hint from the window's remaining TTL.
func (l *Limiter) rejected(ctx context.Context, tier *Tier, key string) Outcome {
	retryAfter := tier.Window
	if ttl, err := l.redis.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		retryAfter = ttl
	}
	return Outcome{Allowed: false, Tier: tier.Name, RetryAfter: retryAfter}
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}

	return count, nil
}

func (l *Limiter) failOpen(op string, err error) {
	l.onFailOpen(op, err)
	if l.alertEvery.Allow() {
		l.logger.Error("rate limit store unavailable, failing open",
			zap.String("op", op),
			zap.Error(err),
		)
	}
}
