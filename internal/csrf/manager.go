package csrf

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	xrate "golang.org/x/time/rate"
)

var (
	// ErrTokenMissing indicates the request carried no token or no cookie.
	ErrTokenMissing = errors.New("csrf token missing")
	// ErrTokenInvalid indicates a present token failed double-submit or
	// stored-value comparison, or expired.
	ErrTokenInvalid = errors.New("csrf token invalid")
	// ErrStoreUnavailable indicates the token backend is unreachable.
	ErrStoreUnavailable = errors.New("csrf store unavailable")
)

// Config tunes token lifetime and key namespacing.
type Config struct {
	TTL           time.Duration
	Prefix        string
	AlertInterval time.Duration
}

// Manager issues and verifies per-identity tokens.
type Manager struct {
	redis      redis.UniversalClient
	cfg        Config
	logger     *zap.Logger
	alertEvery *xrate.Limiter
	onFailOpen func(op string, err error)
}

// New builds a manager.
func New(rdb redis.UniversalClient, cfg Config, logger *zap.Logger, onFailOpen func(op string, err error)) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = "csrf"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
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

	return &Manager{
		redis:      rdb,
		cfg:        cfg,
		logger:     logger,
		alertEvery: xrate.NewLimiter(xrate.Every(cfg.AlertInterval), 1),
		onFailOpen: onFailOpen,
	}
}

func (m *Manager) key(identity string) string {
	return m.cfg.Prefix + ":" + identity
}

// Token returns the identity's current token, minting one lazily. Repeated
// calls before expiry return the same token; fresh reports whether this call
// created it.
func (m *Manager) Token(ctx context.Context, identity string) (token string, fresh bool, err error) {
	key := m.key(identity)
	candidate := uuid.NewString()

	set, err := m.redis.SetNX(ctx, key, candidate, m.cfg.TTL).Result()
	if err != nil {
		m.failOpen("token", err)
		return "", false, ErrStoreUnavailable
	}
	if set {
		return candidate, true, nil
	}

	existing, err := m.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET. Re-mint once; losing that
			// race to another writer is fine — its token is now stored
			// and healthy, so read it back rather than degrading.
			set, err = m.redis.SetNX(ctx, key, candidate, m.cfg.TTL).Result()
			if err == nil && set {
				return candidate, true, nil
			}
			if err == nil {
				existing, err = m.redis.Get(ctx, key).Result()
				if err == nil {
					return existing, false, nil
				}
			}
		}
		m.failOpen("token", err)
		return "", false, ErrStoreUnavailable
	}

	return existing, false, nil
}

// Verify checks the double-submit pair against the stored token. A byte-
// identical token presented after expiry fails: the stored value is gone.
// A store outage returns nil — fail open — with a throttled alert.
func (m *Manager) Verify(ctx context.Context, identity, echoed, cookie string) error {
	if echoed == "" || cookie == "" {
		return ErrTokenMissing
	}
	if subtle.ConstantTimeCompare([]byte(echoed), []byte(cookie)) != 1 {
		return ErrTokenInvalid
	}

	stored, err := m.redis.Get(ctx, m.key(identity)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrTokenInvalid
		}
		m.failOpen("verify", err)
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(echoed), []byte(stored)) != 1 {
		return ErrTokenInvalid
	}

	return nil
}

func (m *Manager) failOpen(op string, err error) {
	m.onFailOpen(op, err)
	if m.alertEvery.Allow() {
		m.logger.Error("csrf store unavailable, failing open",
			zap.String("op", op),
			zap.Error(err),
		)
	}
}
