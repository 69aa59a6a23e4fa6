package strikes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	xrate "golang.org/x/time/rate"

	"github.com/MrEthical07/goShield/internal/cache"
)

// ErrStoreUnavailable indicates the ledger backend is unreachable.
var ErrStoreUnavailable = errors.New("strike store unavailable")

// Config holds ledger thresholds and durations. All values come from the
// gate configuration, never compiled constants.
type Config struct {
	BlockThreshold     int
	LongBlockThreshold int
	BlockDuration      time.Duration
	LongBlockDuration  time.Duration
	DecayAfter         time.Duration
	CacheTTL           time.Duration
	Prefix             string
	AlertInterval      time.Duration
}

// Result reports the outcome of one strike write.
type Result struct {
	Count      int64
	BlockUntil time.Time // zero when no block is active
	Blocked    bool
}

// Ledger is the durable+cached abuse score per identity.
type Ledger struct {
	redis      redis.UniversalClient
	cfg        Config
	blockCache *cache.TTL[bool]
	logger     *zap.Logger

	// alertEvery throttles store-unavailable alerts to at most one per
	// AlertInterval per process. onFailOpen fires unthrottled so metrics
	// stay accurate. onCacheLookup reports every block-cache lookup.
	alertEvery    *xrate.Limiter
	onFailOpen    func(op string, err error)
	onCacheLookup func(hit bool)

	now func() time.Time // overridable in tests
}

// New builds a ledger. The cache is injected, not owned globally.
func New(rdb redis.UniversalClient, cfg Config, blockCache *cache.TTL[bool], logger *zap.Logger, onFailOpen func(op string, err error), onCacheLookup func(hit bool)) *Ledger {
	if cfg.Prefix == "" {
		cfg.Prefix = "str"
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
	if onCacheLookup == nil {
		onCacheLookup = func(bool) {}
	}

	return &Ledger{
		redis:         rdb,
		cfg:           cfg,
		blockCache:    blockCache,
		logger:        logger,
		alertEvery:    xrate.NewLimiter(xrate.Every(cfg.AlertInterval), 1),
		onFailOpen:    onFailOpen,
		onCacheLookup: onCacheLookup,
		now:           time.Now,
	}
}

func (l *Ledger) key(identity string) string {
	return l.cfg.Prefix + ":" + identity
}

// IsBlocked answers whether the identity has an active block. Cache hits
// within TTL are authoritative; misses read Redis and repopulate the cache
// either way. A store failure answers false — fail open — with an alert.
func (l *Ledger) IsBlocked(ctx context.Context, identity string) bool {
	if blocked, ok := l.blockCache.Get(identity); ok {
		l.onCacheLookup(true)
		return blocked
	}
	l.onCacheLookup(false)

	data, err := l.redis.Get(ctx, l.key(identity)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			l.blockCache.Set(identity, false, l.cfg.CacheTTL)
			return false
		}
		l.failOpen("is_blocked", err)
		return false
	}

	rec, err := decodeRecord(data)
	if err != nil {
		// A corrupt record cannot justify blocking traffic.
		l.failOpen("is_blocked", err)
		return false
	}

	blocked := rec.BlockUntil > l.now().Unix()
	l.blockCache.Set(identity, blocked, l.cfg.CacheTTL)
	return blocked
}

// AddStrike atomically loads-or-creates the record, applies decay, adds
// severity, and recomputes the block tier. It runs as a WATCH/MULTI
// compare-and-swap with retry; concurrent offenders never lose increments.
// A resulting block is written into the cache immediately so the very next
// request is rejected without waiting for cache expiry.
func (l *Ledger) AddStrike(ctx context.Context, identity string, severity int) (Result, error) {
	if severity <= 0 {
		severity = 1
	}

	const maxRetries = 4
	key := l.key(identity)

	for i := 0; i < maxRetries; i++ {
		var res Result

		err := l.redis.Watch(ctx, func(tx *redis.Tx) error {
			var rec record

			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				rec, err = decodeRecord(data)
				if err != nil {
					// Unreadable rows are rewritten from scratch rather
					// than wedging the write path forever.
					rec = record{}
				}
			case errors.Is(err, redis.Nil):
				rec = record{}
			default:
				return err
			}

			now := l.now()

			if rec.UpdatedAt > 0 && now.Unix()-rec.UpdatedAt > int64(l.cfg.DecayAfter/time.Second) {
				rec.Count = int64(severity)
			} else {
				rec.Count += int64(severity)
			}
			rec.UpdatedAt = now.Unix()

			switch {
			case rec.Count >= int64(l.cfg.LongBlockThreshold):
				rec.BlockUntil = now.Add(l.cfg.LongBlockDuration).Unix()
			case rec.Count >= int64(l.cfg.BlockThreshold):
				rec.BlockUntil = now.Add(l.cfg.BlockDuration).Unix()
			default:
				rec.BlockUntil = 0
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encodeRecord(rec), 0)
				return nil
			})
			if err != nil {
				return err
			}

			res = Result{
				Count:   rec.Count,
				Blocked: rec.BlockUntil > now.Unix(),
			}
			if rec.BlockUntil > 0 {
				res.BlockUntil = time.Unix(rec.BlockUntil, 0)
			}
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			l.failOpen("add_strike", err)
			return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		if res.Blocked {
			l.blockCache.Set(identity, true, l.cfg.CacheTTL)
		}
		return res, nil
	}

	err := fmt.Errorf("%w: transaction contention exhausted retries", ErrStoreUnavailable)
	l.failOpen("add_strike", err)
	return Result{}, err
}

// failOpen records a degraded store: the alert log line is throttled, the
// callback is not.
func (l *Ledger) failOpen(op string, err error) {
	l.onFailOpen(op, err)
	if l.alertEvery.Allow() {
		l.logger.Error("strike store unavailable, failing open",
			zap.String("op", op),
			zap.Error(err),
		)
	}
}
