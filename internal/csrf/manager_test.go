package csrf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, New(client, Config{TTL: time.Hour}, zap.NewNop(), nil)
}

func TestTokenIssuanceIsIdempotent(t *testing.T) {
	_, m := newTestManager(t)
	ctx := context.Background()

	first, fresh, err := m.Token(ctx, "user:1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if !fresh {
		t.Fatal("first issuance should be fresh")
	}
	if first == "" {
		t.Fatal("empty token")
	}

	second, fresh, err := m.Token(ctx, "user:1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if fresh {
		t.Fatal("second issuance should reuse the stored token")
	}
	if second != first {
		t.Fatalf("token changed across calls: %q != %q", second, first)
	}
}

func TestTokensArePerIdentity(t *testing.T) {
	_, m := newTestManager(t)
	ctx := context.Background()

	a, _, _ := m.Token(ctx, "user:1")
	b, _, _ := m.Token(ctx, "user:2")
	if a == b {
		t.Fatal("identities must not share tokens")
	}
}

func TestVerifyAcceptsDoubleSubmitPair(t *testing.T) {
	_, m := newTestManager(t)
	ctx := context.Background()

	token, _, err := m.Token(ctx, "user:1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	if err := m.Verify(ctx, "user:1", token, token); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyMissingToken(t *testing.T) {
	_, m := newTestManager(t)
	ctx := context.Background()

	token, _, _ := m.Token(ctx, "user:1")

	if err := m.Verify(ctx, "user:1", "", token); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("missing echo: err = %v", err)
	}
	if err := m.Verify(ctx, "user:1", token, ""); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("missing cookie: err = %v", err)
	}
}

func TestVerifyRejectsMismatchedPair(t *testing.T) {
	_, m := newTestManager(t)
	ctx := context.Background()

	token, _, _ := m.Token(ctx, "user:1")

	if err := m.Verify(ctx, "user:1", token, "different"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsForgedPair(t *testing.T) {
	_, m := newTestManager(t)
	ctx := context.Background()

	if _, _, err := m.Token(ctx, "user:1"); err != nil {
		t.Fatalf("Token: %v", err)
	}

	// Matching pair, but not the stored value: an attacker minting both
	// sides still fails.
	if err := m.Verify(ctx, "user:1", "forged", "forged"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	mr, m := newTestManager(t)
	ctx := context.Background()

	token, _, _ := m.Token(ctx, "user:1")

	mr.FastForward(time.Hour + time.Minute)

	if err := m.Verify(ctx, "user:1", token, token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}

	// Expiry is not a lockout: a new token can be minted immediately.
	next, fresh, err := m.Token(ctx, "user:1")
	if err != nil {
		t.Fatalf("Token after expiry: %v", err)
	}
	if !fresh || next == token {
		t.Fatal("expected a fresh token after expiry")
	}
}

func TestVerifyFailsOpenOnStoreOutage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var degraded int
	m := New(client, Config{TTL: time.Hour}, zap.NewNop(), func(op string, err error) { degraded++ })

	token, _, errToken := m.Token(context.Background(), "user:1")
	if errToken != nil {
		t.Fatalf("Token: %v", errToken)
	}

	mr.Close()

	if err := m.Verify(context.Background(), "user:1", token, token); err != nil {
		t.Fatalf("outage must fail open, got %v", err)
	}
	if degraded != 1 {
		t.Fatalf("onFailOpen fired %d times, want 1", degraded)
	}
}

// expiryRaceHook replays the narrow expiry race deterministically: the key
// vanishes before the first GET, and another writer lands a token before the
// re-mint SETNX.
type expiryRaceHook struct {
	mr   *miniredis.Miniredis
	key  string
	gets int
	sets int
}

func (h *expiryRaceHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *expiryRaceHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		switch cmd.Name() {
		case "get":
			h.gets++
			if h.gets == 1 {
				h.mr.Del(h.key)
			}
		case "set":
			h.sets++
			if h.sets == 2 {
				if err := h.mr.Set(h.key, "winner-token"); err != nil {
					return err
				}
			}
		}
		return next(ctx, cmd)
	}
}

func (h *expiryRaceHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestTokenLosingExpiryRaceReadsWinnersToken(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}

	const key = "csrf:user:1"
	if err := mr.Set(key, "stale-token"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	client.AddHook(&expiryRaceHook{mr: mr, key: key})

	m := New(client, Config{TTL: time.Hour}, zap.NewNop(), func(op string, err error) {
		t.Errorf("fail-open fired for a healthy store: op=%s err=%v", op, err)
	})

	token, fresh, err := m.Token(context.Background(), "user:1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if fresh {
		t.Fatal("losing the re-mint race must not report fresh")
	}
	if token != "winner-token" {
		t.Fatalf("token = %q, want the winning writer's token", token)
	}
}

func TestTokenReturnsStoreErrorOnOutage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	m := New(client, Config{TTL: time.Hour}, zap.NewNop(), nil)
	if _, _, err := m.Token(context.Background(), "user:1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}
