package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestMemoryStoreSlidingWindow(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	store.WithClock(func() time.Time { return now })
	ctx := context.Background()

	if count, _, _ := store.IncrementWindow(ctx, "k", 2*time.Second); count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
	now = now.Add(500 * time.Millisecond)
	count, ttl, err := store.IncrementWindow(ctx, "k", 2*time.Second)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if count != 2 || ttl != 1500*time.Millisecond {
		t.Fatalf("expected 2 hits and 1.5s ttl, got %d %v", count, ttl)
	}
	now = now.Add(3 * time.Second)
	if count, _, _ := store.IncrementWindow(ctx, "k", 2*time.Second); count != 1 {
		t.Fatalf("expected old hits pruned, got %d", count)
	}

	now = now.Add(5 * time.Second)
	store.Sweep(2 * time.Second)
	if store.Len() != 0 {
		t.Fatalf("expected idle windows swept")
	}

	if _, _, err := store.IncrementWindow(ctx, "", time.Second); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestLimiterMemory(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	store.WithClock(func() time.Time { return now })
	limiter := NewLimiter(store, 2, 10*time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, err := limiter.Allow(ctx, "g1", "m1"); err != nil || !ok {
			t.Fatalf("command %d should pass: %v %v", i, ok, err)
		}
	}
	ok, retry, err := limiter.Allow(ctx, "g1", "m1")
	if err != nil || ok {
		t.Fatalf("third command should be limited: %v %v", ok, err)
	}
	if retry != 10*time.Second {
		t.Fatalf("expected 10s retry, got %v", retry)
	}
	if ok, _, _ := limiter.Allow(ctx, "g1", "m2"); !ok {
		t.Fatalf("other moderators are not limited")
	}
	if ok, _, _ := limiter.Allow(ctx, "g2", "m1"); !ok {
		t.Fatalf("other guilds are not limited")
	}

	now = now.Add(11 * time.Second)
	if ok, _, _ := limiter.Allow(ctx, "g1", "m1"); !ok {
		t.Fatalf("window should have slid")
	}
}

func TestLimiterDisabled(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), 0, time.Minute)
	for i := 0; i < 10; i++ {
		if ok, _, _ := limiter.Allow(context.Background(), "g1", "m1"); !ok {
			t.Fatalf("disabled limiter must allow")
		}
	}
	var nilLimiter *Limiter
	if ok, _, _ := nilLimiter.Allow(context.Background(), "g1", "m1"); !ok {
		t.Fatalf("nil limiter must allow")
	}
}

func TestLimiterRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	store := NewRedisStore(client)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	limiter := NewLimiter(store, 1, time.Minute)
	ctx := context.Background()

	if ok, _, err := limiter.Allow(ctx, "g1", "m1"); err != nil || !ok {
		t.Fatalf("first command should pass: %v %v", ok, err)
	}
	ok, retry, err := limiter.Allow(ctx, "g1", "m1")
	if err != nil || ok {
		t.Fatalf("second command should be limited: %v %v", ok, err)
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("unexpected retry %v", retry)
	}

	mr.FastForward(61 * time.Second)
	if ok, _, err := limiter.Allow(ctx, "g1", "m1"); err != nil || !ok {
		t.Fatalf("window should have reset: %v %v", ok, err)
	}
}

func TestRedisStoreRestoresMissingTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	store := NewRedisStore(client)
	ctx := context.Background()

	// A window whose expiry was never applied.
	if err := mr.Set("shibe:cmd:g1:m1", "3"); err != nil {
		t.Fatalf("seed key: %v", err)
	}
	count, ttl, err := store.IncrementWindow(ctx, "shibe:cmd:g1:m1", time.Minute)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if count != 4 || ttl != time.Minute {
		t.Fatalf("expected count 4 with a fresh ttl, got %d %v", count, ttl)
	}
	if got := mr.TTL("shibe:cmd:g1:m1"); got <= 0 {
		t.Fatalf("expected the key to expire again, ttl %v", got)
	}

	mr.FastForward(61 * time.Second)
	count, _, err = store.IncrementWindow(ctx, "shibe:cmd:g1:m1", time.Minute)
	if err != nil || count != 1 {
		t.Fatalf("expected a new window after expiry, got %d %v", count, err)
	}
}
