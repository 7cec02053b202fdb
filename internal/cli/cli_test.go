package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"shibe/internal/config"
	"shibe/internal/moderation"
	"shibe/internal/platform/platformtest"
	"shibe/internal/storage/memory"

	"go.uber.org/zap"
)

func TestOpsRouterHealth(t *testing.T) {
	ready := false
	router := newOpsRouter(func() bool { return ready })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}

	ready = true
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestOpsRouterMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	newOpsRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected default collectors in output")
	}
}

func TestOpenStoreDrivers(t *testing.T) {
	ctx := context.Background()
	store, err := openStore(ctx, config.DatabaseConfig{Driver: "memory"}, zap.NewNop())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if err := store.migrate(ctx); err != nil {
		t.Fatalf("migrate memory: %v", err)
	}
	store.Close()

	if _, err := openStore(ctx, config.DatabaseConfig{Driver: "mongo"}, zap.NewNop()); !errors.Is(err, moderation.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestCoreIssuesAndReconciles(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	client := platformtest.New()
	client.AddGuild("g1", "Shibe")

	app, err := newCore(cfg, memory.New(), client, zap.NewNop())
	if err != nil {
		t.Fatalf("new core: %v", err)
	}

	result, err := app.service.IssueSanction(ctx, moderation.Issue{
		GuildID:     "g1",
		GuildName:   "Shibe",
		UserID:      "u1",
		ModeratorID: "m1",
		Action:      moderation.ActionKick,
		Reason:      "spam",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !result.Recorded {
		t.Fatalf("expected event to be recorded")
	}
	if len(client.Calls("kick")) != 1 {
		t.Fatalf("expected one kick call")
	}

	summary, err := app.reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Due != 0 {
		t.Fatalf("kick should never be due, got %+v", summary)
	}
}

func TestNewLimiterDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimit.Commands = 0
	limiter, closeFn := newLimiter(context.Background(), cfg, zap.NewNop())
	defer closeFn()
	if limiter != nil {
		t.Fatalf("expected nil limiter when disabled")
	}
}

func TestNewLimiterMemoryFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.DefaultConfig()
	cfg.RateLimit.Commands = 1

	limiter, closeFn := newLimiter(ctx, cfg, zap.NewNop())
	defer closeFn()
	if ok, _, err := limiter.Allow(ctx, "g1", "m1"); err != nil || !ok {
		t.Fatalf("first command should pass: ok=%v err=%v", ok, err)
	}
	if ok, retry, _ := limiter.Allow(ctx, "g1", "m1"); ok || retry <= 0 {
		t.Fatalf("second command should be held back, ok=%v retry=%s", ok, retry)
	}
}
