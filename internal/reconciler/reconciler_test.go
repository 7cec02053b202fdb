package reconciler_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shibe/internal/executor"
	"shibe/internal/moderation"
	"shibe/internal/platform/platformtest"
	"shibe/internal/reconciler"
	"shibe/internal/report"
	"shibe/internal/storage/memory"
)

type sequenceIDs struct{ next atomic.Int64 }

func (s *sequenceIDs) NextID() int64 { return s.next.Add(1) }

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []chan time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, ch)
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *fakeClock) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.waiters {
		ch <- c.now
	}
	c.waiters = nil
}

type harness struct {
	ledger     *moderation.Ledger
	store      *memory.Store
	client     *platformtest.Client
	clock      *fakeClock
	reconciler *reconciler.Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	ledger := moderation.NewLedger(store, &sequenceIDs{}, nil)
	ledger.WithClock(clock.Now)
	configs := moderation.NewGuildConfigs(store, moderation.DefaultGuildConfig(""))

	client := platformtest.New()
	client.AddGuild("g1", "Shibe")
	client.AddChannel("c1", "g1")
	cfg := moderation.DefaultGuildConfig("g1")
	cfg.ActionChannelID = "c1"
	cfg.MuteRoleID = "r1"
	if err := configs.Save(context.Background(), cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	exec := executor.New(client, report.New(client, nil), nil)
	rec := reconciler.New(ledger, configs, client, exec, reconciler.Config{Workers: 2}, nil)
	rec.WithClock(clock)
	return &harness{ledger: ledger, store: store, client: client, clock: clock, reconciler: rec}
}

func (h *harness) ban(t *testing.T, userID string, d time.Duration) moderation.Event {
	t.Helper()
	event, err := h.ledger.RecordEvent(context.Background(), moderation.NewEvent{GuildID: "g1", UserID: userID, ModeratorID: "m1", Action: moderation.ActionBan, Reason: "raid", Duration: d})
	if err != nil {
		t.Fatalf("record ban: %v", err)
	}
	return event
}

func (h *harness) status(t *testing.T, id int64) moderation.Status {
	t.Helper()
	event, err := h.store.GetEvent(context.Background(), id)
	if err != nil {
		t.Fatalf("get %d: %v", id, err)
	}
	return event.Status
}

func TestBanExpiresAfterDuration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.ban(t, "u1", 60*time.Second)

	h.clock.Advance(59 * time.Second)
	summary, err := h.reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("pass at 59s: %v", err)
	}
	if summary.Due != 0 || len(h.client.Calls("unban")) != 0 {
		t.Fatalf("nothing should be due at 59s, got %+v", summary)
	}

	h.clock.Advance(2 * time.Second)
	summary, err = h.reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("pass at 61s: %v", err)
	}
	if summary.Due != 1 || summary.Expired != 1 || summary.Reversed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if calls := h.client.Calls("unban"); len(calls) != 1 || calls[0].UserID != "u1" {
		t.Fatalf("expected one unban for u1, got %+v", calls)
	}
	if got := h.status(t, event.ID); got != moderation.StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", got)
	}

	dms := h.client.DirectMessages("u1")
	if len(dms) != 1 || dms[0] != "✅ Your ban on **Shibe** has expired." {
		t.Fatalf("unexpected dm %v", dms)
	}
	reports := h.client.ChannelMessages("c1")
	if len(reports) != 1 || !strings.Contains(reports[0], "**Ban Expired**") || !strings.Contains(reports[0], "Expired Event ID:") {
		t.Fatalf("unexpected report %v", reports)
	}
}

func TestNoDoubleReversal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ban(t, "u1", time.Minute)
	h.clock.Advance(2 * time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := h.reconciler.RunOnce(ctx); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	if calls := h.client.Calls("unban"); len(calls) != 1 {
		t.Fatalf("expected a single unban across passes, got %d", len(calls))
	}
}

func TestStackedBanIsKept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := h.clock.Now()
	expired := now.Add(-time.Minute)
	h.store.Put(moderation.Event{ID: 10, GuildID: "g1", UserID: "u1", ModeratorID: "m1", Action: moderation.ActionBan, CreatedAt: now.Add(-time.Hour), ExpiresAt: &expired, Status: moderation.StatusActive})
	h.store.Put(moderation.Event{ID: 11, GuildID: "g1", UserID: "u1", ModeratorID: "m2", Action: moderation.ActionBan, CreatedAt: now.Add(-time.Hour), Status: moderation.StatusActive})

	summary, err := h.reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if summary.Expired != 1 || summary.Reversed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if calls := h.client.Calls("unban"); len(calls) != 0 {
		t.Fatalf("permanent ban still outstanding, unban must not run: %+v", calls)
	}
	if got := h.status(t, 11); got != moderation.StatusActive {
		t.Fatalf("expected the permanent ban untouched, got %s", got)
	}
}

func TestStaggeredBansUnbanOnLastExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := h.clock.Now()
	short := now.Add(time.Minute)
	long := now.Add(5 * time.Minute)
	h.store.Put(moderation.Event{ID: 20, GuildID: "g1", UserID: "u1", ModeratorID: "m1", Action: moderation.ActionBan, CreatedAt: now, ExpiresAt: &short, Status: moderation.StatusActive})
	h.store.Put(moderation.Event{ID: 21, GuildID: "g1", UserID: "u1", ModeratorID: "m2", Action: moderation.ActionBan, CreatedAt: now, ExpiresAt: &long, Status: moderation.StatusActive})

	h.clock.Advance(2 * time.Minute)
	summary, err := h.reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if summary.Expired != 1 || summary.Reversed != 0 {
		t.Fatalf("unexpected summary after first expiry %+v", summary)
	}
	if calls := h.client.Calls("unban"); len(calls) != 0 {
		t.Fatalf("later ban still outstanding, unban must not run: %+v", calls)
	}

	h.clock.Advance(4 * time.Minute)
	summary, err = h.reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if summary.Reversed != 1 {
		t.Fatalf("unexpected summary after last expiry %+v", summary)
	}
	if calls := h.client.Calls("unban"); len(calls) != 1 {
		t.Fatalf("expected one unban after the last expiry, got %+v", calls)
	}
	if h.status(t, 20) != moderation.StatusExpired || h.status(t, 21) != moderation.StatusExpired {
		t.Fatalf("both bans should be EXPIRED")
	}
}

func TestFailedReversalStillReported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.ban(t, "u1", time.Minute)
	h.client.Fail("unban", errors.New("missing permissions"))
	h.clock.Advance(2 * time.Minute)

	summary, err := h.reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if summary.Due != 1 || summary.Expired != 1 || summary.Failed != 1 || summary.Reversed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := h.status(t, event.ID); got != moderation.StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", got)
	}
	if dms := h.client.DirectMessages("u1"); len(dms) != 0 {
		t.Fatalf("user is still banned, no expiry dm expected: %v", dms)
	}
	reports := h.client.ChannelMessages("c1")
	if len(reports) != 1 || !strings.Contains(reports[0], "**Ban Expired**") || !strings.Contains(reports[0], "Lift the ban manually.") {
		t.Fatalf("expected a manual-unban report, got %v", reports)
	}
}

func TestUnreachableGuildGrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.ban(t, "u1", time.Minute)
	h.client.RemoveGuild("g1")

	h.clock.Advance(time.Hour)
	summary, err := h.reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("pass within grace: %v", err)
	}
	if summary.Deferred != 1 || h.status(t, event.ID) != moderation.StatusActive {
		t.Fatalf("expected deferral within grace, got %+v", summary)
	}

	h.clock.Advance(25 * time.Hour)
	summary, err = h.reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("pass past grace: %v", err)
	}
	if summary.Abandoned != 1 || h.status(t, event.ID) != moderation.StatusExpired {
		t.Fatalf("expected abandonment past grace, got %+v", summary)
	}
	if calls := h.client.Calls("unban"); len(calls) != 0 {
		t.Fatalf("abandoned events are not reversed: %+v", calls)
	}
}

func TestFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ban(t, "u1", time.Minute)
	h.ban(t, "u2", time.Minute)
	h.client.PanicOn("unban", "u1")
	h.clock.Advance(2 * time.Minute)

	summary, err := h.reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if summary.Failed != 1 || summary.Reversed != 1 {
		t.Fatalf("expected one failure and one reversal, got %+v", summary)
	}
	if dms := h.client.DirectMessages("u2"); len(dms) != 1 {
		t.Fatalf("u2 should still be notified, got %v", dms)
	}
}

func TestTimeoutClearsAndMuteRemovesRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, action := range []moderation.Action{moderation.ActionTimeout, moderation.ActionMute} {
		if _, err := h.ledger.RecordEvent(ctx, moderation.NewEvent{GuildID: "g1", UserID: "u1", ModeratorID: "m1", Action: action, Duration: time.Minute}); err != nil {
			t.Fatalf("record %s: %v", action, err)
		}
	}
	h.clock.Advance(2 * time.Minute)

	summary, err := h.reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if summary.Reversed != 2 {
		t.Fatalf("expected two reversals, got %+v", summary)
	}
	if len(h.client.Calls("clear_timeout")) != 1 {
		t.Fatalf("expected timeout cleared")
	}
	calls := h.client.Calls("remove_role")
	if len(calls) != 1 || calls[0].Arg != "r1" {
		t.Fatalf("expected mute role removed, got %+v", calls)
	}
}

func TestWarnIsNeverDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.ledger.RecordEvent(ctx, moderation.NewEvent{GuildID: "g1", UserID: "u1", ModeratorID: "m1", Action: moderation.ActionWarn}); err != nil {
		t.Fatalf("record warn: %v", err)
	}
	h.clock.Advance(365 * 24 * time.Hour)

	summary, err := h.reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if summary.Due != 0 || len(h.client.Calls("")) != 0 {
		t.Fatalf("warn must never be due, got %+v", summary)
	}
}

func TestStoreFailureAbortsPass(t *testing.T) {
	h := newHarness(t)
	h.store.SetFailure(errors.New("disk gone"))

	_, err := h.reconciler.RunOnce(context.Background())
	if !errors.Is(err, moderation.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if calls := h.client.Calls(""); len(calls) != 0 {
		t.Fatalf("no platform calls expected, got %+v", calls)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunSchedulesAfterEachPass(t *testing.T) {
	h := newHarness(t)
	h.ban(t, "u1", time.Minute)
	h.clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.reconciler.Run(ctx) }()

	waitFor(t, "first pass", func() bool { return len(h.client.Calls("unban")) == 1 })
	waitFor(t, "timer armed", func() bool { return h.clock.Waiters() == 1 })

	h.ban(t, "u2", time.Minute)
	h.clock.Advance(2 * time.Minute)
	h.clock.Tick()
	waitFor(t, "second pass", func() bool { return len(h.client.Calls("unban")) == 2 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}
