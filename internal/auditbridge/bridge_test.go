package auditbridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"shibe/internal/moderation"
	"shibe/internal/storage/memory"
)

type sequenceIDs struct{ next atomic.Int64 }

func (s *sequenceIDs) NextID() int64 { return s.next.Add(1) }

type recordingReporter struct{ reports []moderation.Report }

func (r *recordingReporter) Report(ctx context.Context, report moderation.Report) error {
	r.reports = append(r.reports, report)
	return nil
}

var now = time.Unix(1_700_000_000, 0)

func newBridge(t *testing.T, logExternal bool) (*Bridge, *moderation.Ledger, *memory.Store, *recordingReporter) {
	t.Helper()
	store := memory.New()
	ledger := moderation.NewLedger(store, &sequenceIDs{}, nil)
	ledger.WithClock(func() time.Time { return now })
	configs := moderation.NewGuildConfigs(store, moderation.DefaultGuildConfig(""))
	cfg := moderation.DefaultGuildConfig("g1")
	cfg.ActionChannelID = "c1"
	cfg.LogExternalModEvents = logExternal
	if err := configs.Save(context.Background(), cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	reporter := &recordingReporter{}
	return New(ledger, configs, reporter, func() string { return "bot" }, nil), ledger, store, reporter
}

func TestExternalTimeoutRecorded(t *testing.T) {
	bridge, ledger, _, reporter := newBridge(t, true)
	ctx := context.Background()
	until := now.Add(10 * time.Minute)

	outcome, err := bridge.Observe(ctx, Change{GuildID: "g1", TargetID: "u1", ActorID: "m1", Action: moderation.ActionTimeout, ExpiresAt: &until, Reason: "spam"})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if outcome != OutcomeRecorded {
		t.Fatalf("expected recorded, got %s", outcome)
	}

	outstanding, err := ledger.FindOutstanding(ctx, "g1", "u1", moderation.ActionTimeout)
	if err != nil {
		t.Fatalf("find outstanding: %v", err)
	}
	if len(outstanding) != 1 {
		t.Fatalf("expected one outstanding timeout, got %+v", outstanding)
	}
	event := outstanding[0]
	if event.ModeratorID != "m1" || event.ExpiresAt == nil || !event.ExpiresAt.Equal(until) {
		t.Fatalf("unexpected event %+v", event)
	}
	if len(reporter.reports) != 1 || reporter.reports[0].EventID != event.ID || reporter.reports[0].ChannelID != "c1" {
		t.Fatalf("unexpected reports %+v", reporter.reports)
	}
}

func TestExternalChangesIgnoredWhenDisabled(t *testing.T) {
	bridge, ledger, _, reporter := newBridge(t, false)
	ctx := context.Background()
	until := now.Add(10 * time.Minute)

	outcome, err := bridge.Observe(ctx, Change{GuildID: "g1", TargetID: "u1", ActorID: "m1", Action: moderation.ActionTimeout, ExpiresAt: &until})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if outcome != OutcomeIgnoredDisabled {
		t.Fatalf("expected ignored_disabled, got %s", outcome)
	}
	history, _ := ledger.History(ctx, "g1", "u1", 0)
	if len(history) != 0 || len(reporter.reports) != 0 {
		t.Fatalf("nothing should be recorded or reported")
	}
}

func TestIgnoredActors(t *testing.T) {
	bridge, _, _, _ := newBridge(t, true)
	ctx := context.Background()

	outcome, err := bridge.Observe(ctx, Change{GuildID: "g1", TargetID: "u1", ActorID: "bot", Action: moderation.ActionBan})
	if err != nil || outcome != OutcomeIgnoredSelf {
		t.Fatalf("expected ignored_self, got %s %v", outcome, err)
	}
	outcome, err = bridge.Observe(ctx, Change{GuildID: "g1", TargetID: "u1", Action: moderation.ActionBan})
	if err != nil || outcome != OutcomeIgnoredUnknownActor {
		t.Fatalf("expected ignored_unknown_actor, got %s %v", outcome, err)
	}
}

func TestRemovalWithoutOutstanding(t *testing.T) {
	bridge, _, _, reporter := newBridge(t, true)

	outcome, err := bridge.Observe(context.Background(), Change{GuildID: "g1", TargetID: "u1", ActorID: "m1", Action: moderation.ActionBan, Removal: true})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if outcome != OutcomeNothingToRevoke || len(reporter.reports) != 0 {
		t.Fatalf("expected no-op, got %s with %d reports", outcome, len(reporter.reports))
	}
}

func TestUnbanRevokesLatest(t *testing.T) {
	bridge, _, store, reporter := newBridge(t, true)
	ctx := context.Background()
	store.Put(moderation.Event{ID: 40, GuildID: "g1", UserID: "u1", ModeratorID: "m1", Action: moderation.ActionBan, Status: moderation.StatusActive})
	store.Put(moderation.Event{ID: 41, GuildID: "g1", UserID: "u1", ModeratorID: "m1", Action: moderation.ActionBan, Status: moderation.StatusAppealed})

	outcome, err := bridge.Observe(ctx, Change{GuildID: "g1", TargetID: "u1", ActorID: "m2", Action: moderation.ActionBan, Removal: true})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if outcome != OutcomeRevoked {
		t.Fatalf("expected revoked, got %s", outcome)
	}
	for _, id := range []int64{40, 41} {
		event, _ := store.GetEvent(ctx, id)
		if event.Status != moderation.StatusRevoked || event.ResolvedBy != "m2" {
			t.Fatalf("event %d not revoked by m2: %+v", id, event)
		}
	}
	if len(reporter.reports) != 1 || reporter.reports[0].EventID != 41 || reporter.reports[0].Title != "Unban" {
		t.Fatalf("unexpected reports %+v", reporter.reports)
	}
}

func TestClearedTimeoutRevokes(t *testing.T) {
	bridge, _, store, _ := newBridge(t, true)
	ctx := context.Background()
	until := now.Add(time.Hour)
	store.Put(moderation.Event{ID: 5, GuildID: "g1", UserID: "u1", ModeratorID: "m1", Action: moderation.ActionTimeout, ExpiresAt: &until, Status: moderation.StatusActive})

	outcome, err := bridge.Observe(ctx, Change{GuildID: "g1", TargetID: "u1", ActorID: "m1", Action: moderation.ActionTimeout})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if outcome != OutcomeRevoked {
		t.Fatalf("a timeout without a future expiry is a removal, got %s", outcome)
	}
}

func TestStoreFailureSurfaces(t *testing.T) {
	bridge, _, store, _ := newBridge(t, true)
	store.SetFailure(errors.New("disk gone"))

	_, err := bridge.Observe(context.Background(), Change{GuildID: "g1", TargetID: "u1", ActorID: "m1", Action: moderation.ActionKick})
	if !errors.Is(err, moderation.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
