// Package reconciler reverses timed sanctions once they fall due.
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shibe/internal/metrics"
	"shibe/internal/moderation"
	"shibe/internal/platform"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultGrace    = 24 * time.Hour
	DefaultWorkers  = 4
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type Config struct {
	Interval time.Duration
	// Grace is how long an event for an unreachable guild is retried
	// before it is expired without reversal.
	Grace   time.Duration
	Workers int
}

type GuildResolver interface {
	ResolveGuild(ctx context.Context, guildID string) (platform.Guild, error)
}

// Summary counts what one pass did. Reversed is a subset of Expired. An
// event whose reversal failed after it was expired counts as both Expired
// and Failed.
type Summary struct {
	Due       int
	Expired   int
	Abandoned int
	Deferred  int
	Skipped   int
	Reversed  int
	Failed    int
}

type outcome int

const (
	outcomeExpired outcome = iota
	outcomeReversed
	// outcomeUnreversed is an expired event whose platform reversal failed.
	outcomeUnreversed
	outcomeAbandoned
	outcomeDeferred
	outcomeSkipped
	outcomeFailed
)

var outcomeNames = map[outcome]string{
	outcomeExpired:    "expired",
	outcomeReversed:   "reversed",
	outcomeUnreversed: "reversal_failed",
	outcomeAbandoned:  "abandoned",
	outcomeDeferred:   "deferred",
	outcomeSkipped:    "skipped",
	outcomeFailed:     "failed",
}

type Reconciler struct {
	ledger   *moderation.Ledger
	configs  *moderation.GuildConfigs
	guilds   GuildResolver
	enforcer moderation.Enforcer
	logger   *zap.Logger
	clock    Clock
	cfg      Config
}

func New(ledger *moderation.Ledger, configs *moderation.GuildConfigs, guilds GuildResolver, enforcer moderation.Enforcer, cfg Config, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Reconciler{
		ledger:   ledger,
		configs:  configs,
		guilds:   guilds,
		enforcer: enforcer,
		logger:   logger,
		clock:    realClock{},
		cfg:      cfg,
	}
}

func (r *Reconciler) WithClock(clock Clock) {
	r.clock = clock
}

// Run performs a pass immediately and then one pass per interval, measured
// from the end of the previous pass. It returns when ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler started", zap.Duration("interval", r.cfg.Interval), zap.Duration("grace", r.cfg.Grace))
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reconcile pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-r.clock.After(r.cfg.Interval):
		}
	}
}

type groupKey struct {
	guildID string
	userID  string
	action  moderation.Action
}

// RunOnce expires every due event. Events of the same user and kind are
// handled in order of id so stacked sanctions see each other's updates.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	now := r.clock.Now()

	due, err := r.ledger.FindDue(ctx, now)
	if err != nil {
		metrics.ReconcilePassesTotal.WithLabelValues("error").Inc()
		return Summary{}, err
	}
	metrics.ReconcileDueEvents.Set(float64(len(due)))

	groups := make(map[groupKey][]moderation.Event)
	var order []groupKey
	for _, event := range due {
		key := groupKey{guildID: event.GuildID, userID: event.UserID, action: event.Action}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], event)
	}

	outcomes := make([][]outcome, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, key := range order {
		events := groups[key]
		// FindDue lists newest first.
		for a, b := 0, len(events)-1; a < b; a, b = a+1, b-1 {
			events[a], events[b] = events[b], events[a]
		}
		g.Go(func() error {
			results := make([]outcome, 0, len(events))
			for _, event := range events {
				results = append(results, r.safeHandle(gctx, event, now))
			}
			outcomes[i] = results
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Due: len(due)}
	for _, results := range outcomes {
		for _, o := range results {
			switch o {
			case outcomeReversed:
				summary.Reversed++
				summary.Expired++
			case outcomeUnreversed:
				summary.Expired++
				summary.Failed++
			case outcomeExpired:
				summary.Expired++
			case outcomeAbandoned:
				summary.Abandoned++
			case outcomeDeferred:
				summary.Deferred++
			case outcomeSkipped:
				summary.Skipped++
			case outcomeFailed:
				summary.Failed++
			}
		}
	}

	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	metrics.ReconcilePassesTotal.WithLabelValues("ok").Inc()
	if summary.Due > 0 {
		r.logger.Info("reconcile pass",
			zap.Int("due", summary.Due),
			zap.Int("expired", summary.Expired),
			zap.Int("reversed", summary.Reversed),
			zap.Int("abandoned", summary.Abandoned),
			zap.Int("deferred", summary.Deferred),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed))
	}
	return summary, nil
}

func (r *Reconciler) safeHandle(ctx context.Context, event moderation.Event, now time.Time) (o outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reconcile panic", zap.Int64("event_id", event.ID), zap.Any("panic", rec))
			o = outcomeFailed
		}
		metrics.ReconcileOutcomesTotal.WithLabelValues(string(event.Action), outcomeNames[o]).Inc()
	}()
	return r.handle(ctx, event, now)
}

func (r *Reconciler) handle(ctx context.Context, event moderation.Event, now time.Time) outcome {
	log := r.logger.With(
		zap.Int64("event_id", event.ID),
		zap.String("guild_id", event.GuildID),
		zap.String("user_id", event.UserID),
		zap.String("action", string(event.Action)))

	guild, resolveErr := r.guilds.ResolveGuild(ctx, event.GuildID)
	if resolveErr != nil {
		if event.ExpiresAt != nil && now.Sub(*event.ExpiresAt) > r.cfg.Grace {
			changed, err := r.ledger.ReviseStatus(ctx, event.ID, moderation.StatusExpired, moderation.SystemActor)
			if err != nil {
				log.Warn("abandon failed", zap.Error(err))
				return outcomeFailed
			}
			if !changed {
				return outcomeSkipped
			}
			log.Info("event abandoned, guild unreachable past grace", zap.Error(resolveErr))
			return outcomeAbandoned
		}
		log.Debug("guild unreachable, deferring", zap.Error(resolveErr))
		return outcomeDeferred
	}

	changed, err := r.ledger.ReviseStatus(ctx, event.ID, moderation.StatusExpired, moderation.SystemActor)
	if err != nil {
		log.Warn("expire failed", zap.Error(err))
		return outcomeFailed
	}
	if !changed {
		return outcomeSkipped
	}

	kind, err := moderation.LookupKind(event.Action)
	if err != nil || !kind.Reversible {
		return outcomeExpired
	}

	cfg, err := r.configs.Get(ctx, event.GuildID)
	if err != nil {
		log.Warn("guild config fallback", zap.Error(err))
	}

	if kind.Stacks {
		remaining, err := r.ledger.FindOutstanding(ctx, event.GuildID, event.UserID, event.Action)
		if err != nil {
			log.Warn("outstanding check failed", zap.Error(err))
			return outcomeFailed
		}
		if len(remaining) > 0 {
			log.Debug("sanction still held by another event", zap.Int64("held_by", remaining[0].ID))
			return outcomeExpired
		}
	}
	if event.Action == moderation.ActionMute && cfg.MuteRoleID == "" {
		log.Warn("mute expired but no mute role is configured")
		return outcomeExpired
	}

	sanction := moderation.Sanction{
		GuildID:     event.GuildID,
		UserID:      event.UserID,
		ModeratorID: moderation.SystemActor,
		Action:      event.Action,
		Reason:      event.Reason,
		MuteRoleID:  cfg.MuteRoleID,
	}
	report := moderation.Report{
		GuildID:     event.GuildID,
		ChannelID:   cfg.ActionChannelID,
		Title:       kind.ExpiredLabel,
		UserID:      event.UserID,
		ModeratorID: moderation.SystemActor,
		Reason:      event.Reason,
		EventID:     event.ID,
		EventLabel:  "Expired Event ID",
	}
	if err := r.enforcer.Reverse(ctx, sanction); err != nil {
		log.Warn("reversal failed", zap.Error(err))
		report.Note = fmt.Sprintf("Automatic reversal failed. Lift the %s manually.", strings.ToLower(kind.Label))
		r.report(ctx, log, report)
		return outcomeUnreversed
	}

	r.enforcer.Notify(ctx, event.UserID, fmt.Sprintf("✅ Your %s on **%s** has expired.", strings.ToLower(kind.Label), guild.Name))
	r.report(ctx, log, report)
	return outcomeReversed
}

func (r *Reconciler) report(ctx context.Context, log *zap.Logger, report moderation.Report) {
	if err := r.enforcer.Report(ctx, report); err != nil {
		log.Debug("expiry report failed", zap.Error(err))
	}
}
