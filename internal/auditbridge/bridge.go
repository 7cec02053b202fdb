// Package auditbridge records moderation performed outside the bot.
package auditbridge

import (
	"context"
	"time"

	"shibe/internal/metrics"
	"shibe/internal/moderation"

	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeIgnoredSelf         Outcome = "ignored_self"
	OutcomeIgnoredUnknownActor Outcome = "ignored_unknown_actor"
	OutcomeIgnoredDisabled     Outcome = "ignored_disabled"
	OutcomeRecorded            Outcome = "recorded"
	OutcomeRevoked             Outcome = "revoked"
	OutcomeNothingToRevoke     Outcome = "nothing_to_revoke"
)

// Change is a sanction applied or lifted on the platform as seen in the
// guild audit log.
type Change struct {
	GuildID  string
	TargetID string
	ActorID  string
	Action   moderation.Action
	// Removal is set when the sanction was lifted.
	Removal   bool
	ExpiresAt *time.Time
	Reason    string
}

type Reporter interface {
	Report(ctx context.Context, report moderation.Report) error
}

type Bridge struct {
	ledger   *moderation.Ledger
	configs  *moderation.GuildConfigs
	reporter Reporter
	selfID   func() string
	logger   *zap.Logger
}

// New builds a bridge. selfID returns the bot's own user id; it is read on
// every change because the gateway only learns it after connecting.
func New(ledger *moderation.Ledger, configs *moderation.GuildConfigs, reporter Reporter, selfID func() string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{ledger: ledger, configs: configs, reporter: reporter, selfID: selfID, logger: logger}
}

func (b *Bridge) Observe(ctx context.Context, change Change) (Outcome, error) {
	outcome, err := b.observe(ctx, change)
	if err == nil {
		metrics.AuditChangesTotal.WithLabelValues(string(change.Action), string(outcome)).Inc()
	}
	return outcome, err
}

func (b *Bridge) observe(ctx context.Context, change Change) (Outcome, error) {
	kind, err := moderation.LookupKind(change.Action)
	if err != nil {
		return "", err
	}
	if change.ActorID == "" {
		return OutcomeIgnoredUnknownActor, nil
	}
	if b.selfID != nil && change.ActorID == b.selfID() {
		return OutcomeIgnoredSelf, nil
	}

	cfg, err := b.configs.Get(ctx, change.GuildID)
	if err != nil {
		b.logger.Warn("guild config fallback", zap.String("guild_id", change.GuildID), zap.Error(err))
	}
	if !cfg.LogExternalModEvents {
		return OutcomeIgnoredDisabled, nil
	}

	log := b.logger.With(
		zap.String("guild_id", change.GuildID),
		zap.String("user_id", change.TargetID),
		zap.String("moderator_id", change.ActorID),
		zap.String("action", string(change.Action)))

	removal := change.Removal
	if change.Action == moderation.ActionTimeout && !removal {
		if change.ExpiresAt == nil || !change.ExpiresAt.After(b.ledger.Now()) {
			removal = true
		}
	}

	if removal {
		if !kind.Reversible {
			return OutcomeNothingToRevoke, nil
		}
		revoked, err := b.ledger.RevokeOutstanding(ctx, change.GuildID, change.TargetID, change.Action, change.ActorID)
		if err != nil {
			metrics.LedgerErrorsTotal.WithLabelValues("audit").Inc()
			log.Warn("external revoke not recorded", zap.Error(err))
			return "", err
		}
		latest, ok := moderation.Latest(revoked)
		if !ok {
			return OutcomeNothingToRevoke, nil
		}
		log.Info("external revoke recorded", zap.Int("revoked", len(revoked)), zap.Int64("event_id", latest.ID))
		b.report(ctx, log, moderation.Report{
			GuildID:     change.GuildID,
			ChannelID:   cfg.ActionChannelID,
			Title:       kind.ReversalLabel,
			UserID:      change.TargetID,
			ModeratorID: change.ActorID,
			Reason:      change.Reason,
			EventID:     latest.ID,
		})
		return OutcomeRevoked, nil
	}

	event, err := b.ledger.RecordEvent(ctx, moderation.NewEvent{
		GuildID:     change.GuildID,
		UserID:      change.TargetID,
		ModeratorID: change.ActorID,
		Action:      change.Action,
		Reason:      change.Reason,
		Until:       change.ExpiresAt,
	})
	if err != nil {
		metrics.LedgerErrorsTotal.WithLabelValues("audit").Inc()
		log.Warn("external sanction not recorded", zap.Error(err))
		return "", err
	}
	metrics.EventsRecordedTotal.WithLabelValues(string(event.Action), "audit").Inc()
	log.Info("external sanction recorded", zap.Int64("event_id", event.ID))
	b.report(ctx, log, moderation.Report{
		GuildID:     change.GuildID,
		ChannelID:   cfg.ActionChannelID,
		Title:       kind.Label,
		UserID:      change.TargetID,
		ModeratorID: change.ActorID,
		Reason:      change.Reason,
		ExpiresAt:   event.ExpiresAt,
		EventID:     event.ID,
	})
	return OutcomeRecorded, nil
}

func (b *Bridge) report(ctx context.Context, log *zap.Logger, r moderation.Report) {
	if b.reporter == nil {
		return
	}
	if err := b.reporter.Report(ctx, r); err != nil {
		log.Debug("external change report failed", zap.Error(err))
	}
}
