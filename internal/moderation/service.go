package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shibe/internal/metrics"

	"go.uber.org/zap"
)

type Issue struct {
	GuildID     string
	GuildName   string
	UserID      string
	ModeratorID string
	Action      Action
	Reason      string
	Duration    time.Duration
}

type IssueResult struct {
	Event    Event
	Recorded bool
	// Degraded is set when the sanction took effect but could not be logged.
	Degraded bool
	// ReportErr is set when the action channel report was not delivered.
	ReportErr error
}

type Revoke struct {
	GuildID     string
	GuildName   string
	UserID      string
	ModeratorID string
	Action      Action
	Reason      string
}

type RevokeResult struct {
	// Event is the most recent revoked event, nil when none was outstanding.
	Event     *Event
	Revoked   int
	Degraded  bool
	ReportErr error
}

// Service is the command surface used by slash-command handlers.
type Service struct {
	ledger   *Ledger
	configs  *GuildConfigs
	enforcer Enforcer
	logger   *zap.Logger
}

func NewService(ledger *Ledger, configs *GuildConfigs, enforcer Enforcer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: ledger, configs: configs, enforcer: enforcer, logger: logger}
}

// IssueSanction applies the action on the platform and then records it.
// A platform failure records nothing. A store failure after a successful
// platform action is reported through IssueResult.Degraded.
func (s *Service) IssueSanction(ctx context.Context, in Issue) (IssueResult, error) {
	kind, err := LookupKind(in.Action)
	if err != nil {
		return IssueResult{}, err
	}
	cfg := s.guildConfig(ctx, in.GuildID)
	if !cfg.ModCommandsEnabled {
		return IssueResult{}, ErrCommandsDisabled
	}
	if in.Action == ActionMute && cfg.MuteRoleID == "" {
		return IssueResult{}, fmt.Errorf("%w: mute role is not configured", ErrInvalidConfiguration)
	}

	now := s.ledger.Now()
	expiresAt, err := resolveExpiry(kind, now, in.Duration, nil)
	if err != nil {
		return IssueResult{}, err
	}

	sanction := Sanction{
		GuildID:     in.GuildID,
		UserID:      in.UserID,
		ModeratorID: in.ModeratorID,
		Action:      in.Action,
		Reason:      in.Reason,
		ExpiresAt:   expiresAt,
		MuteRoleID:  cfg.MuteRoleID,
	}
	message := sanctionMessage(kind, in.GuildName, in.Reason, in.Duration)
	if kind.NotifyBeforeApply {
		s.enforcer.Notify(ctx, in.UserID, message)
	}
	if err := s.enforcer.Apply(ctx, sanction); err != nil {
		return IssueResult{}, err
	}
	if !kind.NotifyBeforeApply {
		s.enforcer.Notify(ctx, in.UserID, message)
	}

	result := IssueResult{}
	event, err := s.ledger.RecordEvent(ctx, NewEvent{
		GuildID:     in.GuildID,
		UserID:      in.UserID,
		ModeratorID: in.ModeratorID,
		Action:      in.Action,
		Reason:      in.Reason,
		Until:       expiresAt,
	})
	if err != nil {
		s.logger.Warn("sanction applied but not logged",
			zap.String("guild_id", in.GuildID),
			zap.String("user_id", in.UserID),
			zap.String("action", string(in.Action)),
			zap.Error(err))
		metrics.LedgerErrorsTotal.WithLabelValues("command").Inc()
		result.Degraded = true
	} else {
		metrics.EventsRecordedTotal.WithLabelValues(string(event.Action), "command").Inc()
		result.Event = event
		result.Recorded = true
	}

	result.ReportErr = s.enforcer.Report(ctx, Report{
		GuildID:     in.GuildID,
		ChannelID:   cfg.ActionChannelID,
		Title:       kind.Label,
		UserID:      in.UserID,
		ModeratorID: in.ModeratorID,
		Reason:      in.Reason,
		ExpiresAt:   expiresAt,
		EventID:     event.ID,
		Unlogged:    result.Degraded,
	})
	return result, nil
}

// RevokeSanction lifts the sanction on the platform and revokes every
// outstanding event of the kind for the user.
func (s *Service) RevokeSanction(ctx context.Context, in Revoke) (RevokeResult, error) {
	kind, err := LookupKind(in.Action)
	if err != nil {
		return RevokeResult{}, err
	}
	if !kind.Reversible {
		return RevokeResult{}, ErrNotReversible
	}
	cfg := s.guildConfig(ctx, in.GuildID)
	if !cfg.ModCommandsEnabled {
		return RevokeResult{}, ErrCommandsDisabled
	}

	sanction := Sanction{
		GuildID:     in.GuildID,
		UserID:      in.UserID,
		ModeratorID: in.ModeratorID,
		Action:      in.Action,
		Reason:      in.Reason,
		MuteRoleID:  cfg.MuteRoleID,
	}
	if err := s.enforcer.Reverse(ctx, sanction); err != nil {
		return RevokeResult{}, err
	}

	result := RevokeResult{}
	revoked, err := s.ledger.RevokeOutstanding(ctx, in.GuildID, in.UserID, in.Action, in.ModeratorID)
	if err != nil {
		s.logger.Warn("sanction lifted but ledger not updated",
			zap.String("guild_id", in.GuildID),
			zap.String("user_id", in.UserID),
			zap.String("action", string(in.Action)),
			zap.Error(err))
		result.Degraded = true
	}
	result.Revoked = len(revoked)
	if latest, ok := Latest(revoked); ok {
		result.Event = &latest
	}

	s.enforcer.Notify(ctx, in.UserID, fmt.Sprintf("Your %s on **%s** has been lifted.", strings.ToLower(kind.Label), in.GuildName))

	report := Report{
		GuildID:     in.GuildID,
		ChannelID:   cfg.ActionChannelID,
		Title:       kind.ReversalLabel,
		UserID:      in.UserID,
		ModeratorID: in.ModeratorID,
		Reason:      in.Reason,
		Unlogged:    result.Degraded,
	}
	if result.Event != nil {
		report.EventID = result.Event.ID
	}
	result.ReportErr = s.enforcer.Report(ctx, report)
	return result, nil
}

func (s *Service) guildConfig(ctx context.Context, guildID string) GuildConfig {
	cfg, err := s.configs.Get(ctx, guildID)
	if err != nil {
		s.logger.Warn("guild config fallback", zap.String("guild_id", guildID), zap.Error(err))
	}
	return cfg
}

func sanctionMessage(kind Kind, guildName, reason string, duration time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You have been %s in **%s**", kind.Verb, guildName)
	if duration > 0 {
		fmt.Fprintf(&b, " for %s", FormatDuration(duration))
	}
	b.WriteString(".")
	if reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", reason)
	}
	return b.String()
}

// FormatDuration renders whole days, hours and minutes, e.g. "1d 2h 30m".
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	return strings.Join(parts, " ")
}
