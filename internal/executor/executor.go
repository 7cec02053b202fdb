// Package executor applies and reverses sanctions on the platform.
package executor

import (
	"context"
	"errors"
	"fmt"

	"shibe/internal/metrics"
	"shibe/internal/moderation"
	"shibe/internal/platform"
	"shibe/internal/report"

	"go.uber.org/zap"
)

type Executor struct {
	client    platform.Client
	reporter  *report.Reporter
	logger    *zap.Logger
	dmEnabled bool
}

func New(client platform.Client, reporter *report.Reporter, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{client: client, reporter: reporter, logger: logger, dmEnabled: true}
}

// WithNotifications toggles direct messages to sanctioned users.
func (e *Executor) WithNotifications(enabled bool) {
	e.dmEnabled = enabled
}

func (e *Executor) Apply(ctx context.Context, s moderation.Sanction) error {
	var op string
	var err error
	switch s.Action {
	case moderation.ActionWarn:
		return nil
	case moderation.ActionBan:
		op = "ban"
		err = e.client.ApplyBan(ctx, s.GuildID, s.UserID, s.Reason)
	case moderation.ActionKick:
		op = "kick"
		err = e.client.Kick(ctx, s.GuildID, s.UserID, s.Reason)
	case moderation.ActionTimeout:
		op = "timeout"
		if s.ExpiresAt == nil {
			return moderation.ErrDurationRequired
		}
		err = e.client.SetTimeout(ctx, s.GuildID, s.UserID, *s.ExpiresAt)
	case moderation.ActionMute:
		op = "mute"
		if s.MuteRoleID == "" {
			return fmt.Errorf("%w: mute role is not configured", moderation.ErrInvalidConfiguration)
		}
		err = e.client.AddRole(ctx, s.GuildID, s.UserID, s.MuteRoleID)
	default:
		return moderation.ErrUnknownAction
	}
	return e.result(op, s, err)
}

// Reverse lifts the sanction. A sanction that is already gone on the
// platform counts as reversed.
func (e *Executor) Reverse(ctx context.Context, s moderation.Sanction) error {
	var op string
	var err error
	switch s.Action {
	case moderation.ActionBan:
		op = "unban"
		err = e.client.RemoveBan(ctx, s.GuildID, s.UserID)
	case moderation.ActionTimeout:
		op = "clear_timeout"
		err = e.client.ClearTimeout(ctx, s.GuildID, s.UserID)
	case moderation.ActionMute:
		op = "unmute"
		if s.MuteRoleID == "" {
			return fmt.Errorf("%w: mute role is not configured", moderation.ErrInvalidConfiguration)
		}
		err = e.client.RemoveRole(ctx, s.GuildID, s.UserID, s.MuteRoleID)
	case moderation.ActionWarn, moderation.ActionKick:
		return moderation.ErrNotReversible
	default:
		return moderation.ErrUnknownAction
	}
	if errors.Is(err, platform.ErrNotFound) {
		e.logger.Debug("sanction already lifted", zap.String("op", op), zap.String("guild_id", s.GuildID), zap.String("user_id", s.UserID))
		metrics.PlatformActionsTotal.WithLabelValues(op, "absent").Inc()
		return nil
	}
	return e.result(op, s, err)
}

func (e *Executor) Notify(ctx context.Context, userID, message string) {
	if !e.dmEnabled || userID == "" || message == "" {
		return
	}
	if err := e.client.SendDirectMessage(ctx, userID, message); err != nil {
		metrics.NotificationsTotal.WithLabelValues("unreachable").Inc()
		e.logger.Debug("notification failed", zap.String("user_id", userID), zap.Error(fmt.Errorf("%w: %w", moderation.ErrUserUnreachable, err)))
		return
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
}

func (e *Executor) Report(ctx context.Context, r moderation.Report) error {
	if e.reporter == nil {
		return nil
	}
	return e.reporter.Send(ctx, r)
}

func (e *Executor) result(op string, s moderation.Sanction, err error) error {
	if err != nil {
		metrics.PlatformActionsTotal.WithLabelValues(op, "error").Inc()
		e.logger.Warn("platform action failed", zap.String("op", op), zap.String("guild_id", s.GuildID), zap.String("user_id", s.UserID), zap.Error(err))
		return fmt.Errorf("%w: %s %s: %w", moderation.ErrPlatformAction, op, s.UserID, err)
	}
	metrics.PlatformActionsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}
