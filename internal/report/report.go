// Package report posts ledger changes to a guild's action channel.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shibe/internal/moderation"
	"shibe/internal/platform"

	"go.uber.org/zap"
)

var ErrChannelMismatch = errors.New("action channel belongs to another guild")

type Sender interface {
	ResolveChannel(ctx context.Context, channelID string) (platform.Channel, error)
	SendChannelMessage(ctx context.Context, channelID, content string) error
}

type Reporter struct {
	sender Sender
	logger *zap.Logger
}

func New(sender Sender, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{sender: sender, logger: logger}
}

// Send posts the report when the guild has an action channel.
func (r *Reporter) Send(ctx context.Context, report moderation.Report) error {
	r.logger.Info("audit",
		zap.String("guild_id", report.GuildID),
		zap.String("user_id", report.UserID),
		zap.String("moderator_id", report.ModeratorID),
		zap.String("event", report.Title),
		zap.Int64("event_id", report.EventID))

	if report.ChannelID == "" {
		return nil
	}
	channel, err := r.sender.ResolveChannel(ctx, report.ChannelID)
	if err != nil {
		r.logger.Warn("action channel unavailable", zap.String("guild_id", report.GuildID), zap.String("channel_id", report.ChannelID), zap.Error(err))
		return err
	}
	if channel.GuildID != "" && channel.GuildID != report.GuildID {
		return ErrChannelMismatch
	}
	if err := r.sender.SendChannelMessage(ctx, channel.ID, Format(report)); err != nil {
		r.logger.Warn("action report failed", zap.String("guild_id", report.GuildID), zap.String("channel_id", channel.ID), zap.Error(err))
		return err
	}
	return nil
}

func Format(report moderation.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", report.Title)
	fmt.Fprintf(&b, "User: <@%s>\n", report.UserID)
	if report.ModeratorID != "" && report.ModeratorID != moderation.SystemActor {
		fmt.Fprintf(&b, "Moderator: <@%s>\n", report.ModeratorID)
	}
	if report.ExpiresAt != nil {
		fmt.Fprintf(&b, "Expires: <t:%d:R>\n", report.ExpiresAt.Unix())
	}
	reason := report.Reason
	if reason == "" {
		reason = "No reason provided"
	}
	fmt.Fprintf(&b, "Reason: %s", reason)
	if report.EventID != 0 {
		label := report.EventLabel
		if label == "" {
			label = "Event ID"
		}
		fmt.Fprintf(&b, "\n%s: %d", label, report.EventID)
	}
	if report.Unlogged {
		b.WriteString("\n:warning: Couldn't log this incident due to a temporary issue.")
	}
	if report.Note != "" {
		b.WriteString("\n:warning: " + report.Note)
	}
	return b.String()
}

// Warning renders a Send failure for the moderator who ran the command.
func Warning(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, platform.ErrForbidden):
		return ":warning: Couldn't log the incident. Shibe does not have permission to use the logging channel."
	case errors.Is(err, platform.ErrNotFound), errors.Is(err, ErrChannelMismatch):
		return ":warning: Couldn't log the incident. The logging channel no longer exists."
	default:
		return ":warning: Couldn't log the incident due to a temporary issue."
	}
}
