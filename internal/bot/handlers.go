package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shibe/internal/analytics"
	"shibe/internal/moderation"
	"shibe/internal/platform"
	"shibe/internal/report"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type optionMap map[string]*discordgo.ApplicationCommandInteractionDataOption

func options(opts []*discordgo.ApplicationCommandInteractionDataOption) optionMap {
	m := make(optionMap, len(opts))
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func (o optionMap) stringValue(name string) string {
	if opt, ok := o[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func (o optionMap) intValue(name string) (int64, bool) {
	if opt, ok := o[name]; ok {
		return opt.IntValue(), true
	}
	return 0, false
}

func (o optionMap) userID(session *discordgo.Session, name string) string {
	if opt, ok := o[name]; ok {
		if user := opt.UserValue(session); user != nil {
			return user.ID
		}
	}
	return ""
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" || interaction.Member == nil || interaction.Member.User == nil {
		b.respond(session, interaction, ":warning: This command can only be used in a server.", true)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	data := interaction.ApplicationCommandData()
	moderatorID := interaction.Member.User.ID
	opts := options(data.Options)

	allowed, retry, err := b.limiter.Allow(ctx, interaction.GuildID, moderatorID)
	if err != nil {
		b.logger.Warn("command cooldown unavailable", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	} else if !allowed {
		b.respond(session, interaction, fmt.Sprintf(":hourglass: Slow down. Try again in %s.", moderation.FormatDuration(retry)), true)
		return
	}

	switch data.Name {
	case "warn":
		b.handleIssue(ctx, session, interaction, moderation.ActionWarn, opts, 0)
	case "kick":
		b.handleIssue(ctx, session, interaction, moderation.ActionKick, opts, 0)
	case "mute":
		minutes, _ := opts.intValue("time")
		b.handleIssue(ctx, session, interaction, moderation.ActionMute, opts, time.Duration(minutes)*time.Minute)
	case "ban":
		minutes, _ := opts.intValue("time")
		b.handleIssue(ctx, session, interaction, moderation.ActionBan, opts, time.Duration(minutes)*time.Minute)
	case "timeout":
		minutes, _ := opts.intValue("time")
		if minutes == 0 {
			b.handleRevoke(ctx, session, interaction, moderation.ActionTimeout, opts.userID(session, "member"), opts.stringValue("reason"))
			return
		}
		b.handleIssue(ctx, session, interaction, moderation.ActionTimeout, opts, time.Duration(minutes)*time.Minute)
	case "unmute":
		b.handleRevoke(ctx, session, interaction, moderation.ActionMute, opts.userID(session, "member"), opts.stringValue("reason"))
	case "unban":
		b.handleRevoke(ctx, session, interaction, moderation.ActionBan, strings.Trim(strings.TrimSpace(opts.stringValue("user")), "<@!>"), opts.stringValue("reason"))
	case "modstats":
		b.handleStats(ctx, session, interaction, opts)
	case "modconfig":
		b.handleConfig(ctx, session, interaction, opts)
	default:
		b.respond(session, interaction, ":warning: Unknown command.", true)
	}
}

func (b *Bot) handleIssue(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, action moderation.Action, opts optionMap, duration time.Duration) {
	targetID := opts.userID(session, "member")
	moderatorID := interaction.Member.User.ID
	if targetID == "" {
		b.respond(session, interaction, ":warning: That member could not be found.", true)
		return
	}
	if targetID == moderatorID {
		b.respond(session, interaction, ":lock: You cannot moderate yourself.", true)
		return
	}

	result, err := b.service.IssueSanction(ctx, moderation.Issue{
		GuildID:     interaction.GuildID,
		GuildName:   b.guildName(interaction.GuildID),
		UserID:      targetID,
		ModeratorID: moderatorID,
		Action:      action,
		Reason:      opts.stringValue("reason"),
		Duration:    duration,
	})
	if err != nil {
		b.logger.Info("command rejected",
			zap.String("guild_id", interaction.GuildID),
			zap.String("moderator_id", moderatorID),
			zap.String("action", string(action)),
			zap.Error(err))
		b.respond(session, interaction, errorReply(action, err), true)
		return
	}
	b.respond(session, interaction, issueReply(action, targetID, duration, result), false)
}

func (b *Bot) handleRevoke(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, action moderation.Action, targetID, reason string) {
	if targetID == "" {
		b.respond(session, interaction, ":warning: That user could not be found.", true)
		return
	}
	result, err := b.service.RevokeSanction(ctx, moderation.Revoke{
		GuildID:     interaction.GuildID,
		GuildName:   b.guildName(interaction.GuildID),
		UserID:      targetID,
		ModeratorID: interaction.Member.User.ID,
		Action:      action,
		Reason:      reason,
	})
	if err != nil {
		b.respond(session, interaction, errorReply(action, err), true)
		return
	}
	b.respond(session, interaction, revokeReply(action, targetID, result), false)
}

func (b *Bot) handleStats(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts optionMap) {
	days, ok := opts.intValue("days")
	if !ok || days <= 0 {
		days = 7
	}
	since := b.ledger.Now().Add(-time.Duration(days) * 24 * time.Hour)
	stats, err := b.analytics.Report(ctx, interaction.GuildID, since)
	if err != nil {
		b.logger.Warn("stats unavailable", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respond(session, interaction, ":warning: Couldn't load moderation stats due to a temporary issue.", true)
		return
	}
	b.respond(session, interaction, analytics.Format(stats), true)
}

func (b *Bot) handleConfig(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts optionMap) {
	cfg, err := b.configs.Get(ctx, interaction.GuildID)
	if err != nil {
		b.respond(session, interaction, ":warning: Couldn't load the server configuration due to a temporary issue.", true)
		return
	}
	if len(opts) == 0 {
		b.respond(session, interaction, configSummary(cfg), true)
		return
	}

	if opt, ok := opts["action_channel"]; ok {
		if channel := opt.ChannelValue(session); channel != nil {
			cfg.ActionChannelID = channel.ID
		}
	}
	if opt, ok := opts["log_external"]; ok {
		cfg.LogExternalModEvents = opt.BoolValue()
	}
	if opt, ok := opts["mute_role"]; ok {
		if role := opt.RoleValue(session, interaction.GuildID); role != nil {
			cfg.MuteRoleID = role.ID
		}
	}
	if opt, ok := opts["commands_enabled"]; ok {
		cfg.ModCommandsEnabled = opt.BoolValue()
	}
	if err := b.configs.Save(ctx, cfg); err != nil {
		b.logger.Warn("guild config not saved", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respond(session, interaction, ":warning: Couldn't save the server configuration due to a temporary issue.", true)
		return
	}
	b.logger.Info("guild config updated", zap.String("guild_id", interaction.GuildID), zap.String("moderator_id", interaction.Member.User.ID))
	b.respond(session, interaction, ":white_check_mark: Configuration updated.\n"+configSummary(cfg), true)
}

func issueReply(action moderation.Action, targetID string, duration time.Duration, result moderation.IssueResult) string {
	kind := moderation.Kinds[action]
	var b strings.Builder
	fmt.Fprintf(&b, ":white_check_mark: <@%s> has been %s", targetID, kind.Verb)
	if duration > 0 {
		fmt.Fprintf(&b, " for %s", moderation.FormatDuration(duration))
	}
	b.WriteString(".")
	if result.Degraded {
		b.WriteString("\n:warning: Couldn't log this incident due to a temporary issue.")
	}
	if warning := report.Warning(result.ReportErr); warning != "" {
		b.WriteString("\n" + warning)
	}
	return b.String()
}

func revokeReply(action moderation.Action, targetID string, result moderation.RevokeResult) string {
	kind := moderation.Kinds[action]
	var b strings.Builder
	fmt.Fprintf(&b, ":white_check_mark: <@%s>'s %s has been lifted.", targetID, strings.ToLower(kind.Label))
	if result.Degraded {
		b.WriteString("\n:warning: Couldn't log this incident due to a temporary issue.")
	}
	if warning := report.Warning(result.ReportErr); warning != "" {
		b.WriteString("\n" + warning)
	}
	return b.String()
}

func errorReply(action moderation.Action, err error) string {
	label := strings.ToLower(moderation.Kinds[action].Label)
	switch {
	case errors.Is(err, moderation.ErrCommandsDisabled):
		return ":lock: Moderation commands are disabled on this server."
	case errors.Is(err, moderation.ErrDurationTooLong):
		return ":warning: Timeouts can last at most 28 days."
	case errors.Is(err, moderation.ErrDurationRequired):
		return ":warning: Please choose how long the " + label + " should last."
	case errors.Is(err, moderation.ErrInvalidDuration), errors.Is(err, moderation.ErrUnsupportedDuration):
		return ":warning: That duration is not supported."
	case errors.Is(err, moderation.ErrInvalidConfiguration) && action == moderation.ActionMute:
		return ":warning: No mute role is configured. Set one with /modconfig mute_role."
	case errors.Is(err, platform.ErrForbidden):
		return ":warning: Shibe does not have permission to " + label + " this member."
	case errors.Is(err, platform.ErrNotFound):
		return ":warning: That member could not be found."
	case errors.Is(err, moderation.ErrNotReversible):
		return ":warning: That action cannot be reversed."
	default:
		return ":warning: Something went wrong. Please try again later."
	}
}

func configSummary(cfg moderation.GuildConfig) string {
	channel := "not set"
	if cfg.ActionChannelID != "" {
		channel = "<#" + cfg.ActionChannelID + ">"
	}
	role := "not set"
	if cfg.MuteRoleID != "" {
		role = "<@&" + cfg.MuteRoleID + ">"
	}
	return fmt.Sprintf("Action channel: %s\nLog external actions: %t\nMute role: %s\nModeration commands: %t",
		channel, cfg.LogExternalModEvents, role, cfg.ModCommandsEnabled)
}
