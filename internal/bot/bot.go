package bot

import (
	"context"
	"time"

	"shibe/internal/analytics"
	"shibe/internal/auditbridge"
	"shibe/internal/moderation"
	"shibe/internal/ratelimit"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	handlerTimeout = 10 * time.Second
	auditLookback  = 30 * time.Second
)

type Dependencies struct {
	Service   *moderation.Service
	Ledger    *moderation.Ledger
	Configs   *moderation.GuildConfigs
	Bridge    *auditbridge.Bridge
	Analytics *analytics.Service
	Limiter   *ratelimit.Limiter
}

type Bot struct {
	logger    *zap.Logger
	session   *discordgo.Session
	service   *moderation.Service
	ledger    *moderation.Ledger
	configs   *moderation.GuildConfigs
	bridge    *auditbridge.Bridge
	analytics *analytics.Service
	limiter   *ratelimit.Limiter
}

// NewSession creates the gateway session with the intents moderation needs.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans
	return session, nil
}

func New(session *discordgo.Session, deps Dependencies, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		logger:    logger,
		session:   session,
		service:   deps.Service,
		ledger:    deps.Ledger,
		configs:   deps.Configs,
		bridge:    deps.Bridge,
		analytics: deps.Analytics,
		limiter:   deps.Limiter,
	}
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildBanAdd)
	b.session.AddHandler(b.onGuildBanRemove)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	return b.registerCommands()
}

func (b *Bot) Close() {
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onGuildBanAdd(session *discordgo.Session, event *discordgo.GuildBanAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	actorID, reason := b.resolveAuditActor(event.GuildID, discordgo.AuditLogActionMemberBanAdd, event.User.ID, nil)
	b.observe(auditbridge.Change{
		GuildID:  event.GuildID,
		TargetID: event.User.ID,
		ActorID:  actorID,
		Action:   moderation.ActionBan,
		Reason:   reason,
	})
}

func (b *Bot) onGuildBanRemove(session *discordgo.Session, event *discordgo.GuildBanRemove) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	actorID, reason := b.resolveAuditActor(event.GuildID, discordgo.AuditLogActionMemberBanRemove, event.User.ID, nil)
	b.observe(auditbridge.Change{
		GuildID:  event.GuildID,
		TargetID: event.User.ID,
		ActorID:  actorID,
		Action:   moderation.ActionBan,
		Removal:  true,
		Reason:   reason,
	})
}

// A member leaving only counts as a kick when the audit log shows one.
func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	actorID, reason := b.resolveAuditActor(event.GuildID, discordgo.AuditLogActionMemberKick, event.User.ID, nil)
	if actorID == "" {
		return
	}
	b.observe(auditbridge.Change{
		GuildID:  event.GuildID,
		TargetID: event.User.ID,
		ActorID:  actorID,
		Action:   moderation.ActionKick,
		Reason:   reason,
	})
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	outstanding, err := b.ledger.FindOutstanding(ctx, event.GuildID, event.User.ID, moderation.ActionTimeout)
	if err != nil {
		b.logger.Warn("timeout diff skipped", zap.String("guild_id", event.GuildID), zap.String("user_id", event.User.ID), zap.Error(err))
		return
	}
	changed, removal := timeoutChange(event.CommunicationDisabledUntil, outstanding, b.ledger.Now())
	if !changed {
		return
	}
	actorID, reason := b.resolveAuditActor(event.GuildID, discordgo.AuditLogActionMemberUpdate, event.User.ID, changesTimeout)
	change := auditbridge.Change{
		GuildID:  event.GuildID,
		TargetID: event.User.ID,
		ActorID:  actorID,
		Action:   moderation.ActionTimeout,
		Removal:  removal,
		Reason:   reason,
	}
	if !removal {
		change.ExpiresAt = event.CommunicationDisabledUntil
	}
	b.observe(change)
}

func (b *Bot) observe(change auditbridge.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	outcome, err := b.bridge.Observe(ctx, change)
	if err != nil {
		b.logger.Warn("external change dropped",
			zap.String("guild_id", change.GuildID),
			zap.String("user_id", change.TargetID),
			zap.String("action", string(change.Action)),
			zap.Error(err))
		return
	}
	b.logger.Debug("external change", zap.String("guild_id", change.GuildID), zap.String("user_id", change.TargetID), zap.String("outcome", string(outcome)))
}

// resolveAuditActor finds who performed actionType on targetID within the
// last few seconds, with the reason they gave. A nil accept takes any entry.
func (b *Bot) resolveAuditActor(guildID string, actionType discordgo.AuditLogAction, targetID string, accept func(*discordgo.AuditLogEntry) bool) (string, string) {
	logs, err := b.session.GuildAuditLog(guildID, "", "", int(actionType), 5)
	if err != nil || logs == nil {
		if err != nil {
			b.logger.Debug("audit log unavailable", zap.String("guild_id", guildID), zap.Error(err))
		}
		return "", ""
	}
	return matchAuditEntry(logs.AuditLogEntries, targetID, time.Now(), accept)
}

func matchAuditEntry(entries []*discordgo.AuditLogEntry, targetID string, now time.Time, accept func(*discordgo.AuditLogEntry) bool) (string, string) {
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		if targetID != "" && entry.TargetID != targetID {
			continue
		}
		ts, err := discordgo.SnowflakeTimestamp(entry.ID)
		if err == nil && now.Sub(ts) > auditLookback {
			continue
		}
		if accept != nil && !accept(entry) {
			continue
		}
		return entry.UserID, entry.Reason
	}
	return "", ""
}

// changesTimeout keeps member updates that set or cleared a timeout.
func changesTimeout(entry *discordgo.AuditLogEntry) bool {
	for _, change := range entry.Changes {
		if change != nil && change.Key != nil && *change.Key == discordgo.AuditLogChangeKeyCommunicationDisabledUntil {
			return true
		}
	}
	return false
}

// timeoutChange compares the member's timeout with the ledger. A timeout that
// matches the newest outstanding event is one we already know about.
func timeoutChange(until *time.Time, outstanding []moderation.Event, now time.Time) (changed bool, removal bool) {
	active := until != nil && until.After(now)
	if !active {
		return len(outstanding) > 0, true
	}
	if latest, ok := moderation.Latest(outstanding); ok && latest.ExpiresAt != nil {
		diff := latest.ExpiresAt.Sub(*until)
		if diff < 0 {
			diff = -diff
		}
		if diff <= 2*time.Second {
			return false, false
		}
	}
	return true, false
}

func (b *Bot) guildName(guildID string) string {
	if guild, err := b.session.State.Guild(guildID); err == nil && guild != nil {
		return guild.Name
	}
	if guild, err := b.session.Guild(guildID); err == nil && guild != nil {
		return guild.Name
	}
	return "the server"
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	}); err != nil {
		b.logger.Debug("interaction reply failed", zap.Error(err))
	}
}
