package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Discord implements Client over a discordgo session.
type Discord struct {
	session *discordgo.Session
}

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

// SelfID is the bot's user id, empty until the gateway is ready.
func (d *Discord) SelfID() string {
	if d.session == nil || d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

func (d *Discord) ApplyBan(ctx context.Context, guildID, userID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("ban", d.session.GuildBanCreateWithReason(guildID, userID, reason, 0))
}

func (d *Discord) RemoveBan(ctx context.Context, guildID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("unban", d.session.GuildBanDelete(guildID, userID))
}

func (d *Discord) SetTimeout(ctx context.Context, guildID, userID string, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("timeout", d.session.GuildMemberTimeout(guildID, userID, &until))
}

func (d *Discord) ClearTimeout(ctx context.Context, guildID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("clear timeout", d.session.GuildMemberTimeout(guildID, userID, nil))
}

func (d *Discord) Kick(ctx context.Context, guildID, userID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("kick", d.session.GuildMemberDeleteWithReason(guildID, userID, reason))
}

func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("add role", d.session.GuildMemberRoleAdd(guildID, userID, roleID))
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("remove role", d.session.GuildMemberRoleRemove(guildID, userID, roleID))
}

func (d *Discord) SendDirectMessage(ctx context.Context, userID, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	channel, err := d.session.UserChannelCreate(userID)
	if err != nil {
		return classify("open dm", err)
	}
	_, err = d.session.ChannelMessageSend(channel.ID, content)
	return classify("send dm", err)
}

func (d *Discord) ResolveGuild(ctx context.Context, guildID string) (Guild, error) {
	if err := ctx.Err(); err != nil {
		return Guild{}, err
	}
	if guild, err := d.session.State.Guild(guildID); err == nil && guild != nil {
		return Guild{ID: guild.ID, Name: guild.Name}, nil
	}
	guild, err := d.session.Guild(guildID)
	if err != nil {
		return Guild{}, classify("resolve guild", err)
	}
	return Guild{ID: guild.ID, Name: guild.Name}, nil
}

func (d *Discord) ResolveChannel(ctx context.Context, channelID string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}
	if channel, err := d.session.State.Channel(channelID); err == nil && channel != nil {
		return Channel{ID: channel.ID, GuildID: channel.GuildID, Name: channel.Name}, nil
	}
	channel, err := d.session.Channel(channelID)
	if err != nil {
		return Channel{}, classify("resolve channel", err)
	}
	return Channel{ID: channel.ID, GuildID: channel.GuildID, Name: channel.Name}, nil
}

func (d *Discord) SendChannelMessage(ctx context.Context, channelID, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.session.ChannelMessageSend(channelID, content)
	return classify("send message", err)
}

// classify maps REST 404 and 403 responses onto ErrNotFound and ErrForbidden.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", op, ErrForbidden, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
