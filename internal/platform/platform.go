// Package platform wraps the chat platform behind the narrow surface the
// moderation core needs.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("platform resource not found")
	ErrForbidden = errors.New("platform action forbidden")
)

type Guild struct {
	ID   string
	Name string
}

type Channel struct {
	ID      string
	GuildID string
	Name    string
}

type Client interface {
	ApplyBan(ctx context.Context, guildID, userID, reason string) error
	RemoveBan(ctx context.Context, guildID, userID string) error
	SetTimeout(ctx context.Context, guildID, userID string, until time.Time) error
	ClearTimeout(ctx context.Context, guildID, userID string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	SendDirectMessage(ctx context.Context, userID, content string) error
	ResolveGuild(ctx context.Context, guildID string) (Guild, error)
	ResolveChannel(ctx context.Context, channelID string) (Channel, error)
	SendChannelMessage(ctx context.Context, channelID, content string) error
}
