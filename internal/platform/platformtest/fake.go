// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shibe/internal/platform"
)

type Call struct {
	Op      string
	GuildID string
	UserID  string
	Arg     string
}

type Client struct {
	mu       sync.Mutex
	guilds   map[string]platform.Guild
	channels map[string]platform.Channel
	errs     map[string]error
	calls    []Call
	dms      map[string][]string
	messages map[string][]string
	panicOn  map[string]string
}

func New() *Client {
	return &Client{
		guilds:   make(map[string]platform.Guild),
		channels: make(map[string]platform.Channel),
		errs:     make(map[string]error),
		dms:      make(map[string][]string),
		messages: make(map[string][]string),
		panicOn:  make(map[string]string),
	}
}

func (c *Client) AddGuild(id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guilds[id] = platform.Guild{ID: id, Name: name}
}

func (c *Client) RemoveGuild(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.guilds, id)
}

func (c *Client) AddChannel(id, guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[id] = platform.Channel{ID: id, GuildID: guildID}
}

// Fail makes op return err. A nil err clears the failure.
func (c *Client) Fail(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.errs, op)
		return
	}
	c.errs[op] = err
}

// PanicOn makes op panic when called for userID.
func (c *Client) PanicOn(op, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panicOn[op] = userID
}

func (c *Client) Calls(op string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Call
	for _, call := range c.calls {
		if op == "" || call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

func (c *Client) DirectMessages(userID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.dms[userID]...)
}

func (c *Client) ChannelMessages(channelID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages[channelID]...)
}

func (c *Client) record(op, guildID, userID, arg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if target, ok := c.panicOn[op]; ok && target == userID {
		panic(fmt.Sprintf("platformtest: %s %s", op, userID))
	}
	c.calls = append(c.calls, Call{Op: op, GuildID: guildID, UserID: userID, Arg: arg})
	return c.errs[op]
}

func (c *Client) ApplyBan(ctx context.Context, guildID, userID, reason string) error {
	return c.record("ban", guildID, userID, reason)
}

func (c *Client) RemoveBan(ctx context.Context, guildID, userID string) error {
	return c.record("unban", guildID, userID, "")
}

func (c *Client) SetTimeout(ctx context.Context, guildID, userID string, until time.Time) error {
	return c.record("timeout", guildID, userID, until.UTC().Format(time.RFC3339))
}

func (c *Client) ClearTimeout(ctx context.Context, guildID, userID string) error {
	return c.record("clear_timeout", guildID, userID, "")
}

func (c *Client) Kick(ctx context.Context, guildID, userID, reason string) error {
	return c.record("kick", guildID, userID, reason)
}

func (c *Client) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.record("add_role", guildID, userID, roleID)
}

func (c *Client) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.record("remove_role", guildID, userID, roleID)
}

func (c *Client) SendDirectMessage(ctx context.Context, userID, content string) error {
	if err := c.record("dm", "", userID, content); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dms[userID] = append(c.dms[userID], content)
	return nil
}

func (c *Client) ResolveGuild(ctx context.Context, guildID string) (platform.Guild, error) {
	if err := c.record("resolve_guild", guildID, "", ""); err != nil {
		return platform.Guild{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	guild, ok := c.guilds[guildID]
	if !ok {
		return platform.Guild{}, fmt.Errorf("resolve guild %s: %w", guildID, platform.ErrNotFound)
	}
	return guild, nil
}

func (c *Client) ResolveChannel(ctx context.Context, channelID string) (platform.Channel, error) {
	if err := c.record("resolve_channel", "", "", channelID); err != nil {
		return platform.Channel{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	channel, ok := c.channels[channelID]
	if !ok {
		return platform.Channel{}, fmt.Errorf("resolve channel %s: %w", channelID, platform.ErrNotFound)
	}
	return channel, nil
}

func (c *Client) SendChannelMessage(ctx context.Context, channelID, content string) error {
	if err := c.record("send", "", "", channelID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[channelID] = append(c.messages[channelID], content)
	return nil
}
