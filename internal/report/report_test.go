package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"shibe/internal/moderation"
	"shibe/internal/platform"
)

type fakeSender struct {
	channels map[string]platform.Channel
	sendErr  error
	sent     map[string][]string
}

func (f *fakeSender) ResolveChannel(ctx context.Context, channelID string) (platform.Channel, error) {
	channel, ok := f.channels[channelID]
	if !ok {
		return platform.Channel{}, fmt.Errorf("resolve channel: %w", platform.ErrNotFound)
	}
	return channel, nil
}

func (f *fakeSender) SendChannelMessage(ctx context.Context, channelID, content string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.sent == nil {
		f.sent = make(map[string][]string)
	}
	f.sent[channelID] = append(f.sent[channelID], content)
	return nil
}

func TestFormatExpiredBan(t *testing.T) {
	text := Format(moderation.Report{Title: "Ban Expired", UserID: "u1", ModeratorID: moderation.SystemActor, EventID: 42, EventLabel: "Expired Event ID"})
	for _, want := range []string{"**Ban Expired**", "<@u1>", "Reason: No reason provided", "Expired Event ID: 42"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
	if strings.Contains(text, "Moderator") {
		t.Fatalf("system actor must not be listed as moderator: %q", text)
	}
}

func TestFormatTimeout(t *testing.T) {
	expires := time.Unix(1_700_000_600, 0)
	text := Format(moderation.Report{Title: "Timeout", UserID: "u1", ModeratorID: "m1", Reason: "spam", ExpiresAt: &expires, EventID: 7, Unlogged: true})
	for _, want := range []string{"Moderator: <@m1>", "<t:1700000600:R>", "Reason: spam", "Event ID: 7", "temporary issue"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
}

func TestFormatNote(t *testing.T) {
	text := Format(moderation.Report{Title: "Ban Expired", UserID: "u1", EventID: 3, Note: "Automatic reversal failed. Lift the ban manually."})
	if !strings.HasSuffix(text, "\n:warning: Automatic reversal failed. Lift the ban manually.") {
		t.Fatalf("expected note as the last line, got %q", text)
	}
}

func TestSendSkipsWithoutChannel(t *testing.T) {
	sender := &fakeSender{}
	if err := New(sender, nil).Send(context.Background(), moderation.Report{GuildID: "g1", Title: "Kick"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestSendResolvesChannel(t *testing.T) {
	sender := &fakeSender{channels: map[string]platform.Channel{
		"c1": {ID: "c1", GuildID: "g1"},
		"c2": {ID: "c2", GuildID: "g2"},
	}}
	reporter := New(sender, nil)
	ctx := context.Background()

	if err := reporter.Send(ctx, moderation.Report{GuildID: "g1", ChannelID: "c1", Title: "Kick", UserID: "u1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sender.sent["c1"]) != 1 {
		t.Fatalf("expected one message in c1, got %v", sender.sent)
	}

	err := reporter.Send(ctx, moderation.Report{GuildID: "g1", ChannelID: "gone", Title: "Kick"})
	if !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(Warning(err), "no longer exists") {
		t.Fatalf("unexpected warning %q", Warning(err))
	}

	if err := reporter.Send(ctx, moderation.Report{GuildID: "g1", ChannelID: "c2", Title: "Kick"}); !errors.Is(err, ErrChannelMismatch) {
		t.Fatalf("expected ErrChannelMismatch, got %v", err)
	}

	sender.sendErr = fmt.Errorf("send message: %w", platform.ErrForbidden)
	err = reporter.Send(ctx, moderation.Report{GuildID: "g1", ChannelID: "c1", Title: "Kick"})
	if !strings.Contains(Warning(err), "permission") {
		t.Fatalf("unexpected warning %q", Warning(err))
	}
}
