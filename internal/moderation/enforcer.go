package moderation

import (
	"context"
	"time"
)

// Sanction is a platform-side moderation action.
type Sanction struct {
	GuildID     string
	UserID      string
	ModeratorID string
	Action      Action
	Reason      string
	ExpiresAt   *time.Time
	MuteRoleID  string
}

// Report is an action-channel summary of one ledger change.
type Report struct {
	GuildID     string
	ChannelID   string
	Title       string
	UserID      string
	ModeratorID string
	Reason      string
	ExpiresAt   *time.Time
	EventID     int64
	// EventLabel prefixes the event ID in the footer. Defaults to "Event ID".
	EventLabel string
	// Unlogged marks reports for actions that took effect without a ledger entry.
	Unlogged bool
	// Note is appended as a warning line.
	Note string
}

// Enforcer carries out sanctions on the platform. Notify is best effort.
// Report returns why the action channel could not be used, nil when the
// report was delivered or no channel is configured.
type Enforcer interface {
	Apply(ctx context.Context, sanction Sanction) error
	Reverse(ctx context.Context, sanction Sanction) error
	Notify(ctx context.Context, userID, message string)
	Report(ctx context.Context, report Report) error
}
