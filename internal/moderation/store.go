package moderation

import (
	"context"
	"time"
)

// Filter narrows ListEvents. Zero fields do not filter.
type Filter struct {
	GuildID  string
	UserID   string
	Action   Action
	Statuses []Status
	// DueBy keeps events with a non-null expiry at or before the given time.
	DueBy *time.Time
	Since *time.Time
	Limit int
}

// EventStore is the durable event log. Results of ListEvents are ordered
// by ID descending.
type EventStore interface {
	// InsertSuperseding revokes the outstanding events of the new event's
	// (guild, user, action) and inserts it in the same transaction. The
	// superseded IDs are returned.
	InsertSuperseding(ctx context.Context, event Event) ([]int64, error)
	// UpdateStatus applies only while the event is outstanding and reports
	// whether a row changed.
	UpdateStatus(ctx context.Context, id int64, to Status, actorID string, at time.Time) (bool, error)
	TransitionOutstanding(ctx context.Context, guildID, userID string, action Action, to Status, actorID string, at time.Time) ([]Event, error)
	GetEvent(ctx context.Context, id int64) (Event, error)
	ListEvents(ctx context.Context, filter Filter) ([]Event, error)
}

// GuildConfigStore persists per-guild settings. GetGuildConfig stores
// defaults on first access.
type GuildConfigStore interface {
	GetGuildConfig(ctx context.Context, guildID string, defaults GuildConfig) (GuildConfig, error)
	SaveGuildConfig(ctx context.Context, cfg GuildConfig) error
}

type Store interface {
	EventStore
	GuildConfigStore
	Close()
}
