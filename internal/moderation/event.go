package moderation

import "time"

type Action string

const (
	ActionWarn    Action = "WARN"
	ActionMute    Action = "MUTE"
	ActionKick    Action = "KICK"
	ActionBan     Action = "BAN"
	ActionTimeout Action = "TIMEOUT"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusAppealed Status = "APPEALED"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
	StatusPDenied  Status = "PDENIED"
	StatusRevoked  Status = "REVOKED"
	StatusExpired  Status = "EXPIRED"
)

// OutstandingStatuses are the statuses still in effect for reconciliation.
var OutstandingStatuses = []Status{StatusActive, StatusAppealed, StatusDenied}

func (s Status) Outstanding() bool {
	switch s {
	case StatusActive, StatusAppealed, StatusDenied:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusAppealed, StatusApproved, StatusDenied, StatusPDenied, StatusRevoked, StatusExpired:
		return true
	default:
		return false
	}
}

// Event is a single ledger entry. Events are never deleted; only Status,
// ResolvedBy and ResolvedAt change after creation.
type Event struct {
	ID          int64
	GuildID     string
	UserID      string
	ModeratorID string
	Action      Action
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Reason      string
	Status      Status
	ResolvedBy  string
	ResolvedAt  *time.Time
}

// Due reports whether the event has an expiry at or before now and is still outstanding.
func (e Event) Due(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now) && e.Status.Outstanding()
}

func (e Event) ReasonOrDefault() string {
	if e.Reason == "" {
		return "No reason provided"
	}
	return e.Reason
}

type GuildConfig struct {
	GuildID              string
	ActionChannelID      string
	LogExternalModEvents bool
	MuteRoleID           string
	ModCommandsEnabled   bool
}

func DefaultGuildConfig(guildID string) GuildConfig {
	return GuildConfig{
		GuildID:              guildID,
		LogExternalModEvents: true,
		ModCommandsEnabled:   true,
	}
}

// Latest returns the event with the highest ID, or false when events is empty.
func Latest(events []Event) (Event, bool) {
	if len(events) == 0 {
		return Event{}, false
	}
	latest := events[0]
	for _, event := range events[1:] {
		if event.ID > latest.ID {
			latest = event
		}
	}
	return latest, true
}
