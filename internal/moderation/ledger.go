package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SystemActor attributes transitions made by the bot itself, such as expiry.
const SystemActor = "system"

type NewEvent struct {
	GuildID     string
	UserID      string
	ModeratorID string
	Action      Action
	Reason      string
	// Duration is measured from now. Until takes precedence when set.
	Duration time.Duration
	Until    *time.Time
}

// Ledger owns every write to event status.
type Ledger struct {
	store  EventStore
	ids    IDGenerator
	logger *zap.Logger
	now    func() time.Time
}

func NewLedger(store EventStore, ids IDGenerator, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:  store,
		ids:    ids,
		logger: logger,
		now:    time.Now,
	}
}

func (l *Ledger) WithClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

func (l *Ledger) Now() time.Time {
	return l.now()
}

// RecordEvent supersedes any outstanding event of the same kind for the
// user and inserts a fresh ACTIVE one.
func (l *Ledger) RecordEvent(ctx context.Context, in NewEvent) (Event, error) {
	kind, err := LookupKind(in.Action)
	if err != nil {
		return Event{}, err
	}
	now := l.now()
	expiresAt, err := resolveExpiry(kind, now, in.Duration, in.Until)
	if err != nil {
		return Event{}, err
	}

	event := Event{
		ID:          l.ids.NextID(),
		GuildID:     in.GuildID,
		UserID:      in.UserID,
		ModeratorID: in.ModeratorID,
		Action:      in.Action,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		Reason:      in.Reason,
		Status:      StatusActive,
	}

	superseded, err := l.store.InsertSuperseding(ctx, event)
	if err != nil {
		return Event{}, fmt.Errorf("%w: record event: %w", ErrStoreUnavailable, err)
	}
	if len(superseded) > 0 {
		l.logger.Info("events superseded",
			zap.String("guild_id", event.GuildID),
			zap.String("user_id", event.UserID),
			zap.String("action", string(event.Action)),
			zap.Int64s("superseded", superseded),
			zap.Int64("event_id", event.ID))
	}
	return event, nil
}

// ReviseStatus moves an outstanding event to status. It returns false
// without error when the event is already terminal.
func (l *Ledger) ReviseStatus(ctx context.Context, id int64, status Status, actorID string) (bool, error) {
	if !status.Valid() {
		return false, ErrInvalidStatus
	}
	changed, err := l.store.UpdateStatus(ctx, id, status, actorID, l.now())
	if err != nil {
		return false, fmt.Errorf("%w: revise event %d: %w", ErrStoreUnavailable, id, err)
	}
	if !changed {
		l.logger.Debug("status revision skipped", zap.Int64("event_id", id), zap.String("status", string(status)))
	}
	return changed, nil
}

// FindOutstanding lists outstanding events for the user, newest first. An
// empty action matches every kind.
func (l *Ledger) FindOutstanding(ctx context.Context, guildID, userID string, action Action) ([]Event, error) {
	events, err := l.store.ListEvents(ctx, Filter{
		GuildID:  guildID,
		UserID:   userID,
		Action:   action,
		Statuses: OutstandingStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: find outstanding: %w", ErrStoreUnavailable, err)
	}
	return events, nil
}

func (l *Ledger) FindDue(ctx context.Context, now time.Time) ([]Event, error) {
	events, err := l.store.ListEvents(ctx, Filter{
		Statuses: OutstandingStatuses,
		DueBy:    &now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: find due: %w", ErrStoreUnavailable, err)
	}
	return events, nil
}

// RevokeOutstanding revokes every outstanding event of the kind for the user
// and returns them.
func (l *Ledger) RevokeOutstanding(ctx context.Context, guildID, userID string, action Action, actorID string) ([]Event, error) {
	revoked, err := l.store.TransitionOutstanding(ctx, guildID, userID, action, StatusRevoked, actorID, l.now())
	if err != nil {
		return nil, fmt.Errorf("%w: revoke outstanding: %w", ErrStoreUnavailable, err)
	}
	return revoked, nil
}

func (l *Ledger) Get(ctx context.Context, id int64) (Event, error) {
	event, err := l.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("%w: get event %d: %w", ErrStoreUnavailable, id, err)
	}
	return event, nil
}

func (l *Ledger) History(ctx context.Context, guildID, userID string, limit int) ([]Event, error) {
	events, err := l.store.ListEvents(ctx, Filter{GuildID: guildID, UserID: userID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("%w: history: %w", ErrStoreUnavailable, err)
	}
	return events, nil
}

func resolveExpiry(kind Kind, now time.Time, duration time.Duration, until *time.Time) (*time.Time, error) {
	var expiresAt *time.Time
	switch {
	case until != nil:
		if !until.After(now) {
			return nil, ErrInvalidDuration
		}
		value := *until
		expiresAt = &value
	case duration < 0:
		return nil, ErrInvalidDuration
	case duration > 0:
		value := now.Add(duration)
		expiresAt = &value
	}

	if expiresAt == nil {
		if kind.RequiresExpiry {
			return nil, ErrDurationRequired
		}
		return nil, nil
	}
	if !kind.Timed {
		return nil, ErrUnsupportedDuration
	}
	if kind.MaxDuration > 0 && expiresAt.Sub(now) > kind.MaxDuration {
		return nil, ErrDurationTooLong
	}
	return expiresAt, nil
}
