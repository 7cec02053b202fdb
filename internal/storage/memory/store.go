// Package memory holds the in-process store used by tests and the memory driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"shibe/internal/moderation"
)

type Store struct {
	mu     sync.RWMutex
	events map[int64]moderation.Event
	guilds map[string]moderation.GuildConfig
	failMu sync.Mutex
	fail   error
}

func New() *Store {
	return &Store{
		events: make(map[int64]moderation.Event),
		guilds: make(map[string]moderation.GuildConfig),
	}
}

func (s *Store) Close() {}

// SetFailure makes every subsequent call return err until cleared with nil.
func (s *Store) SetFailure(err error) {
	s.failMu.Lock()
	s.fail = err
	s.failMu.Unlock()
}

func (s *Store) failure() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.fail
}

// Put stores an event as is, bypassing supersession.
func (s *Store) Put(event moderation.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = cloneEvent(event)
}

func (s *Store) InsertSuperseding(ctx context.Context, event moderation.Event) ([]int64, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var superseded []int64
	for id, existing := range s.events {
		if !sameTriple(existing, event.GuildID, event.UserID, event.Action) || !existing.Status.Outstanding() {
			continue
		}
		s.events[id] = resolve(existing, moderation.StatusRevoked, event.ModeratorID, event.CreatedAt)
		superseded = append(superseded, id)
	}
	sort.Slice(superseded, func(i, j int) bool { return superseded[i] > superseded[j] })
	s.events[event.ID] = cloneEvent(event)
	return superseded, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, to moderation.Status, actorID string, at time.Time) (bool, error) {
	if err := s.failure(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok || !event.Status.Outstanding() {
		return false, nil
	}
	s.events[id] = resolve(event, to, actorID, at)
	return true, nil
}

func (s *Store) TransitionOutstanding(ctx context.Context, guildID, userID string, action moderation.Action, to moderation.Status, actorID string, at time.Time) ([]moderation.Event, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []moderation.Event
	for id, event := range s.events {
		if !sameTriple(event, guildID, userID, action) || !event.Status.Outstanding() {
			continue
		}
		updated := resolve(event, to, actorID, at)
		s.events[id] = updated
		changed = append(changed, cloneEvent(updated))
	}
	sortDesc(changed)
	return changed, nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (moderation.Event, error) {
	if err := s.failure(); err != nil {
		return moderation.Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return moderation.Event{}, moderation.ErrEventNotFound
	}
	return cloneEvent(event), nil
}

func (s *Store) ListEvents(ctx context.Context, filter moderation.Filter) ([]moderation.Event, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []moderation.Event
	for _, event := range s.events {
		if matches(event, filter) {
			out = append(out, cloneEvent(event))
		}
	}
	sortDesc(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) GetGuildConfig(ctx context.Context, guildID string, defaults moderation.GuildConfig) (moderation.GuildConfig, error) {
	if err := s.failure(); err != nil {
		return moderation.GuildConfig{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg, ok := s.guilds[guildID]; ok {
		return cfg, nil
	}
	defaults.GuildID = guildID
	s.guilds[guildID] = defaults
	return defaults, nil
}

func (s *Store) SaveGuildConfig(ctx context.Context, cfg moderation.GuildConfig) error {
	if err := s.failure(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guilds[cfg.GuildID] = cfg
	return nil
}

func matches(event moderation.Event, filter moderation.Filter) bool {
	if filter.GuildID != "" && event.GuildID != filter.GuildID {
		return false
	}
	if filter.UserID != "" && event.UserID != filter.UserID {
		return false
	}
	if filter.Action != "" && event.Action != filter.Action {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if event.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.DueBy != nil && (event.ExpiresAt == nil || event.ExpiresAt.After(*filter.DueBy)) {
		return false
	}
	if filter.Since != nil && event.CreatedAt.Before(*filter.Since) {
		return false
	}
	return true
}

func sameTriple(event moderation.Event, guildID, userID string, action moderation.Action) bool {
	return event.GuildID == guildID && event.UserID == userID && event.Action == action
}

func resolve(event moderation.Event, to moderation.Status, actorID string, at time.Time) moderation.Event {
	event.Status = to
	event.ResolvedBy = actorID
	resolvedAt := at
	event.ResolvedAt = &resolvedAt
	return event
}

func cloneEvent(event moderation.Event) moderation.Event {
	if event.ExpiresAt != nil {
		value := *event.ExpiresAt
		event.ExpiresAt = &value
	}
	if event.ResolvedAt != nil {
		value := *event.ResolvedAt
		event.ResolvedAt = &value
	}
	return event
}

func sortDesc(events []moderation.Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].ID > events[j].ID })
}
