package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"shibe/internal/moderation"
)

const eventColumns = `id, guild_id, user_id, moderator_id, action, created_at, expires_at, reason, status, resolved_by, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) InsertSuperseding(ctx context.Context, event moderation.Event) (ids []int64, err error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	superseded, err := transitionOutstanding(ctx, tx, event.GuildID, event.UserID, event.Action, moderation.StatusRevoked, event.ModeratorID, event.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mod_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.GuildID,
		event.UserID,
		event.ModeratorID,
		string(event.Action),
		event.CreatedAt.UnixMilli(),
		nullMillis(event.ExpiresAt),
		event.Reason,
		string(event.Status),
		event.ResolvedBy,
		nullMillis(event.ResolvedAt),
	)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}

	for _, revoked := range superseded {
		ids = append(ids, revoked.ID)
	}
	return ids, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, to moderation.Status, actorID string, at time.Time) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	query, args := outstandingClause(`
		UPDATE mod_events SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status IN (%s)`, string(to), actorID, at.UnixMilli(), id)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) TransitionOutstanding(ctx context.Context, guildID, userID string, action moderation.Action, to moderation.Status, actorID string, at time.Time) (events []moderation.Event, err error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	events, err = transitionOutstanding(ctx, tx, guildID, userID, action, to, actorID, at)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (moderation.Event, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM mod_events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return moderation.Event{}, moderation.ErrEventNotFound
		}
		return moderation.Event{}, err
	}
	return event, nil
}

func (s *Store) ListEvents(ctx context.Context, filter moderation.Filter) ([]moderation.Event, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var where []string
	var args []any
	if filter.GuildID != "" {
		where = append(where, "guild_id = ?")
		args = append(args, filter.GuildID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(filter.Action))
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if filter.DueBy != nil {
		where = append(where, "expires_at IS NOT NULL AND expires_at <= ?")
		args = append(args, filter.DueBy.UnixMilli())
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UnixMilli())
	}

	query := `SELECT ` + eventColumns + ` FROM mod_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return queryEvents(ctx, s.db, query, args...)
}

func transitionOutstanding(ctx context.Context, tx *sql.Tx, guildID, userID string, action moderation.Action, to moderation.Status, actorID string, at time.Time) ([]moderation.Event, error) {
	query, args := outstandingClause(`SELECT `+eventColumns+` FROM mod_events
		WHERE guild_id = ? AND user_id = ? AND action = ? AND status IN (%s)
		ORDER BY id DESC`, guildID, userID, string(action))
	events, err := queryEvents(ctx, tx, query, args...)
	if err != nil || len(events) == 0 {
		return nil, err
	}

	query, args = outstandingClause(`
		UPDATE mod_events SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE guild_id = ? AND user_id = ? AND action = ? AND status IN (%s)`,
		string(to), actorID, at.UnixMilli(), guildID, userID, string(action))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}

	resolvedAt := at
	for i := range events {
		events[i].Status = to
		events[i].ResolvedBy = actorID
		events[i].ResolvedAt = &resolvedAt
	}
	return events, nil
}

func queryEvents(ctx context.Context, q queryer, query string, args ...any) ([]moderation.Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []moderation.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(row rowScanner) (moderation.Event, error) {
	var event moderation.Event
	var action, status string
	var created int64
	var expires, resolved sql.NullInt64
	err := row.Scan(
		&event.ID,
		&event.GuildID,
		&event.UserID,
		&event.ModeratorID,
		&action,
		&created,
		&expires,
		&event.Reason,
		&status,
		&event.ResolvedBy,
		&resolved,
	)
	if err != nil {
		return moderation.Event{}, err
	}
	event.Action = moderation.Action(action)
	event.Status = moderation.Status(status)
	event.CreatedAt = time.UnixMilli(created)
	event.ExpiresAt = fromMillis(expires)
	event.ResolvedAt = fromMillis(resolved)
	return event, nil
}

// outstandingClause fills the single %s in query with one placeholder per
// outstanding status and appends the statuses to args.
func outstandingClause(query string, args ...any) (string, []any) {
	query = strings.Replace(query, "%s", placeholders(len(moderation.OutstandingStatuses)), 1)
	for _, status := range moderation.OutstandingStatuses {
		args = append(args, string(status))
	}
	return query, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := time.UnixMilli(value.Int64)
	return &t
}
