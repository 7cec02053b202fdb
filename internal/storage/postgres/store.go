package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"shibe/internal/moderation"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

const eventColumns = `id, guild_id, user_id, moderator_id, action, created_at, expires_at, reason, status, resolved_by, resolved_at`

type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MinConns = 0
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	return pool, nil
}

func New(pool *pgxpool.Pool, timeout time.Duration) *Store {
	return &Store{pool: pool, timeout: timeout}
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error {
	if pool == nil {
		return errors.New("postgres pool is nil")
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func (s *Store) InsertSuperseding(ctx context.Context, event moderation.Event) ([]int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var ids []int64
	err := WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		// Serializes writers of the same subject so the revoke below sees
		// any outstanding row a concurrent transaction just committed.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, subjectKey(event.GuildID, event.UserID, event.Action)); err != nil {
			return fmt.Errorf("lock mod event subject: %w", err)
		}
		superseded, err := transitionOutstanding(ctx, tx, event.GuildID, event.UserID, event.Action, moderation.StatusRevoked, event.ModeratorID, event.CreatedAt)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO mod_events (`+eventColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`,
			event.ID,
			event.GuildID,
			event.UserID,
			event.ModeratorID,
			string(event.Action),
			event.CreatedAt,
			event.ExpiresAt,
			event.Reason,
			string(event.Status),
			event.ResolvedBy,
			event.ResolvedAt,
		); err != nil {
			return fmt.Errorf("insert mod event: %w", err)
		}
		for _, revoked := range superseded {
			ids = append(ids, revoked.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func subjectKey(guildID, userID string, action moderation.Action) string {
	return guildID + ":" + userID + ":" + string(action)
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, to moderation.Status, actorID string, at time.Time) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
UPDATE mod_events SET status = $1, resolved_by = $2, resolved_at = $3
WHERE id = $4 AND status = ANY($5)
`, string(to), actorID, at, id, outstanding())
	if err != nil {
		return false, fmt.Errorf("update mod event status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) TransitionOutstanding(ctx context.Context, guildID, userID string, action moderation.Action, to moderation.Status, actorID string, at time.Time) ([]moderation.Event, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var events []moderation.Event
	err := WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		events, err = transitionOutstanding(ctx, tx, guildID, userID, action, to, actorID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (moderation.Event, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM mod_events WHERE id = $1`, id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return moderation.Event{}, moderation.ErrEventNotFound
		}
		return moderation.Event{}, fmt.Errorf("get mod event: %w", err)
	}
	return event, nil
}

func (s *Store) ListEvents(ctx context.Context, filter moderation.Filter) ([]moderation.Event, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var where []string
	var args []any
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.GuildID != "" {
		where = append(where, "guild_id = "+arg(filter.GuildID))
	}
	if filter.UserID != "" {
		where = append(where, "user_id = "+arg(filter.UserID))
	}
	if filter.Action != "" {
		where = append(where, "action = "+arg(string(filter.Action)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if filter.DueBy != nil {
		where = append(where, "expires_at IS NOT NULL AND expires_at <= "+arg(*filter.DueBy))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= "+arg(*filter.Since))
	}

	query := `SELECT ` + eventColumns + ` FROM mod_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mod events: %w", err)
	}
	return collectEvents(rows)
}

func (s *Store) GetGuildConfig(ctx context.Context, guildID string, defaults moderation.GuildConfig) (moderation.GuildConfig, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `
INSERT INTO guild_configs (guild_id, action_channel_id, log_external_mod_events, mod_commands_enabled, mute_role_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (guild_id) DO NOTHING
`, guildID, defaults.ActionChannelID, defaults.LogExternalModEvents, defaults.ModCommandsEnabled, defaults.MuteRoleID); err != nil {
		return moderation.GuildConfig{}, fmt.Errorf("seed guild config: %w", err)
	}

	cfg := moderation.GuildConfig{GuildID: guildID}
	if err := s.pool.QueryRow(ctx, `
SELECT action_channel_id, log_external_mod_events, mod_commands_enabled, mute_role_id
FROM guild_configs WHERE guild_id = $1
`, guildID).Scan(&cfg.ActionChannelID, &cfg.LogExternalModEvents, &cfg.ModCommandsEnabled, &cfg.MuteRoleID); err != nil {
		return moderation.GuildConfig{}, fmt.Errorf("get guild config: %w", err)
	}
	return cfg, nil
}

func (s *Store) SaveGuildConfig(ctx context.Context, cfg moderation.GuildConfig) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `
INSERT INTO guild_configs (guild_id, action_channel_id, log_external_mod_events, mod_commands_enabled, mute_role_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (guild_id) DO UPDATE SET
	action_channel_id = EXCLUDED.action_channel_id,
	log_external_mod_events = EXCLUDED.log_external_mod_events,
	mod_commands_enabled = EXCLUDED.mod_commands_enabled,
	mute_role_id = EXCLUDED.mute_role_id
`, cfg.GuildID, cfg.ActionChannelID, cfg.LogExternalModEvents, cfg.ModCommandsEnabled, cfg.MuteRoleID); err != nil {
		return fmt.Errorf("save guild config: %w", err)
	}
	return nil
}

func transitionOutstanding(ctx context.Context, tx pgx.Tx, guildID, userID string, action moderation.Action, to moderation.Status, actorID string, at time.Time) ([]moderation.Event, error) {
	rows, err := tx.Query(ctx, `
UPDATE mod_events SET status = $1, resolved_by = $2, resolved_at = $3
WHERE guild_id = $4 AND user_id = $5 AND action = $6 AND status = ANY($7)
RETURNING `+eventColumns, string(to), actorID, at, guildID, userID, string(action), outstanding())
	if err != nil {
		return nil, fmt.Errorf("transition outstanding: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID > events[j].ID })
	return events, nil
}

func collectEvents(rows pgx.Rows) ([]moderation.Event, error) {
	defer rows.Close()

	var events []moderation.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mod event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mod events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (moderation.Event, error) {
	var event moderation.Event
	var action, status string
	err := row.Scan(
		&event.ID,
		&event.GuildID,
		&event.UserID,
		&event.ModeratorID,
		&action,
		&event.CreatedAt,
		&event.ExpiresAt,
		&event.Reason,
		&status,
		&event.ResolvedBy,
		&event.ResolvedAt,
	)
	if err != nil {
		return moderation.Event{}, err
	}
	event.Action = moderation.Action(action)
	event.Status = moderation.Status(status)
	return event, nil
}

func outstanding() []string {
	statuses := make([]string, 0, len(moderation.OutstandingStatuses))
	for _, status := range moderation.OutstandingStatuses {
		statuses = append(statuses, string(status))
	}
	return statuses
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
