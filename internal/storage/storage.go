package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"shibe/internal/moderation"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const defaultTimeout = 1500 * time.Millisecond

type Store struct {
	db      *sql.DB
	timeout time.Duration
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	return &Store{db: db, timeout: defaultTimeout}, nil
}

// WithTimeout bounds every store call. Zero disables the bound.
func (s *Store) WithTimeout(timeout time.Duration) {
	s.timeout = timeout
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
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
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) GetGuildConfig(ctx context.Context, guildID string, defaults moderation.GuildConfig) (moderation.GuildConfig, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO guild_configs (guild_id, action_channel_id, log_external_mod_events, mod_commands_enabled, mute_role_id)
		VALUES (?, ?, ?, ?, ?)
	`, guildID, defaults.ActionChannelID, boolToInt(defaults.LogExternalModEvents), boolToInt(defaults.ModCommandsEnabled), defaults.MuteRoleID)
	if err != nil {
		return moderation.GuildConfig{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT action_channel_id, log_external_mod_events, mod_commands_enabled, mute_role_id
		FROM guild_configs WHERE guild_id = ?`, guildID)

	result := moderation.GuildConfig{GuildID: guildID}
	var logExternal, commands int
	if err := row.Scan(&result.ActionChannelID, &logExternal, &commands, &result.MuteRoleID); err != nil {
		return moderation.GuildConfig{}, err
	}
	result.LogExternalModEvents = logExternal == 1
	result.ModCommandsEnabled = commands == 1
	return result, nil
}

func (s *Store) SaveGuildConfig(ctx context.Context, cfg moderation.GuildConfig) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_configs (guild_id, action_channel_id, log_external_mod_events, mod_commands_enabled, mute_role_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			action_channel_id = excluded.action_channel_id,
			log_external_mod_events = excluded.log_external_mod_events,
			mod_commands_enabled = excluded.mod_commands_enabled,
			mute_role_id = excluded.mute_role_id
	`,
		cfg.GuildID,
		cfg.ActionChannelID,
		boolToInt(cfg.LogExternalModEvents),
		boolToInt(cfg.ModCommandsEnabled),
		cfg.MuteRoleID,
	)
	return err
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
