package moderation

import (
	"context"
	"fmt"
)

// GuildConfigs resolves guild settings, seeding new guilds from a template.
type GuildConfigs struct {
	store    GuildConfigStore
	template GuildConfig
}

func NewGuildConfigs(store GuildConfigStore, template GuildConfig) *GuildConfigs {
	return &GuildConfigs{store: store, template: template}
}

func (g *GuildConfigs) Get(ctx context.Context, guildID string) (GuildConfig, error) {
	defaults := g.template
	defaults.GuildID = guildID
	cfg, err := g.store.GetGuildConfig(ctx, guildID, defaults)
	if err != nil {
		return defaults, fmt.Errorf("%w: guild config %s: %w", ErrStoreUnavailable, guildID, err)
	}
	return cfg, nil
}

func (g *GuildConfigs) Save(ctx context.Context, cfg GuildConfig) error {
	if cfg.GuildID == "" {
		return fmt.Errorf("%w: guild id is required", ErrInvalidConfiguration)
	}
	if err := g.store.SaveGuildConfig(ctx, cfg); err != nil {
		return fmt.Errorf("%w: save guild config %s: %w", ErrStoreUnavailable, cfg.GuildID, err)
	}
	return nil
}
