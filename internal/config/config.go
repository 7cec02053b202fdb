package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"shibe/internal/moderation"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string           `yaml:"discord_token"`
	LogLevel      string           `yaml:"log_level"`
	SnowflakeNode int64            `yaml:"snowflake_node"`
	Database      DatabaseConfig   `yaml:"database"`
	Reconciler    ReconcilerConfig `yaml:"reconciler"`
	Health        HealthConfig     `yaml:"health"`
	Redis         RedisConfig      `yaml:"redis"`
	RateLimit     RateLimitConfig  `yaml:"ratelimit"`
	Notifications NotifyConfig     `yaml:"notifications"`
	GuildDefaults GuildDefaults    `yaml:"guild_defaults"`
}

type DatabaseConfig struct {
	// Driver is sqlite, postgres or memory.
	Driver  string        `yaml:"driver"`
	Path    string        `yaml:"path"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ReconcilerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Grace    time.Duration `yaml:"grace"`
	Workers  int           `yaml:"workers"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RedisConfig selects the shared command cooldown store. An empty Addr keeps
// the cooldown in process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimitConfig struct {
	Commands int           `yaml:"commands"`
	Window   time.Duration `yaml:"window"`
}

type NotifyConfig struct {
	DMEnabled bool `yaml:"dm_enabled"`
}

type GuildDefaults struct {
	LogExternalModEvents bool `yaml:"log_external_mod_events"`
	ModCommandsEnabled   bool `yaml:"mod_commands_enabled"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Path:    "/data/shibe.db",
			Timeout: 1500 * time.Millisecond,
		},
		Reconciler: ReconcilerConfig{
			Interval: 60 * time.Second,
			Grace:    24 * time.Hour,
			Workers:  4,
		},
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		RateLimit:     RateLimitConfig{Commands: 5, Window: 10 * time.Second},
		Notifications: NotifyConfig{DMEnabled: true},
		GuildDefaults: GuildDefaults{LogExternalModEvents: true, ModCommandsEnabled: true},
	}
}

// Load reads defaults, then CONFIG_PATH (default config.yaml) if present,
// then environment overrides.
func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %w", moderation.ErrInvalidConfiguration, path, err)
		}
	}

	applyEnv(&cfg)
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return invalid("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return invalid("database.url is required for postgres")
		}
	case "memory":
	default:
		return invalid("database.driver must be sqlite, postgres or memory, got %q", c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return invalid("database.timeout must be positive")
	}
	if c.Reconciler.Interval <= 0 {
		return invalid("reconciler.interval must be positive")
	}
	if c.Reconciler.Grace < 0 {
		return invalid("reconciler.grace must not be negative")
	}
	if c.Reconciler.Workers <= 0 {
		return invalid("reconciler.workers must be positive")
	}
	if c.RateLimit.Commands < 0 {
		return invalid("ratelimit.commands must not be negative")
	}
	if c.RateLimit.Commands > 0 && c.RateLimit.Window <= 0 {
		return invalid("ratelimit.window must be positive")
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		return invalid("snowflake_node must be between 0 and 1023")
	}
	return nil
}

// RequireToken fails when no bot token is configured.
func (c Config) RequireToken() error {
	if c.DiscordToken == "" {
		return invalid("DISCORD_TOKEN is required")
	}
	return nil
}

func (c Config) GuildTemplate() moderation.GuildConfig {
	cfg := moderation.DefaultGuildConfig("")
	cfg.LogExternalModEvents = c.GuildDefaults.LogExternalModEvents
	cfg.ModCommandsEnabled = c.GuildDefaults.ModCommandsEnabled
	return cfg
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", moderation.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.SnowflakeNode = int64(envInt("SNOWFLAKE_NODE", int(cfg.SnowflakeNode)))
	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.Path = envString("DATABASE_PATH", cfg.Database.Path)
	cfg.Database.URL = envString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.Timeout = envDuration("DATABASE_TIMEOUT", cfg.Database.Timeout)
	cfg.Reconciler.Interval = envDuration("RECONCILER_INTERVAL", cfg.Reconciler.Interval)
	cfg.Reconciler.Grace = envDuration("RECONCILER_GRACE", cfg.Reconciler.Grace)
	cfg.Reconciler.Workers = envInt("RECONCILER_WORKERS", cfg.Reconciler.Workers)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Redis.Addr = envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("REDIS_DB", cfg.Redis.DB)
	cfg.RateLimit.Commands = envInt("RATELIMIT_COMMANDS", cfg.RateLimit.Commands)
	cfg.RateLimit.Window = envDuration("RATELIMIT_WINDOW", cfg.RateLimit.Window)
	cfg.Notifications.DMEnabled = envBool("DM_ENABLED", cfg.Notifications.DMEnabled)
	cfg.GuildDefaults.LogExternalModEvents = envBool("LOG_EXTERNAL_MOD_EVENTS", cfg.GuildDefaults.LogExternalModEvents)
	cfg.GuildDefaults.ModCommandsEnabled = envBool("MOD_COMMANDS_ENABLED", cfg.GuildDefaults.ModCommandsEnabled)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
