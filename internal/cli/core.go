package cli

import (
	"context"
	"time"

	"shibe/internal/config"
	"shibe/internal/executor"
	"shibe/internal/moderation"
	"shibe/internal/platform"
	"shibe/internal/ratelimit"
	"shibe/internal/reconciler"
	"shibe/internal/report"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type core struct {
	ledger     *moderation.Ledger
	configs    *moderation.GuildConfigs
	executor   *executor.Executor
	service    *moderation.Service
	reconciler *reconciler.Reconciler
}

func newCore(cfg config.Config, store moderation.Store, client platform.Client, logger *zap.Logger) (*core, error) {
	ids, err := moderation.NewSnowflakeIDs(cfg.SnowflakeNode)
	if err != nil {
		return nil, err
	}
	ledger := moderation.NewLedger(store, ids, logger.Named("ledger"))
	configs := moderation.NewGuildConfigs(store, cfg.GuildTemplate())

	exec := executor.New(client, report.New(client, logger.Named("report")), logger.Named("executor"))
	exec.WithNotifications(cfg.Notifications.DMEnabled)

	rec := reconciler.New(ledger, configs, client, exec, reconciler.Config{
		Interval: cfg.Reconciler.Interval,
		Grace:    cfg.Reconciler.Grace,
		Workers:  cfg.Reconciler.Workers,
	}, logger.Named("reconciler"))

	return &core{
		ledger:     ledger,
		configs:    configs,
		executor:   exec,
		service:    moderation.NewService(ledger, configs, exec, logger.Named("moderation")),
		reconciler: rec,
	}, nil
}

// newLimiter prefers redis when configured and reachable, else keeps the
// cooldown in process. The returned func releases the redis client.
func newLimiter(ctx context.Context, cfg config.Config, logger *zap.Logger) (*ratelimit.Limiter, func()) {
	if cfg.RateLimit.Commands <= 0 {
		return nil, func() {}
	}
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := ratelimit.NewRedisStore(client)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		err := store.Ping(pingCtx)
		if err == nil {
			logger.Info("command cooldown backed by redis", zap.String("addr", cfg.Redis.Addr))
			return ratelimit.NewLimiter(store, cfg.RateLimit.Commands, cfg.RateLimit.Window), func() { _ = client.Close() }
		}
		logger.Warn("redis unavailable, using in-process cooldown", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = client.Close()
	}

	store := ratelimit.NewMemoryStore()
	go func() {
		ticker := time.NewTicker(cfg.RateLimit.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.Sweep(cfg.RateLimit.Window)
			}
		}
	}()
	return ratelimit.NewLimiter(store, cfg.RateLimit.Commands, cfg.RateLimit.Window), func() {}
}
