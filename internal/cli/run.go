package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"shibe/internal/analytics"
	"shibe/internal/auditbridge"
	"shibe/internal/bot"
	"shibe/internal/platform"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and start moderating",
	Args:  cobra.NoArgs,
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	if err := cfg.RequireToken(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.migrate(ctx); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		logger.Fatal("discord session init failed", zap.Error(err))
	}
	discord := platform.NewDiscord(session)

	app, err := newCore(cfg, store, discord, logger)
	if err != nil {
		logger.Fatal("core init failed", zap.Error(err))
	}
	limiter, closeLimiter := newLimiter(ctx, cfg, logger)
	defer closeLimiter()

	bridge := auditbridge.New(app.ledger, app.configs, app.executor, discord.SelfID, logger.Named("auditbridge"))
	botSvc := bot.New(session, bot.Dependencies{
		Service:   app.service,
		Ledger:    app.ledger,
		Configs:   app.configs,
		Bridge:    bridge,
		Analytics: analytics.New(store),
		Limiter:   limiter,
	}, logger.Named("bot"))

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	defer botSvc.Close()
	logger.Info("bot started")

	var ready atomic.Bool
	ready.Store(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := app.reconciler.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.Health.Enabled {
		server := &http.Server{
			Addr:              cfg.Health.Addr,
			Handler:           newOpsRouter(ready.Load),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	ready.Store(false)
	logger.Info("shutdown requested")
	return err
}
