package cli

import (
	"fmt"

	"shibe/internal/bot"
	"shibe/internal/platform"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a single expiry pass over the REST API and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()
		if err := cfg.RequireToken(); err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openStore(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.migrate(ctx); err != nil {
			return err
		}

		session, err := bot.NewSession(cfg.DiscordToken)
		if err != nil {
			return err
		}
		app, err := newCore(cfg, store, platform.NewDiscord(session), logger)
		if err != nil {
			return err
		}

		summary, err := app.reconciler.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "due=%d expired=%d reversed=%d abandoned=%d deferred=%d skipped=%d failed=%d\n",
			summary.Due, summary.Expired, summary.Reversed, summary.Abandoned, summary.Deferred, summary.Skipped, summary.Failed)
		return nil
	},
}
