package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()

		store, err := openStore(cmd.Context(), cfg.Database, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.migrate(cmd.Context()); err != nil {
			return err
		}
		logger.Info("migrations applied", zap.String("driver", cfg.Database.Driver))
		return nil
	},
}
