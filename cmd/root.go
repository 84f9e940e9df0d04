package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/afflux/feedsync/internal/config"
	"github.com/afflux/feedsync/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "feedsync",
	Short: "Affiliate product feed ingestion pipeline",
	Long:  "Pulls affiliate network product feeds (AWIN, CJ, Impact), normalizes and scores every row, and maintains a deduplicated winner catalog in SQLite or Postgres.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// openStore builds the configured store backend. Callers own Close.
func openStore(cmd *cobra.Command) (store.Store, error) {
	return store.New(cmd.Context(), cfg.Store)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
