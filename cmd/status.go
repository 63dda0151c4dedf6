package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <documentId>...",
	Short: "Show whether documents were already imported",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		adapter, err := connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer adapter.Close()

		store, closeStore, err := openStore(ctx, cfg, adapter)
		if err != nil {
			return err
		}
		defer closeStore()

		fmt.Printf("📋 Dedup backend: %s\n", cfg.Dedup.Backend)
		for _, id := range args {
			seen, err := store.Seen(ctx, id)
			if err != nil {
				return err
			}
			if seen {
				color.Green("  ✅ %s imported", id)
			} else {
				color.Yellow("  ⏳ %s pending", id)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
