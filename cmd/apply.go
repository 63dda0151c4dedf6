package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ilri/odktools-sub000/internal/database/common"
)

var applyCmd = &cobra.Command{
	Use:   "apply <schema.sql>",
	Short: "Create the survey tables from a DDL script",
	Long: `Execute a DDL script, such as the create script produced alongside the
manifest, against the configured database. All statements run in one
transaction.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		script, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}

		statements := common.ParseSQLStatements(string(script))
		if len(statements) == 0 {
			fmt.Println("✅ Nothing to apply")
			return nil
		}
		fmt.Printf("📋 Found %d statement(s) in %s\n", len(statements), args[0])

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Print("\nDo you want to apply them? (yes/no): ")
			reader := bufio.NewReader(os.Stdin)
			response, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "yes" && response != "y" {
				fmt.Println("❌ Cancelled")
				return nil
			}
		}

		ctx := context.Background()
		adapter, err := connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer adapter.Close()

		n, err := common.ApplyScript(ctx, adapter.DB(), string(script))
		if err != nil {
			return err
		}

		color.Green("🎉 Applied %d statement(s)", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().BoolP("force", "f", false, "Skip confirmation")
}
