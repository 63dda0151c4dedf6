package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ilri/odktools-sub000/internal/config"
)

var (
	sqliteFlag     bool
	postgresqlFlag bool
	mysqlFlag      bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default odkimport.config.json",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		flagCount := 0

		if sqliteFlag {
			cfg.Database.Provider = "sqlite"
			flagCount++
		}
		if postgresqlFlag {
			cfg.Database.Provider = "postgresql"
			flagCount++
		}
		if mysqlFlag {
			cfg.Database.Provider = "mysql"
			flagCount++
		}

		if flagCount > 1 {
			return fmt.Errorf("please specify only one database type (--sqlite, --postgresql, or --mysql)")
		}

		if err := cfg.Write(config.FileName); err != nil {
			return err
		}

		color.Green("✅ Created %s", config.FileName)
		fmt.Printf("💡 Set %s to your database URL and import.manifest to your manifest file\n", cfg.Database.URLEnv)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&sqliteFlag, "sqlite", false, "Configure for SQLite")
	initCmd.Flags().BoolVar(&postgresqlFlag, "postgresql", false, "Configure for PostgreSQL")
	initCmd.Flags().BoolVar(&mysqlFlag, "mysql", false, "Configure for MySQL")
}
