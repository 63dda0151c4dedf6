package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	Version = "0.4.0"
)

func showBanner() {
	greenColor := color.New(color.FgGreen, color.Bold)

	banner := []string{
		"╔══════════════════════════════════════════════╗",
		"║   ___  ___  _  __  _                     _   ║",
		"║  / _ \\|   \\| |/ / (_)_ __  _ __  ___ _ _| |_ ║",
		"║ | (_) | |) | ' <  | | '  \\| '_ \\/ _ \\ '_|  _|║",
		"║  \\___/|___/|_|\\_\\ |_|_|_|_| .__/\\___/_|  \\__|║",
		"║                           |_|                ║",
		"║     Submissions to relational rows           ║",
		"╚══════════════════════════════════════════════╝",
	}

	for _, line := range banner {
		greenColor.Println(line)
	}

	fmt.Print("              ")
	color.New(color.FgCyan, color.Bold).Print("Version: ")
	color.New(color.FgYellow, color.Bold).Printf("%s\n", Version)
}

var rootCmd = &cobra.Command{
	Use:   "odkimport",
	Short: "Import ODK submission documents into a relational database",
	Long: `
odkimport reads completed survey submissions (JSON documents) and writes
them into the tables described by an import manifest. Each document is
imported in a single transaction: either every row lands or none does.

Database Support:
- MySQL
- PostgreSQL
- SQLite`,

	Run: func(cmd *cobra.Command, args []string) {
		showVersion, _ := cmd.Flags().GetBool("version")
		if showVersion {
			fmt.Printf("odkimport version %s\n", Version)
			os.Exit(0)
		}

		if len(args) == 0 {
			showBanner()
			fmt.Println()
			cmd.Help()
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./odkimport.config.json)")
	rootCmd.Flags().BoolP("version", "v", false, "Show CLI version")
}

func initConfig() {
	if err := godotenv.Load(); err != nil {
		godotenv.Load(".env")
		godotenv.Load(".env.local")
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("json")
		viper.SetConfigName("odkimport.config")
	}

	viper.AutomaticEnv()

	viper.ReadInConfig()
}
