// datadock - dashboard data loader.
// Fetches module files from a remote repository (or local disk, or S3),
// keeps a disk cache with staleness detection, and decodes the files
// into tables.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/datadock/datadock/pkg/config"
	"github.com/datadock/datadock/pkg/log"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	configFile string
	logLevel   string

	manager = config.NewManager()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "datadock",
	Short: "datadock - cached data loading for dashboards",
	Long: `datadock loads dashboard module files from a remote repository,
local disk, or S3, caches remote files on disk, and keeps the cache
fresh by comparing stored version identifiers against the remote.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real environments set variables directly.
		_ = godotenv.Load()

		if err := manager.Load(configFile); err != nil {
			return err
		}
		level := manager.Get().Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		return log.SetLevelFromString(level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(watchCmd)
}
