// Command sct runs and administers the StupidCaloriesTracker sync engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/config"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/logging"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/ui"
)

var (
	configPath string
	dbPath     string
	noColor    bool
	quiet      bool

	loader *config.Loader
	cfg    *config.Config
	logs   *logging.Logs
)

var rootCmd = &cobra.Command{
	Use:   "sct",
	Short: "Local-first sync engine for StupidCaloriesTracker",
	Long: `sct keeps the local tracker database in sync with the remote store.

Local writes are queued and pushed in order; remote changes are pulled
incrementally from a watermark cursor. Run 'sct daemon' to sync in the
background, or 'sct sync' for a single cycle.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.DisableColor()
		}

		var err error
		loader, err = config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if dbPath != "" {
			if err := loader.Set("db.path", dbPath); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		if quiet {
			if err := loader.Set("log.quiet", true); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		cfg = loader.Config()

		logs = logging.New(logging.Config{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
			Quiet:      cfg.Log.Quiet,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: .sct/config.* or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Local database path (overrides db.path)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress log output on stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "admin", Title: "Maintenance:"},
		&cobra.Group{ID: "data", Title: "Local data:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
