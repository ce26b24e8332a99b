package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/loadtest"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Load test the sync engine with concurrent writers",
	Long: `Run concurrent local writers against back-to-back sync cycles on a
scratch database and an in-memory remote, then check that every change
reached the remote exactly once.

Your real database is never touched.

Examples:
  # Default: 8 writers, 100 writes each
  sct bench

  # Heavier run, output as JSON
  sct bench --writers 32 --writes 500 --format json
`,
	Run: runBench,
}

func init() {
	benchCmd.Flags().Int("writers", 8, "Number of concurrent writers")
	benchCmd.Flags().Int("writes", 100, "Writes per writer")
	benchCmd.Flags().Int("update-every", 4, "Make every Nth write an update (negative disables)")
	benchCmd.Flags().String("table", "logs", "Table to write to")
	addFormatFlag(benchCmd)
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) {
	writers, _ := cmd.Flags().GetInt("writers")
	writes, _ := cmd.Flags().GetInt("writes")
	updateEvery, _ := cmd.Flags().GetInt("update-every")
	table, _ := cmd.Flags().GetString("table")

	if writers <= 0 {
		fatal("--writers must be positive")
	}
	if writes <= 0 {
		fatal("--writes must be positive")
	}

	dir, err := os.MkdirTemp("", "sct-bench-")
	if err != nil {
		fatal("creating scratch directory: %v", err)
	}
	defer os.RemoveAll(dir)

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Fprintf(os.Stderr, "%s Running %d writers × %d writes...\n", ui.RenderAccent("⏱"), writers, writes)
	result, err := loadtest.Run(ctx, filepath.Join(dir, "bench.db"), &loadtest.Config{
		Writers:         writers,
		WritesPerWriter: writes,
		UpdateEvery:     updateEvery,
		Table:           table,
		Logger:          logs.Logger("bench"),
	})
	if result == nil {
		fatal("%v", err)
	}

	if !printStructured(cmd, result) {
		result.Writes.PrintStats(os.Stdout)
		fmt.Println()
		ui.KV(os.Stdout, [][2]string{
			{"Creates", fmt.Sprint(result.Creates)},
			{"Updates", fmt.Sprint(result.Updates)},
			{"Sync cycles", fmt.Sprintf("%d (+%d drain)", result.Cycles, result.DrainCycles)},
			{"Pushed", fmt.Sprint(result.Pushed)},
			{"Pulled", fmt.Sprint(result.Pulled)},
			{"Local / remote", fmt.Sprintf("%d / %d", result.LocalRecords, result.RemoteRows)},
			{"Elapsed", result.Elapsed.String()},
		})
	}

	if err != nil {
		if errors.Is(err, loadtest.ErrLostWrites) {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%s No lost writes\n", ui.RenderPass("✓"))
}
