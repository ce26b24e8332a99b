package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/syncer"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle (push then pull)",
	Long: `Run a single sync cycle against the configured remote.

The cycle:
  1. Pushes queued local changes in the order they were made
  2. Pulls remote changes newer than the cursor into the local database
  3. Advances the cursor

A push failure leaves the failed change at the head of the queue and the
pull still runs.`,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEngine()
		defer e.Close()

		ctx, cancel := signalContext()
		defer cancel()

		fmt.Fprintf(os.Stderr, "%s Syncing with %s remote...\n", ui.RenderAccent("🔄"), cfg.Remote.Kind)
		report, err := e.svc.Sync(ctx)

		if printStructured(cmd, report) {
			if err != nil {
				os.Exit(1)
			}
			return
		}

		printReport(report)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show cursor, last sync time and queue counts",
	Run: func(cmd *cobra.Command, args []string) {
		database := openStore()
		defer database.Close()

		svc := openLocalService(database)

		ctx, cancel := signalContext()
		defer cancel()

		status, err := svc.Status(ctx)
		if err != nil {
			fatal("reading status: %v", err)
		}
		if printStructured(cmd, status) {
			return
		}

		fmt.Printf("\n%s Sync status\n\n", ui.RenderAccent("📊"))
		ui.KV(os.Stdout, [][2]string{
			{"Database", database.Path()},
			{"Remote", cfg.Remote.Kind},
			{"Interval", status.Interval},
			{"Cursor", formatTime(status.Cursor)},
			{"Last synced", formatTime(status.LastSyncedAt)},
			{"Queued", fmt.Sprint(status.Queue.Total)},
			{"Pending", fmt.Sprint(status.Queue.Pending)},
			{"Failed", fmt.Sprintf("%d (>= %d attempts)", status.Queue.Failed, status.FailedAttempts)},
		})
		if status.Queue.Failed > 0 {
			fmt.Printf("\n%s Run 'sct queue clear-failed' to drop changes that keep failing\n", ui.RenderWarn("⚠"))
		}
		fmt.Println()
	},
}

var requeueCmd = &cobra.Command{
	Use:     "requeue",
	GroupID: "admin",
	Short:   "Queue local records that were never confirmed by the remote",
	Long: `Scan every synced table for records still flagged unsynced and queue a
create for each one that has no create already queued.

Safe to run repeatedly: a second run queues nothing new. The daemon runs
this scan on startup.`,
	Run: func(cmd *cobra.Command, args []string) {
		database := openStore()
		defer database.Close()
		svc := openLocalService(database)

		ctx, cancel := signalContext()
		defer cancel()

		n, err := svc.RequeueUnsynced(ctx)
		if err != nil {
			fatal("recovery scan: %v", err)
		}
		fmt.Printf("%s Queued %d %s\n", ui.RenderPass("✓"), n, ui.Plural(int64(n), "record", "records"))
	},
}

func printReport(r syncer.CycleReport) {
	if r.Skipped {
		fmt.Printf("%s Another sync is already running, skipped\n", ui.RenderWarn("⚠"))
		return
	}

	mark := ui.RenderPass("✓")
	if r.Error != "" || r.Push.Halted || len(r.Pull.FailedTables) > 0 {
		mark = ui.RenderWarn("⚠")
	}
	fmt.Printf("%s Sync finished in %v\n", mark, r.Duration.Round(time.Millisecond))

	rows := [][2]string{
		{"User", orDash(r.UserID)},
		{"Pushed", fmt.Sprint(r.Push.Processed)},
		{"Pulled", fmt.Sprint(r.Pull.Rows)},
		{"Cursor", formatTime(r.Pull.Cursor)},
	}
	if r.Push.Halted {
		rows = append(rows, [2]string{"Push halted at", fmt.Sprintf("#%d: %s", r.Push.HaltedSeq, r.Push.Error)})
	}
	if len(r.Pull.FailedTables) > 0 {
		rows = append(rows, [2]string{"Failed tables", strings.Join(r.Pull.FailedTables, ", ")})
	}
	ui.KV(os.Stdout, rows)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	addFormatFlag(syncCmd)
	addFormatFlag(statusCmd)

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(requeueCmd)
}
