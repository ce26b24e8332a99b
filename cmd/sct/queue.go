package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "admin",
	Short:   "Inspect and clear the outbound change queue",
	Long: `Inspect and clear the queue of local changes waiting to be pushed.

An entry counts as failed once its push has failed at least
sync.failed_attempts times (default 3). Failed entries block every change
queued after them until they are cleared or succeed.`,
}

var queueSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count queued, pending and failed changes",
	Run: func(cmd *cobra.Command, args []string) {
		minAttempts, _ := cmd.Flags().GetInt("min-attempts")

		database := openStore()
		defer database.Close()
		svc := openLocalService(database)

		ctx, cancel := signalContext()
		defer cancel()

		summary, err := svc.QueueSummary(ctx, minAttempts)
		if err != nil {
			fatal("%v", err)
		}
		if printStructured(cmd, summary) {
			return
		}

		ui.KV(os.Stdout, [][2]string{
			{"Total", fmt.Sprint(summary.Total)},
			{"Pending", fmt.Sprint(summary.Pending)},
			{"Failed", fmt.Sprint(summary.Failed)},
		})
	},
}

var queueClearFailedCmd = &cobra.Command{
	Use:   "clear-failed",
	Short: "Drop changes whose push keeps failing",
	Run: func(cmd *cobra.Command, args []string) {
		minAttempts, _ := cmd.Flags().GetInt("min-attempts")
		yes, _ := cmd.Flags().GetBool("yes")

		database := openStore()
		defer database.Close()
		svc := openLocalService(database)

		ctx, cancel := signalContext()
		defer cancel()

		summary, err := svc.QueueSummary(ctx, minAttempts)
		if err != nil {
			fatal("%v", err)
		}
		if summary.Failed == 0 {
			fmt.Printf("%s No failed changes\n", ui.RenderPass("✓"))
			return
		}
		title := fmt.Sprintf("Drop %d failed %s? They will not be pushed.",
			summary.Failed, ui.Plural(int64(summary.Failed), "change", "changes"))
		if !confirm(yes, title) {
			fmt.Println("Aborted")
			return
		}

		n, err := svc.ClearFailed(ctx, minAttempts)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Dropped %d failed %s\n", ui.RenderPass("✓"), n, ui.Plural(n, "change", "changes"))
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every queued change",
	Long: `Drop every queued change. The local records stay flagged unsynced, so
'sct requeue' can queue them again as creates.`,
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")

		database := openStore()
		defer database.Close()
		svc := openLocalService(database)

		ctx, cancel := signalContext()
		defer cancel()

		if !confirm(yes, "Drop every queued change?") {
			fmt.Println("Aborted")
			return
		}

		n, err := svc.ClearQueue(ctx)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Dropped %d queued %s\n", ui.RenderPass("✓"), n, ui.Plural(n, "change", "changes"))
	},
}

func init() {
	queueSummaryCmd.Flags().Int("min-attempts", 0, "Failed threshold (default: sync.failed_attempts)")
	addFormatFlag(queueSummaryCmd)

	queueClearFailedCmd.Flags().Int("min-attempts", 0, "Failed threshold (default: sync.failed_attempts)")
	queueClearFailedCmd.Flags().BoolP("yes", "y", false, "Skip confirmation")

	queueClearCmd.Flags().BoolP("yes", "y", false, "Skip confirmation")

	queueCmd.AddCommand(queueSummaryCmd)
	queueCmd.AddCommand(queueClearFailedCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}
