package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/ui"
)

var cursorCmd = &cobra.Command{
	Use:     "cursor",
	GroupID: "admin",
	Short:   "Show or move the pull cursor",
	Long: `The pull cursor is the timestamp of the latest remote change already
applied locally. Each pull fetches only rows changed after it.`,
}

var cursorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the pull cursor",
	Run: func(cmd *cobra.Command, args []string) {
		database := openStore()
		defer database.Close()
		svc := openLocalService(database)

		ctx, cancel := signalContext()
		defer cancel()

		cursor, err := svc.Cursor(ctx)
		if err != nil {
			fatal("%v", err)
		}
		last, err := svc.LastSyncedAt(ctx)
		if err != nil {
			fatal("%v", err)
		}
		ui.KV(os.Stdout, [][2]string{
			{"Cursor", formatTime(cursor)},
			{"Last synced", formatTime(last)},
		})
	},
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the cursor so the next pull fetches everything",
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")

		database := openStore()
		defer database.Close()
		svc := openLocalService(database)

		ctx, cancel := signalContext()
		defer cancel()

		if !confirm(yes, "Reset the cursor? The next pull re-downloads every table.") {
			fmt.Println("Aborted")
			return
		}
		if err := svc.ResetCursor(ctx); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Cursor reset, next sync is a full resync\n", ui.RenderPass("✓"))
	},
}

var cursorSetCmd = &cobra.Command{
	Use:   "set <time>",
	Short: "Move the cursor to a point in time",
	Long: `Move the cursor to a point in time, forward or backward. Accepts
RFC 3339 timestamps and natural language:

  sct cursor set 2024-03-01T00:00:00Z
  sct cursor set "3 days ago"
  sct cursor set "last monday"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		at, err := parseWhen(strings.Join(args, " "), time.Now())
		if err != nil {
			fatal("%v", err)
		}

		database := openStore()
		defer database.Close()
		svc := openLocalService(database)

		ctx, cancel := signalContext()
		defer cancel()

		if err := svc.SetCursor(ctx, at); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Cursor set to %s\n", ui.RenderPass("✓"), at.UTC().Format(time.RFC3339))
	},
}

// parseWhen reads an absolute timestamp or a natural language expression
// relative to now.
func parseWhen(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("time is required")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand %q as a time", text)
	}
	return r.Time, nil
}

func init() {
	cursorResetCmd.Flags().BoolP("yes", "y", false, "Skip confirmation")

	cursorCmd.AddCommand(cursorShowCmd)
	cursorCmd.AddCommand(cursorResetCmd)
	cursorCmd.AddCommand(cursorSetCmd)
	rootCmd.AddCommand(cursorCmd)
}
