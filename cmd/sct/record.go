package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/importer"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/store"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/syncer"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/ui"
)

var recordCmd = &cobra.Command{
	Use:     "record",
	GroupID: "data",
	Short:   "Write, read and move local records",
	Long: `Work with records in the local database. Writes go through the same
path as the app: each one is queued for the next push.`,
}

var recordPutCmd = &cobra.Command{
	Use:   "put <table> <json>",
	Short: "Create or update a record",
	Example: `  sct record put logs '{"food_id": "f1", "calories": 420}'
  sct record put foods '{"id": "f1", "name": "Oats"}'`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		table := args[0]
		if _, ok := mustTables().Lookup(table); !ok {
			fatal("unknown table %q", table)
		}

		var rec store.Record
		if err := json.Unmarshal([]byte(args[1]), &rec); err != nil {
			fatal("invalid record JSON: %v", err)
		}

		database := openStore()
		defer database.Close()

		ctx, cancel := signalContext()
		defer cancel()

		saved, action, err := database.Put(ctx, table, rec)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s %s %s/%s (queued)\n", ui.RenderPass("✓"), verb(action), table, saved.ID())
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <table> <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		database := openStore()
		defer database.Close()

		ctx, cancel := signalContext()
		defer cancel()

		if err := database.Delete(ctx, args[0], args[1]); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				fatal("%s/%s not found", args[0], args[1])
			}
			fatal("%v", err)
		}
		fmt.Printf("%s Deleted %s/%s (queued)\n", ui.RenderPass("✓"), args[0], args[1])
	},
}

var recordGetCmd = &cobra.Command{
	Use:   "get <table> <id>",
	Short: "Print a record as JSON",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		database := openStore()
		defer database.Close()

		ctx, cancel := signalContext()
		defer cancel()

		rec, err := database.Get(ctx, args[0], args[1])
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				fatal("%s/%s not found", args[0], args[1])
			}
			fatal("%v", err)
		}
		printJSON(rec)
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list <table>",
	Short: "List records of a table",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		unsynced, _ := cmd.Flags().GetBool("unsynced")

		database := openStore()
		defer database.Close()

		ctx, cancel := signalContext()
		defer cancel()

		var (
			recs []store.Record
			err  error
		)
		if unsynced {
			recs, err = database.UnsyncedRecords(ctx, args[0])
		} else {
			recs, err = database.List(ctx, args[0])
		}
		if err != nil {
			fatal("%v", err)
		}
		if printStructured(cmd, recs) {
			return
		}
		for _, rec := range recs {
			line, _ := json.Marshal(rec)
			fmt.Println(string(line))
		}
		fmt.Fprintf(os.Stderr, "%d %s\n", len(recs), ui.Plural(int64(len(recs)), "record", "records"))
	},
}

var recordImportCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Import records from a JSONL file",
	Long: `Import records from a JSONL file. Each line is either an envelope

  {"table": "logs", "record": {"id": "l1", "calories": 420}}
  {"table": "logs", "action": "delete", "id": "l1"}

or a bare record for the table given with --table.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		table, _ := cmd.Flags().GetString("table")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")

		database := openStore()
		defer database.Close()

		ctx, cancel := signalContext()
		defer cancel()

		result, err := importer.Import(ctx, database, importer.Options{
			Path:   args[0],
			Table:  table,
			DryRun: dryRun,
			Backup: backup,
		})
		if err != nil {
			fatal("%v", err)
		}
		if printStructured(cmd, result) {
			return
		}

		mark := ui.RenderPass("✓")
		if len(result.Errors) > 0 {
			mark = ui.RenderWarn("⚠")
		}
		prefix := ""
		if dryRun {
			prefix = "[dry run] "
		}
		fmt.Printf("%s %sImported %s\n", mark, prefix, args[0])
		rows := [][2]string{
			{"Created", fmt.Sprint(result.Created)},
			{"Updated", fmt.Sprint(result.Updated)},
			{"Deleted", fmt.Sprint(result.Deleted)},
			{"Skipped", fmt.Sprint(result.Skipped)},
		}
		if result.BackupCreated != "" {
			rows = append(rows, [2]string{"Backup", result.BackupCreated})
		}
		ui.KV(os.Stdout, rows)
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "  %s %s\n", ui.RenderFail("✗"), e)
		}
	},
}

var recordExportCmd = &cobra.Command{
	Use:   "export <file.jsonl>",
	Short: "Export local records to a JSONL file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		only, _ := cmd.Flags().GetStringSlice("tables")

		tables := only
		if len(tables) == 0 {
			for _, t := range mustTables() {
				tables = append(tables, t.Local)
			}
		}

		database := openStore()
		defer database.Close()

		ctx, cancel := signalContext()
		defer cancel()

		n, err := importer.Export(ctx, database, tables, args[0])
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Exported %d %s from %s to %s\n", ui.RenderPass("✓"),
			n, ui.Plural(int64(n), "record", "records"), strings.Join(tables, ", "), args[0])
	},
}

func mustTables() syncer.Mapping {
	tables, err := loadTables()
	if err != nil {
		fatal("%v", err)
	}
	return tables
}

func verb(a store.Action) string {
	if a == store.ActionCreate {
		return "Created"
	}
	return "Updated"
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("encoding json: %v", err)
	}
}

func init() {
	recordListCmd.Flags().Bool("unsynced", false, "Only records not yet confirmed by the remote")
	addFormatFlag(recordListCmd)

	recordImportCmd.Flags().StringP("table", "t", "", "Table for bare records")
	recordImportCmd.Flags().Bool("dry-run", false, "Validate without writing")
	recordImportCmd.Flags().Bool("backup", false, "Copy the file aside before importing")
	addFormatFlag(recordImportCmd)

	recordExportCmd.Flags().StringSlice("tables", nil, "Tables to export (default: all synced tables)")

	recordCmd.AddCommand(recordPutCmd)
	recordCmd.AddCommand(recordDeleteCmd)
	recordCmd.AddCommand(recordGetCmd)
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordImportCmd)
	recordCmd.AddCommand(recordExportCmd)
	rootCmd.AddCommand(recordCmd)
}
