package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/ui"
)

var tablesCmd = &cobra.Command{
	Use:     "tables",
	GroupID: "sync",
	Short:   "List synchronized tables and their remote names",
	Run: func(cmd *cobra.Command, args []string) {
		tables := mustTables()
		if printStructured(cmd, tables) {
			return
		}

		for _, t := range tables {
			name := t.Local
			if t.Remote != t.Local {
				name = fmt.Sprintf("%s → %s", t.Local, t.Remote)
			}
			flags := "by " + t.ChangeField
			if t.Shared {
				flags += ", shared"
			}
			fmt.Printf("  %-40s %s\n", name, ui.RenderMuted(flags))
		}
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Show effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML (secrets masked)",
	Run: func(cmd *cobra.Command, args []string) {
		if file := loader.File(); file != "" {
			fmt.Fprintf(os.Stderr, "# %s\n", file)
		} else {
			fmt.Fprintf(os.Stderr, "# no config file, defaults and environment only\n")
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(loader.Settings()); err != nil {
			fatal("encoding yaml: %v", err)
		}
		_ = enc.Close()
	},
}

func init() {
	addFormatFlag(tablesCmd)

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(configCmd)
}
