package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// addFormatFlag registers --format on cmd.
func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "text", "Output format: text, yaml or json")
}

// printStructured writes v as yaml or json according to --format and
// reports whether it did. Text output is left to the caller.
func printStructured(cmd *cobra.Command, v any) bool {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "", "text":
		return false
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			fatal("encoding yaml: %v", err)
		}
		_ = enc.Close()
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fatal("encoding json: %v", err)
		}
	default:
		fatal("unknown format %q (want text, yaml or json)", format)
	}
	return true
}

// formatTime renders t for humans, "never" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() || t.Equal(time.Unix(0, 0)) {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", t.Local().Format(time.RFC3339), time.Since(t).Round(time.Second))
}
