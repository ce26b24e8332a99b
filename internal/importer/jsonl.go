// Package importer moves records between JSONL files and the local store.
//
// Each line of an import file is either an envelope
//
//	{"table": "logs", "record": {"id": "...", "calories": 420}}
//	{"table": "logs", "action": "delete", "id": "..."}
//
// or a bare record, in which case the table comes from Options.Table.
// Imported records go through the same write path as the app, so every line
// becomes a queued change for the next push.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/store"
)

// maxLineSize bounds a single JSONL line.
const maxLineSize = 4 * 1024 * 1024

// Line is one parsed import line.
type Line struct {
	Num    int
	Table  string
	Action store.Action
	ID     string
	Record store.Record
}

// Writer is the local store as seen by Import. *store.DB implements it.
type Writer interface {
	Put(ctx context.Context, table string, rec store.Record) (store.Record, store.Action, error)
	Delete(ctx context.Context, table, id string) error
}

// Reader is the local store as seen by Export. *store.DB implements it.
type Reader interface {
	List(ctx context.Context, table string) ([]store.Record, error)
}

// Options contains configuration for an import.
type Options struct {
	Path   string // Input JSONL file path
	Table  string // Table for bare records
	DryRun bool   // Parse and validate without writing
	Backup bool   // Copy the input aside before importing
}

// Result contains statistics about an import.
type Result struct {
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	Deleted       int      `json:"deleted"`
	Skipped       int      `json:"skipped"`
	BackupCreated string   `json:"backup_created,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// Total is the number of lines that changed the store.
func (r *Result) Total() int {
	return r.Created + r.Updated + r.Deleted
}

type envelope struct {
	Table  string          `json:"table"`
	Action string          `json:"action"`
	ID     json.RawMessage `json:"id"`
	Record store.Record    `json:"record"`
}

type exportLine struct {
	Table  string       `json:"table"`
	Record store.Record `json:"record"`
}

// ReadLines parses a JSONL file. Blank lines are ignored.
func ReadLines(path, defaultTable string) ([]Line, error) {
	// #nosec G304 - controlled path from CLI or the import directory
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var lines []Line
	num := 0
	for scanner.Scan() {
		num++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		line, err := parseLine(raw, defaultTable)
		if err != nil {
			return nil, fmt.Errorf("invalid line %d: %w", num, err)
		}
		line.Num = num
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return lines, nil
}

func parseLine(raw []byte, defaultTable string) (Line, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Line{}, err
	}

	_, hasRecord := fields["record"]
	_, hasAction := fields["action"]
	if !hasRecord && !hasAction {
		if defaultTable == "" {
			return Line{}, fmt.Errorf("bare record needs a table")
		}
		var rec store.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Line{}, err
		}
		return Line{Table: defaultTable, Action: store.ActionCreate, Record: rec}, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Line{}, err
	}
	if env.Table == "" {
		env.Table = defaultTable
	}
	if env.Table == "" {
		return Line{}, fmt.Errorf("table is required")
	}

	action := store.ActionCreate
	if env.Action != "" {
		a, err := store.ParseAction(env.Action)
		if err != nil {
			return Line{}, err
		}
		action = a
	}

	line := Line{Table: env.Table, Action: action, Record: env.Record}
	if len(env.ID) > 0 {
		var id any
		if err := json.Unmarshal(env.ID, &id); err != nil {
			return Line{}, fmt.Errorf("invalid id: %w", err)
		}
		line.ID = store.Record{"id": id}.ID()
	}
	if line.ID == "" && line.Record != nil {
		line.ID = line.Record.ID()
	}

	switch {
	case action == store.ActionDelete && line.ID == "":
		return Line{}, fmt.Errorf("delete needs an id")
	case action != store.ActionDelete && line.Record == nil:
		return Line{}, fmt.Errorf("%s needs a record", action)
	}
	return line, nil
}

// Import applies a JSONL file to the local store. Per-line write failures are
// collected in Result.Errors and the import continues; parse errors abort
// before anything is written.
func Import(ctx context.Context, w Writer, opts Options) (*Result, error) {
	result := &Result{}

	if _, err := os.Stat(opts.Path); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	if opts.Backup && !opts.DryRun {
		backupPath := opts.Path + ".backup." + time.Now().Format("20060102-150405")
		input, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	lines, err := ReadLines(opts.Path, opts.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if opts.DryRun {
			countAction(result, line.Action)
			continue
		}

		if line.Action == store.ActionDelete {
			err := w.Delete(ctx, line.Table, line.ID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				result.Skipped++
			case err != nil:
				result.Errors = append(result.Errors,
					fmt.Sprintf("line %d: failed to delete %s/%s: %v", line.Num, line.Table, line.ID, err))
			default:
				result.Deleted++
			}
			continue
		}

		_, action, err := w.Put(ctx, line.Table, line.Record)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("line %d: failed to write %s record: %v", line.Num, line.Table, err))
			continue
		}
		countAction(result, action)
	}

	return result, nil
}

func countAction(r *Result, action store.Action) {
	switch action {
	case store.ActionCreate:
		r.Created++
	case store.ActionUpdate:
		r.Updated++
	case store.ActionDelete:
		r.Deleted++
	}
}

// Export writes every record of the given tables to path as envelope lines.
// The file is replaced atomically. Returns the number of records written.
func Export(ctx context.Context, r Reader, tables []string, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := writeRecords(ctx, r, tables, file)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return written, nil
}

func writeRecords(ctx context.Context, r Reader, tables []string, file *os.File) (int, error) {
	buf := bufio.NewWriter(file)
	enc := json.NewEncoder(buf)

	written := 0
	for _, table := range tables {
		records, err := r.List(ctx, table)
		if err != nil {
			return written, fmt.Errorf("failed to list %s: %w", table, err)
		}
		for _, rec := range records {
			out := rec.Clone()
			delete(out, "synced")
			if err := enc.Encode(exportLine{Table: table, Record: out}); err != nil {
				return written, fmt.Errorf("failed to encode %s record: %w", table, err)
			}
			written++
		}
	}

	if err := buf.Flush(); err != nil {
		return written, fmt.Errorf("failed to write export: %w", err)
	}
	return written, nil
}
