package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/store"
)

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return db
}

func writeJSONL(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "import.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write JSONL: %v", err)
	}
	return path
}

func TestReadLines(t *testing.T) {
	path := writeJSONL(t, `{"table": "logs", "record": {"id": "l1", "calories": 420}}

{"table": "logs", "action": "delete", "id": "l0"}
{"id": "f1", "name": "Oats"}
{"table": "goals", "action": "update", "record": {"id": 7, "target": 1800}}
`)

	lines, err := ReadLines(path, "foods")
	if err != nil {
		t.Fatalf("ReadLines() failed: %v", err)
	}
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}

	tests := []struct {
		num    int
		table  string
		action store.Action
		id     string
	}{
		{1, "logs", store.ActionCreate, "l1"},
		{3, "logs", store.ActionDelete, "l0"},
		{4, "foods", store.ActionCreate, "f1"},
		{5, "goals", store.ActionUpdate, "7"},
	}
	for i, tt := range tests {
		got := lines[i]
		if got.Num != tt.num || got.Table != tt.table || got.Action != tt.action {
			t.Errorf("line %d = {%d %s %s}, want {%d %s %s}", i, got.Num, got.Table, got.Action, tt.num, tt.table, tt.action)
		}
		id := got.ID
		if id == "" && got.Record != nil {
			id = got.Record.ID()
		}
		if id != tt.id {
			t.Errorf("line %d id = %q, want %q", i, id, tt.id)
		}
	}
}

func TestReadLines_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		table   string
		wantErr string
	}{
		{"bad json", "{not json}\n", "foods", "invalid line 1"},
		{"bare without table", `{"id": "x"}` + "\n", "", "needs a table"},
		{"delete without id", `{"table": "logs", "action": "delete"}` + "\n", "", "needs an id"},
		{"create without record", `{"table": "logs", "action": "create"}` + "\n", "", "needs a record"},
		{"unknown action", `{"table": "logs", "action": "upsert", "record": {}}` + "\n", "", "upsert"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadLines(writeJSONL(t, tt.content), tt.table)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ReadLines() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestImport(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, _, err := db.Put(ctx, "logs", store.Record{"id": "old", "calories": 100}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	path := writeJSONL(t, `{"table": "logs", "record": {"id": "l1", "calories": 420}}
{"table": "logs", "record": {"id": "l1", "calories": 450}}
{"table": "logs", "action": "delete", "id": "old"}
{"table": "logs", "action": "delete", "id": "missing"}
`)

	result, err := Import(ctx, db, Options{Path: path, Backup: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Created != 1 || result.Updated != 1 || result.Deleted != 1 || result.Skipped != 1 {
		t.Errorf("Import() result = %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Import() errors = %v", result.Errors)
	}
	if result.BackupCreated == "" {
		t.Error("backup not created")
	} else if _, err := os.Stat(result.BackupCreated); err != nil {
		t.Errorf("backup file missing: %v", err)
	}

	rec, err := db.Get(ctx, "logs", "l1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if rec["calories"] != float64(450) {
		t.Errorf("calories = %v, want 450", rec["calories"])
	}

	// Every applied line is a queued change.
	entries, err := db.QueueEntries(ctx)
	if err != nil {
		t.Fatalf("QueueEntries() failed: %v", err)
	}
	if len(entries) != 4 {
		t.Errorf("queue has %d entries, want 4", len(entries))
	}
}

func TestImport_DryRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	path := writeJSONL(t, `{"id": "f1", "name": "Oats"}
{"id": "f2", "name": "Rice"}
`)

	result, err := Import(ctx, db, Options{Path: path, Table: "foods", DryRun: true, Backup: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Created != 2 || result.BackupCreated != "" {
		t.Errorf("Import() result = %+v", result)
	}

	count, err := db.CountRecords(ctx, "foods")
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("dry run wrote %d records", count)
	}
}

func TestImport_MissingFile(t *testing.T) {
	db := setupTestDB(t)
	if _, err := Import(context.Background(), db, Options{Path: filepath.Join(t.TempDir(), "none.jsonl")}); err == nil {
		t.Error("Import() of a missing file succeeded")
	}
}

func TestExportRoundTrip(t *testing.T) {
	src := setupTestDB(t)
	ctx := context.Background()

	for _, rec := range []store.Record{{"id": "f1", "name": "Oats"}, {"id": "f2", "name": "Rice"}} {
		if _, _, err := src.Put(ctx, "foods", rec); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}
	if _, _, err := src.Put(ctx, "logs", store.Record{"id": "l1", "calories": 300}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "out", "export.jsonl")
	n, err := Export(ctx, src, []string{"foods", "logs"}, path)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Export() = %d, want 3", n)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	if strings.Contains(string(data), "synced") {
		t.Error("export contains the local synced flag")
	}

	dst := setupTestDB(t)
	result, err := Import(ctx, dst, Options{Path: path})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Created != 3 {
		t.Errorf("re-import created %d, want 3", result.Created)
	}
}
