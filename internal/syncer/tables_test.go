package syncer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultTables(t *testing.T) {
	m := DefaultTables()
	if err := m.Validate(); err != nil {
		t.Fatalf("default mapping invalid: %v", err)
	}
	if len(m) != 12 {
		t.Errorf("default mapping has %d tables, want 12", len(m))
	}

	tests := []struct {
		local  string
		remote string
		shared bool
	}{
		{"logs", "daily_logs", false},
		{"metrics", "body_metrics", false},
		{"foods", "foods", true},
		{"workout_exercises_def", "workout_exercises_def", true},
		{"unknown_table", "unknown_table", false},
	}

	for _, tt := range tests {
		t.Run(tt.local, func(t *testing.T) {
			if got := m.RemoteName(tt.local); got != tt.remote {
				t.Errorf("RemoteName(%q) = %q, want %q", tt.local, got, tt.remote)
			}
			tbl, _ := m.Lookup(tt.local)
			if tbl.Shared != tt.shared {
				t.Errorf("Shared = %v, want %v", tbl.Shared, tt.shared)
			}
		})
	}
}

func TestLoadTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.toml")
	content := `
[[table]]
local = "logs"
remote = "daily_logs"
change_field = "created_at"

[[table]]
local = "foods"
change_field = "updated_at"
shared = true
page_size = 25
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write tables file: %v", err)
	}

	m, err := LoadTables(path)
	if err != nil {
		t.Fatalf("LoadTables() failed: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("got %d tables, want 2", len(m))
	}

	foods, ok := m.Lookup("foods")
	if !ok {
		t.Fatal("foods missing from mapping")
	}
	if foods.Remote != "foods" || foods.PageSize != 25 || !foods.Shared {
		t.Errorf("foods = %+v", foods)
	}
	if logs, _ := m.Lookup("logs"); logs.PageSize != DefaultPageSize {
		t.Errorf("logs page size = %d, want %d", logs.PageSize, DefaultPageSize)
	}
}

func TestLoadTables_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"missing change field", "[[table]]\nlocal = \"foods\"\n"},
		{"duplicate", "[[table]]\nlocal = \"a\"\nchange_field = \"x\"\n[[table]]\nlocal = \"a\"\nchange_field = \"x\"\n"},
		{"bad syntax", "[[table]\nlocal = "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tables.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write tables file: %v", err)
			}
			if _, err := LoadTables(path); err == nil {
				t.Error("LoadTables() succeeded, want error")
			}
		})
	}

	if _, err := LoadTables(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("LoadTables() on missing file succeeded")
	}
}

func TestWithPageSize(t *testing.T) {
	m := DefaultTables().WithPageSize(10)
	for _, tbl := range m {
		if tbl.PageSize != 10 {
			t.Errorf("%s page size = %d, want 10", tbl.Local, tbl.PageSize)
		}
	}
	if DefaultTables()[0].PageSize != DefaultPageSize {
		t.Error("WithPageSize modified the default mapping")
	}
}
