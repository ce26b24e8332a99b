package syncer

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultPageSize is the number of rows fetched per pull request.
const DefaultPageSize = 100

// Table maps one local table to its remote counterpart.
type Table struct {
	Local       string `toml:"local" yaml:"local" json:"local"`
	Remote      string `toml:"remote" yaml:"remote" json:"remote"`
	ChangeField string `toml:"change_field" yaml:"change_field" json:"change_field"`
	Shared      bool   `toml:"shared" yaml:"shared" json:"shared"`
	PageSize    int    `toml:"page_size" yaml:"page_size" json:"page_size"`
}

// Mapping is the ordered list of synchronized tables. Pull visits tables in
// this order.
type Mapping []Table

// DefaultTables returns the tracker's table mapping.
func DefaultTables() Mapping {
	return Mapping{
		{Local: "profiles", Remote: "profiles", ChangeField: "updated_at"},
		{Local: "foods", Remote: "foods", ChangeField: "updated_at", Shared: true},
		{Local: "food_ingredients", Remote: "food_ingredients", ChangeField: "created_at", Shared: true},
		{Local: "logs", Remote: "daily_logs", ChangeField: "created_at"},
		{Local: "goals", Remote: "goals", ChangeField: "created_at"},
		{Local: "metrics", Remote: "body_metrics", ChangeField: "created_at"},
		{Local: "activities", Remote: "activities", ChangeField: "updated_at", Shared: true},
		{Local: "activity_logs", Remote: "activity_logs", ChangeField: "created_at"},
		{Local: "workout_exercises_def", Remote: "workout_exercises_def", ChangeField: "updated_at", Shared: true},
		{Local: "workouts", Remote: "workouts", ChangeField: "updated_at"},
		{Local: "workout_log_entries", Remote: "workout_log_entries", ChangeField: "created_at"},
		{Local: "workout_sets", Remote: "workout_sets", ChangeField: "created_at"},
	}.withDefaults(DefaultPageSize)
}

// Lookup finds the mapping for a local table.
func (m Mapping) Lookup(local string) (Table, bool) {
	for _, t := range m {
		if t.Local == local {
			return t, true
		}
	}
	return Table{}, false
}

// RemoteName resolves a local table name. Unknown tables map to themselves.
func (m Mapping) RemoteName(local string) string {
	if t, ok := m.Lookup(local); ok {
		return t.Remote
	}
	return local
}

// Validate checks that every entry is usable and local names are unique.
func (m Mapping) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("table mapping is empty")
	}

	seen := make(map[string]bool, len(m))
	for i, t := range m {
		if t.Local == "" {
			return fmt.Errorf("table %d: local name is required", i)
		}
		if t.ChangeField == "" {
			return fmt.Errorf("table %s: change_field is required", t.Local)
		}
		if t.PageSize < 0 {
			return fmt.Errorf("table %s: page_size must be positive", t.Local)
		}
		if seen[t.Local] {
			return fmt.Errorf("table %s: listed more than once", t.Local)
		}
		seen[t.Local] = true
	}
	return nil
}

// withDefaults fills the remote name and page size where omitted.
func (m Mapping) withDefaults(pageSize int) Mapping {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	out := make(Mapping, len(m))
	for i, t := range m {
		if t.Remote == "" {
			t.Remote = t.Local
		}
		if t.PageSize == 0 {
			t.PageSize = pageSize
		}
		out[i] = t
	}
	return out
}

// WithPageSize returns a copy with every entry using pageSize.
func (m Mapping) WithPageSize(pageSize int) Mapping {
	if pageSize <= 0 {
		return m
	}

	out := make(Mapping, len(m))
	for i, t := range m {
		t.PageSize = pageSize
		out[i] = t
	}
	return out
}

// tablesFile is the on-disk shape of a mapping override:
//
//	[[table]]
//	local = "logs"
//	remote = "daily_logs"
//	change_field = "created_at"
type tablesFile struct {
	Tables []Table `toml:"table"`
}

// LoadTables reads a TOML mapping override. The file replaces the default
// mapping entirely.
func LoadTables(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables file: %w", err)
	}

	var f tablesFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("failed to parse tables file %s: %w", path, err)
	}

	m := Mapping(f.Tables).withDefaults(DefaultPageSize)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tables file %s: %w", path, err)
	}
	return m, nil
}
