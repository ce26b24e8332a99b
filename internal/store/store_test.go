package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// setupTestDB opens a fresh database with schema in a temp dir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

// steppingClock returns a clock that advances one millisecond per call.
func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	}
}

func TestOpen_StripsFilePrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "local.db")

	db, err := Open("file:" + path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := db.InitSchema(); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}

	for _, table := range []string{"records", "sync_queue", "meta"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestPut_EnqueuesCreateThenUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	stored, action, err := db.Put(ctx, "foods", Record{"name": "Oats", "user_id": "local-user"})
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if action != ActionCreate {
		t.Errorf("first Put() action = %q, want %q", action, ActionCreate)
	}
	if stored.ID() == "" {
		t.Fatal("Put() did not generate an id")
	}
	if stored.Synced() {
		t.Error("stored record should be pending")
	}

	stored["name"] = "Rolled oats"
	if _, action, err = db.Put(ctx, "foods", stored); err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}
	if action != ActionUpdate {
		t.Errorf("second Put() action = %q, want %q", action, ActionUpdate)
	}

	entries, err := db.QueueEntries(ctx)
	if err != nil {
		t.Fatalf("QueueEntries() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d queue entries, want 2", len(entries))
	}
	if entries[0].Action != ActionCreate || entries[1].Action != ActionUpdate {
		t.Errorf("actions = %q, %q; want create, update", entries[0].Action, entries[1].Action)
	}
	if entries[1].RecordID() != stored.ID() {
		t.Errorf("RecordID() = %q, want %q", entries[1].RecordID(), stored.ID())
	}
	if got := entries[1].PayloadRecord()["name"]; got != "Rolled oats" {
		t.Errorf("payload name = %v, want Rolled oats", got)
	}

	got, err := db.Get(ctx, "foods", stored.ID())
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got["name"] != "Rolled oats" {
		t.Errorf("name = %v, want Rolled oats", got["name"])
	}
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	stored, _, err := db.Put(ctx, "logs", Record{"id": "log-1", "calories": 250})
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if err := db.Delete(ctx, "logs", stored.ID()); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	if _, err := db.Get(ctx, "logs", "log-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	entries, err := db.QueueEntries(ctx)
	if err != nil {
		t.Fatalf("QueueEntries() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[1].Action != ActionDelete || entries[1].RecordID() != "log-1" {
		t.Errorf("last entry = %s %q, want delete log-1", entries[1].Action, entries[1].RecordID())
	}

	if err := db.Delete(ctx, "logs", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}
}

func TestApplyPulled_DoesNotEnqueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rows := []Record{
		{"id": "f1", "name": "Apple", "updated_at": "2024-01-01T00:00:00Z"},
		{"id": "f2", "name": "Pear", "updated_at": "2024-01-02T00:00:00Z", "synced": 0},
	}

	n, err := db.ApplyPulled(ctx, "foods", rows)
	if err != nil {
		t.Fatalf("ApplyPulled() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("ApplyPulled() = %d, want 2", n)
	}

	entries, err := db.QueueEntries(ctx)
	if err != nil {
		t.Fatalf("QueueEntries() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("pulled rows enqueued %d entries", len(entries))
	}

	unsynced, err := db.UnsyncedRecords(ctx, "foods")
	if err != nil {
		t.Fatalf("UnsyncedRecords() failed: %v", err)
	}
	if len(unsynced) != 0 {
		t.Errorf("got %d unsynced records, want 0", len(unsynced))
	}

	// Applying the same rows again leaves the store unchanged.
	if _, err := db.ApplyPulled(ctx, "foods", rows); err != nil {
		t.Fatalf("second ApplyPulled() failed: %v", err)
	}
	count, err := db.CountRecords(ctx, "foods")
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("CountRecords() = %d, want 2", count)
	}
}

func TestApplyPulled_RollsBackOnMissingID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rows := []Record{{"id": "a"}, {"name": "no id"}}
	if _, err := db.ApplyPulled(ctx, "foods", rows); err == nil {
		t.Fatal("ApplyPulled() succeeded with a row missing its id")
	}

	count, err := db.CountRecords(ctx, "foods")
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("CountRecords() = %d after rollback, want 0", count)
	}
}

func TestMarkSynced(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	stored, _, err := db.Put(ctx, "goals", Record{"target": 2000})
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if err := db.MarkSynced(ctx, "goals", stored.ID()); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	got, err := db.Get(ctx, "goals", stored.ID())
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.Synced() {
		t.Errorf("record not synced after MarkSynced: %v", got)
	}

	entries, err := db.QueueEntries(ctx)
	if err != nil {
		t.Fatalf("QueueEntries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("MarkSynced enqueued: got %d entries, want 1", len(entries))
	}

	if err := db.MarkSynced(ctx, "goals", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkSynced(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFindBy(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, rec := range []Record{
		{"id": "w1", "workout_id": "A"},
		{"id": "w2", "workout_id": "B"},
		{"id": "w3", "workout_id": "A"},
	} {
		if _, _, err := db.Put(ctx, "workout_sets", rec); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}

	got, err := db.FindBy(ctx, "workout_sets", "workout_id", "A")
	if err != nil {
		t.Fatalf("FindBy() failed: %v", err)
	}

	var ids []string
	for _, rec := range got {
		ids = append(ids, rec.ID())
	}
	if diff := cmp.Diff([]string{"w1", "w3"}, ids); diff != "" {
		t.Errorf("FindBy() ids mismatch (-want +got):\n%s", diff)
	}
}

func TestQueueEntries_Order(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// Two entries share a timestamp; sequence breaks the tie.
	db.SetClock(func() time.Time { return base })
	first, _ := db.Enqueue(ctx, "foods", ActionCreate, map[string]any{"id": "1"})
	second, _ := db.Enqueue(ctx, "foods", ActionUpdate, map[string]any{"id": "1"})

	db.SetClock(func() time.Time { return base.Add(-time.Second) })
	earlier, err := db.Enqueue(ctx, "logs", ActionDelete, "9")
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	entries, err := db.QueueEntries(ctx)
	if err != nil {
		t.Fatalf("QueueEntries() failed: %v", err)
	}

	var seqs []int64
	for _, e := range entries {
		seqs = append(seqs, e.Seq)
	}
	if diff := cmp.Diff([]int64{earlier, first, second}, seqs); diff != "" {
		t.Errorf("queue order mismatch (-want +got):\n%s", diff)
	}
	if entries[0].RecordID() != "9" {
		t.Errorf("scalar payload RecordID() = %q, want 9", entries[0].RecordID())
	}
}

func TestEnqueue_InvalidAction(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.Enqueue(context.Background(), "foods", Action("upsert"), map[string]any{"id": "1"}); err == nil {
		t.Error("Enqueue() accepted an invalid action")
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"create", ActionCreate, false},
		{"update", ActionUpdate, false},
		{"delete", ActionDelete, false},
		{"CREATE", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAction(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAction(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRemoveEntry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seq, err := db.Enqueue(ctx, "foods", ActionCreate, map[string]any{"id": "1"})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if err := db.RemoveEntry(ctx, seq); err != nil {
		t.Fatalf("RemoveEntry() failed: %v", err)
	}
	if err := db.RemoveEntry(ctx, seq); !errors.Is(err, ErrNotFound) {
		t.Errorf("second RemoveEntry() error = %v, want ErrNotFound", err)
	}
}

func TestRecordFailureAndSummary(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	db.SetClock(steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	failing, _ := db.Enqueue(ctx, "foods", ActionCreate, map[string]any{"id": "1"})
	_, _ = db.Enqueue(ctx, "foods", ActionCreate, map[string]any{"id": "2"})
	flaky, _ := db.Enqueue(ctx, "foods", ActionCreate, map[string]any{"id": "3"})

	for i := 0; i < 3; i++ {
		if err := db.RecordFailure(ctx, failing, errors.New("boom")); err != nil {
			t.Fatalf("RecordFailure() failed: %v", err)
		}
	}
	if err := db.RecordFailure(ctx, flaky, errors.New("timeout")); err != nil {
		t.Fatalf("RecordFailure() failed: %v", err)
	}

	entries, err := db.QueueEntries(ctx)
	if err != nil {
		t.Fatalf("QueueEntries() failed: %v", err)
	}
	if entries[0].Attempts != 3 || entries[0].LastError != "boom" {
		t.Errorf("entry 0 attempts=%d lastError=%q, want 3 boom", entries[0].Attempts, entries[0].LastError)
	}

	summary, err := db.Summary(ctx, 3)
	if err != nil {
		t.Fatalf("Summary() failed: %v", err)
	}
	if diff := cmp.Diff(QueueSummary{Total: 3, Pending: 2, Failed: 1}, summary); diff != "" {
		t.Errorf("Summary() mismatch (-want +got):\n%s", diff)
	}

	removed, err := db.ClearFailed(ctx, 3)
	if err != nil {
		t.Fatalf("ClearFailed() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("ClearFailed() = %d, want 1", removed)
	}

	removed, err = db.ClearQueue(ctx)
	if err != nil {
		t.Fatalf("ClearQueue() failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("ClearQueue() = %d, want 2", removed)
	}

	summary, err = db.Summary(ctx, 3)
	if err != nil {
		t.Fatalf("Summary() failed: %v", err)
	}
	if summary.Total != 0 {
		t.Errorf("Summary().Total = %d after clear, want 0", summary.Total)
	}
}

func TestHasCreateEntry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.Enqueue(ctx, "foods", ActionCreate, map[string]any{"id": "f1"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if _, err := db.Enqueue(ctx, "foods", ActionUpdate, map[string]any{"id": "f2"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if _, err := db.Enqueue(ctx, "foods", ActionDelete, "f3"); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	tests := []struct {
		table, id string
		want      bool
	}{
		{"foods", "f1", true},
		{"foods", "f2", false},
		{"foods", "f3", false},
		{"logs", "f1", false},
	}

	for _, tt := range tests {
		got, err := db.HasCreateEntry(ctx, tt.table, tt.id)
		if err != nil {
			t.Fatalf("HasCreateEntry() failed: %v", err)
		}
		if got != tt.want {
			t.Errorf("HasCreateEntry(%s, %s) = %v, want %v", tt.table, tt.id, got, tt.want)
		}
	}
}

func TestMeta(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, ok, err := db.GetMeta(ctx, "sync.cursor"); err != nil || ok {
		t.Fatalf("GetMeta(unset) = ok %v, err %v; want false, nil", ok, err)
	}

	if err := db.SetMeta(ctx, "sync.cursor", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("SetMeta() failed: %v", err)
	}
	if err := db.SetMeta(ctx, "sync.cursor", "2024-02-01T00:00:00Z"); err != nil {
		t.Fatalf("SetMeta() overwrite failed: %v", err)
	}

	value, ok, err := db.GetMeta(ctx, "sync.cursor")
	if err != nil || !ok {
		t.Fatalf("GetMeta() = ok %v, err %v", ok, err)
	}
	if value != "2024-02-01T00:00:00Z" {
		t.Errorf("GetMeta() = %q, want 2024-02-01T00:00:00Z", value)
	}

	if err := db.DeleteMeta(ctx, "sync.cursor"); err != nil {
		t.Fatalf("DeleteMeta() failed: %v", err)
	}
	if err := db.DeleteMeta(ctx, "sync.cursor"); err != nil {
		t.Errorf("DeleteMeta(missing) failed: %v", err)
	}
	if _, ok, _ := db.GetMeta(ctx, "sync.cursor"); ok {
		t.Error("key still present after DeleteMeta")
	}
}
