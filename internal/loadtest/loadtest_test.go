package loadtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRun_NoLostWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	dbPath := filepath.Join(t.TempDir(), "load.db")
	config := &Config{
		Writers:         4,
		WritesPerWriter: 25,
		UpdateEvery:     5,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := Run(ctx, dbPath, config)
	if err != nil {
		t.Fatalf("Run() failed: %v (result %+v)", err, result)
	}

	if result.Writes.Errors != 0 {
		t.Errorf("write errors = %d, want 0", result.Writes.Errors)
	}
	if got := result.Creates + result.Updates; got != 100 {
		t.Errorf("creates+updates = %d, want 100", got)
	}
	if result.Updates == 0 {
		t.Error("expected some updates")
	}
	if result.LocalRecords != result.Creates {
		t.Errorf("local records = %d, want %d", result.LocalRecords, result.Creates)
	}
	if result.Pushed != result.Creates+result.Updates {
		t.Errorf("pushed = %d, want every queued change once (%d)", result.Pushed, result.Creates+result.Updates)
	}
	if result.Queued != 0 {
		t.Errorf("queued after drain = %d, want 0", result.Queued)
	}
}

func TestRun_UnknownTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "load.db")
	if _, err := Run(context.Background(), dbPath, &Config{Table: "nope"}); err == nil {
		t.Error("Run() with an unknown table should fail")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)

	if stats.TotalWrites != 100 {
		t.Errorf("TotalWrites = %d, want 100", stats.TotalWrites)
	}
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", stats.Mean)
	}

	if empty := computeLatencyStats(nil); empty.TotalWrites != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}
