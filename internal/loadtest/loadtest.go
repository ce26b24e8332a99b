// Package loadtest drives the sync engine with concurrent local writers.
//
// A run opens a scratch database, starts N writers creating and updating
// records through the normal write path while sync cycles run back to back
// against an in-memory remote, then drains the queue and checks that every
// local record reached the remote exactly once.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/remote"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/store"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/syncer"
)

// ErrLostWrites is returned when local and remote disagree after the drain.
var ErrLostWrites = errors.New("local and remote diverged")

// BenchUser is the session identity of the in-memory remote.
const BenchUser = "bench-user"

// Config controls a load test run.
type Config struct {
	// Writers is the number of concurrent writers (default: 8).
	Writers int

	// WritesPerWriter is how many writes each writer performs (default: 100).
	WritesPerWriter int

	// UpdateEvery makes every Nth write an update of the writer's previous
	// record instead of a create (default: 4, 0 keeps the default, <0 disables).
	UpdateEvery int

	// Table receives the writes (default: logs).
	Table string

	// MaxDrainCycles bounds the sync cycles run after writers stop (default: 20).
	MaxDrainCycles int

	// Logger for sync activity (default: discarded).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Writers:         8,
		WritesPerWriter: 100,
		UpdateEvery:     4,
		Table:           "logs",
		MaxDrainCycles:  20,
		Logger:          log.New(io.Discard, "", 0),
	}
}

// LatencyStats captures write latency from a run.
type LatencyStats struct {
	Min         time.Duration
	Max         time.Duration
	Mean        time.Duration
	P50         time.Duration // Median
	P95         time.Duration
	P99         time.Duration
	TotalWrites int
	Errors      int
}

// Result is the outcome of a run.
type Result struct {
	Writes       *LatencyStats
	Creates      int
	Updates      int
	Cycles       int
	DrainCycles  int
	Pushed       int
	Pulled       int
	LocalRecords int
	RemoteRows   int
	Queued       int
	Elapsed      time.Duration
}

// Run performs a load test against a scratch database at dbPath.
func Run(ctx context.Context, dbPath string, config *Config) (*Result, error) {
	config = withDefaults(config)

	database, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := database.InitSchemaContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	rem := remote.NewMemory(BenchUser)
	svc, err := syncer.New(database, rem, &syncer.Config{Logger: config.Logger})
	if err != nil {
		return nil, err
	}
	if _, ok := svc.Tables().Lookup(config.Table); !ok {
		return nil, fmt.Errorf("table %q is not synchronized", config.Table)
	}

	start := time.Now()
	result := &Result{}

	writesDone := make(chan struct{})
	var syncWG sync.WaitGroup
	syncWG.Add(1)
	go func() {
		defer syncWG.Done()
		for {
			select {
			case <-writesDone:
				return
			case <-ctx.Done():
				return
			default:
			}
			report, _ := svc.Sync(ctx)
			result.add(report)
			result.Cycles++
		}
	}()

	stats, creates, updates := runWriters(ctx, database, config)
	close(writesDone)
	syncWG.Wait()

	result.Writes = stats
	result.Creates = creates
	result.Updates = updates

	for result.DrainCycles < config.MaxDrainCycles {
		summary, err := database.Summary(ctx, 1)
		if err != nil {
			return nil, err
		}
		if summary.Total == 0 {
			break
		}
		report, err := svc.Sync(ctx)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.add(report)
		result.DrainCycles++
	}
	result.Elapsed = time.Since(start)

	if err := result.verify(ctx, database, rem, config.Table); err != nil {
		return result, err
	}
	return result, nil
}

func withDefaults(config *Config) *Config {
	defaults := DefaultConfig()
	if config == nil {
		return defaults
	}
	c := *config
	if c.Writers <= 0 {
		c.Writers = defaults.Writers
	}
	if c.WritesPerWriter <= 0 {
		c.WritesPerWriter = defaults.WritesPerWriter
	}
	if c.UpdateEvery == 0 {
		c.UpdateEvery = defaults.UpdateEvery
	}
	if c.Table == "" {
		c.Table = defaults.Table
	}
	if c.MaxDrainCycles <= 0 {
		c.MaxDrainCycles = defaults.MaxDrainCycles
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
	return &c
}

// runWriters launches the writers and waits for them. Each writer owns its
// records, so updates never race across writers.
func runWriters(ctx context.Context, database *store.DB, config *Config) (*LatencyStats, int, int) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		all     []time.Duration
		errs    int
		creates int
		updates int
	)

	for w := 0; w < config.Writers; w++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(writer) + 1))
			durations := make([]time.Duration, 0, config.WritesPerWriter)
			var last store.Record
			var c, u, e int

			for i := 0; i < config.WritesPerWriter; i++ {
				if ctx.Err() != nil {
					break
				}

				rec := store.Record{
					"user_id":    "local-user",
					"calories":   100 + rng.Intn(900),
					"created_at": remote.FormatTimestamp(time.Now().UTC()),
				}
				update := config.UpdateEvery > 0 && last != nil && i%config.UpdateEvery == 0
				if update {
					rec = last.Clone()
					rec["calories"] = 100 + rng.Intn(900)
				}

				begin := time.Now()
				saved, action, err := database.Put(ctx, config.Table, rec)
				durations = append(durations, time.Since(begin))
				if err != nil {
					e++
					continue
				}
				if action == store.ActionUpdate {
					u++
				} else {
					c++
				}
				last = saved
			}

			mu.Lock()
			all = append(all, durations...)
			errs += e
			creates += c
			updates += u
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	stats := computeLatencyStats(all)
	stats.Errors = errs
	return stats, creates, updates
}

func (r *Result) add(report syncer.CycleReport) {
	r.Pushed += report.Push.Processed
	r.Pulled += report.Pull.Rows
}

// verify checks that the queue drained and that local and remote hold the
// same set of ids, every remote row owned by the session user.
func (r *Result) verify(ctx context.Context, database *store.DB, rem *remote.Memory, table string) error {
	summary, err := database.Summary(ctx, 1)
	if err != nil {
		return err
	}
	r.Queued = summary.Total

	local, err := database.List(ctx, table)
	if err != nil {
		return err
	}
	r.LocalRecords = len(local)

	remoteName := table
	if t, ok := syncer.DefaultTables().Lookup(table); ok {
		remoteName = t.Remote
	}
	rows := rem.Rows(remoteName)
	r.RemoteRows = len(rows)

	if r.Queued > 0 {
		return fmt.Errorf("%w: %d changes still queued", ErrLostWrites, r.Queued)
	}
	if r.LocalRecords != r.RemoteRows {
		return fmt.Errorf("%w: %d local records, %d remote rows", ErrLostWrites, r.LocalRecords, r.RemoteRows)
	}

	remoteIDs := make(map[string]bool, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		remoteIDs[id] = true
		if owner, _ := row["user_id"].(string); owner != BenchUser {
			return fmt.Errorf("%w: remote row %s owned by %q", ErrLostWrites, id, owner)
		}
	}
	for _, rec := range local {
		if !remoteIDs[rec.ID()] {
			return fmt.Errorf("%w: %s missing remotely", ErrLostWrites, rec.ID())
		}
	}
	return nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Mean:        sum / time.Duration(len(durations)),
		P50:         sorted[len(sorted)*50/100],
		P95:         sorted[len(sorted)*95/100],
		P99:         sorted[len(sorted)*99/100],
		TotalWrites: len(durations),
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Write latency:\n")
	fmt.Fprintf(w, "  Total writes:  %d\n", s.TotalWrites)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
