package syncer

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/remote"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/retry"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/store"
)

// DefaultInterval is the period between automatic sync cycles.
const DefaultInterval = 30 * time.Second

// DefaultFailedAttempts is the attempt count at which a queue entry is
// reported as failed.
const DefaultFailedAttempts = 3

// LocalStore is the local database as seen by the sync engine.
// *store.DB implements it.
type LocalStore interface {
	QueueEntries(ctx context.Context) ([]store.QueueEntry, error)
	Enqueue(ctx context.Context, table string, action store.Action, payload any) (int64, error)
	RemoveEntry(ctx context.Context, seq int64) error
	RecordFailure(ctx context.Context, seq int64, cause error) error
	HasCreateEntry(ctx context.Context, table, id string) (bool, error)
	Summary(ctx context.Context, minAttempts int) (store.QueueSummary, error)
	ClearFailed(ctx context.Context, minAttempts int) (int64, error)
	ClearQueue(ctx context.Context) (int64, error)

	ApplyPulled(ctx context.Context, table string, rows []store.Record) (int, error)
	MarkSynced(ctx context.Context, table, id string) error
	UnsyncedRecords(ctx context.Context, table string) ([]store.Record, error)

	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
	DeleteMeta(ctx context.Context, key string) error
}

// State is the orchestrator state.
type State int32

const (
	Idle State = iota
	Syncing
)

func (s State) String() string {
	if s == Syncing {
		return "syncing"
	}
	return "idle"
}

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerTick    Trigger = "tick"
	TriggerOnline  Trigger = "online"
	TriggerManual  Trigger = "manual"
)

// CycleReport summarizes one sync cycle.
type CycleReport struct {
	Trigger   Trigger       `json:"trigger"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Skipped   bool          `json:"skipped,omitempty"`
	UserID    string        `json:"user_id,omitempty"`
	Push      PushReport    `json:"push"`
	Pull      PullReport    `json:"pull"`
	Error     string        `json:"error,omitempty"`
}

// Observer is notified around every cycle that actually runs.
type Observer interface {
	CycleStarted(trigger Trigger, at time.Time)
	CycleFinished(report CycleReport)
}

// Config configures a Service.
type Config struct {
	// Tables is the table mapping (default: DefaultTables()).
	Tables Mapping

	// Interval between automatic cycles (default: 30s).
	Interval time.Duration

	// FailedAttempts is the default threshold for failed queue entries (default: 3).
	FailedAttempts int

	// Retry bounds each pull page fetch. Retryable defaults to transient
	// remote failures.
	Retry retry.Policy

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time

	// Logger for sync activity (default: stderr with [sync] prefix).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Tables:         DefaultTables(),
		Interval:       DefaultInterval,
		FailedAttempts: DefaultFailedAttempts,
		Retry:          retry.DefaultPolicy(),
		Clock:          time.Now,
		Logger:         log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Service is the sync orchestrator. It owns the Idle/Syncing state and
// runs Push then Pull once per cycle.
type Service struct {
	local  LocalStore
	remote remote.Store
	tables Mapping
	retry  retry.Policy
	now    func() time.Time
	logger *log.Logger

	failedAttempts int

	state    atomic.Int32
	online   atomic.Bool
	interval atomic.Int64

	wake       chan struct{}
	intervalCh chan time.Duration

	observersMu sync.RWMutex
	observers   []Observer
}

// New creates a sync service over the local and remote stores.
//
// Example:
//
//	database, err := store.Open(".sct/local.db")
//	if err != nil {
//	    return err
//	}
//	svc, err := syncer.New(database, remote.NewMemory("U1"), nil)
//	if err != nil {
//	    return err
//	}
//	report, err := svc.Sync(ctx)
func New(local LocalStore, rem remote.Store, cfg *Config) (*Service, error) {
	if local == nil {
		return nil, fmt.Errorf("local store cannot be nil")
	}
	if rem == nil {
		return nil, fmt.Errorf("remote store cannot be nil")
	}

	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}

	tables := cfg.Tables
	if len(tables) == 0 {
		tables = defaults.Tables
	}
	tables = tables.withDefaults(DefaultPageSize)
	if err := tables.Validate(); err != nil {
		return nil, err
	}

	policy := cfg.Retry
	if policy.Attempts == 0 {
		policy.Attempts = defaults.Retry.Attempts
		if policy.Backoff == nil {
			policy.Backoff = defaults.Retry.Backoff
		}
	}
	if policy.Retryable == nil {
		policy.Retryable = remote.IsTransient
	}

	s := &Service{
		local:          local,
		remote:         rem,
		tables:         tables,
		retry:          policy,
		now:            cfg.Clock,
		logger:         cfg.Logger,
		failedAttempts: cfg.FailedAttempts,
		wake:           make(chan struct{}, 1),
		intervalCh:     make(chan time.Duration, 1),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = defaults.Logger
	}
	if s.failedAttempts <= 0 {
		s.failedAttempts = DefaultFailedAttempts
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.interval.Store(int64(interval))
	s.online.Store(true)

	return s, nil
}

// Tables returns the table mapping in use.
func (s *Service) Tables() Mapping {
	return s.tables
}

// State returns the current orchestrator state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Online reports the last connectivity signal.
func (s *Service) Online() bool {
	return s.online.Load()
}

// Interval returns the current period between automatic cycles.
func (s *Service) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// Subscribe registers an observer for cycle notifications.
func (s *Service) Subscribe(o Observer) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, o)
}

// SetOnline records a connectivity signal. Going offline suppresses periodic
// cycles without cancelling one in flight; coming back online wakes Run to
// sync immediately.
func (s *Service) SetOnline(online bool) {
	was := s.online.Swap(online)
	if online == was {
		return
	}

	if !online {
		s.logger.Println("Offline: periodic sync suspended")
		return
	}

	s.logger.Println("Online: scheduling sync")
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SetInterval changes the period of the running loop.
func (s *Service) SetInterval(d time.Duration) {
	if d <= 0 || d == s.Interval() {
		return
	}
	s.interval.Store(int64(d))

	// Keep only the newest value.
	select {
	case <-s.intervalCh:
	default:
	}
	select {
	case s.intervalCh <- d:
	default:
	}
}

// Sync runs one cycle now. If a cycle is already running it returns at once
// with a report marked Skipped.
func (s *Service) Sync(ctx context.Context) (CycleReport, error) {
	return s.runCycle(ctx, TriggerManual)
}

// Run syncs once if online, then on every tick while online and whenever
// connectivity returns. Blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Printf("Sync loop started (interval %s)", s.Interval())

	if s.Online() {
		s.runCycle(ctx, TriggerStartup)
	}

	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Sync loop stopped")
			return nil

		case d := <-s.intervalCh:
			ticker.Reset(d)
			s.logger.Printf("Sync interval changed to %s", d)

		case <-s.wake:
			if s.Online() {
				s.runCycle(ctx, TriggerOnline)
			}

		case <-ticker.C:
			if !s.Online() {
				continue
			}
			s.runCycle(ctx, TriggerTick)
		}
	}
}

// runCycle executes Push then Pull under the single-cycle guard. Errors are
// logged and reported; the state always returns to Idle.
func (s *Service) runCycle(ctx context.Context, trigger Trigger) (CycleReport, error) {
	report := CycleReport{Trigger: trigger, StartedAt: s.now()}

	if !s.state.CompareAndSwap(int32(Idle), int32(Syncing)) {
		s.logger.Printf("Sync skipped (%s): already in progress", trigger)
		report.Skipped = true
		return report, nil
	}
	defer s.state.Store(int32(Idle))

	s.notifyStarted(trigger, report.StartedAt)

	err := s.cycle(ctx, &report)
	report.Duration = s.now().Sub(report.StartedAt)
	if err != nil {
		report.Error = err.Error()
		s.logger.Printf("Sync failed: %v", err)
	} else {
		s.logger.Printf("Sync complete: pushed=%d pulled=%d cursor=%s (%s)",
			report.Push.Processed, report.Pull.Rows, remote.FormatTimestamp(report.Pull.Cursor), report.Duration)
	}

	s.notifyFinished(report)
	return report, err
}

func (s *Service) cycle(ctx context.Context, report *CycleReport) error {
	s.logger.Printf("Starting sync (%s)", report.Trigger)

	session, err := s.remote.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if session != nil {
		report.UserID = session.UserID
	}

	report.Push, err = s.Push(ctx, session)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	report.Pull, err = s.Pull(ctx, session)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	return s.markLastSynced(ctx, s.now())
}

func (s *Service) notifyStarted(trigger Trigger, at time.Time) {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()
	for _, o := range s.observers {
		o.CycleStarted(trigger, at)
	}
}

func (s *Service) notifyFinished(report CycleReport) {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()
	for _, o := range s.observers {
		o.CycleFinished(report)
	}
}
