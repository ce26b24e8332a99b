package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/importer"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/syncer"
)

// Suffixes given to processed import files.
const (
	DoneSuffix   = ".done"
	FailedSuffix = ".failed"
)

// Engine is the sync engine as driven by the daemon. *syncer.Service
// implements it.
type Engine interface {
	Run(ctx context.Context) error
	Sync(ctx context.Context) (syncer.CycleReport, error)
	RequeueUnsynced(ctx context.Context) (int, error)
	Online() bool
}

// Prober feeds connectivity signals to the engine.
// *connectivity.Monitor implements it.
type Prober interface {
	Run(ctx context.Context) error
}

// Config holds configuration for the daemon.
type Config struct {
	// ImportDir enables the JSONL drop directory when set.
	ImportDir string

	// DebounceInterval is how long a dropped file must stay quiet before it
	// is imported. This batches rapid writes together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon runs the sync loop, the connectivity prober, and the import inbox
// until stopped.
type Daemon struct {
	engine Engine
	writer importer.Writer
	prober Prober
	config *Config

	inbox         *Inbox
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon. prober may be nil, in which case the engine stays
// in whatever connectivity state it was given.
func New(engine Engine, writer importer.Writer, prober Prober, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}

	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ImportDir != "" && writer == nil {
		return nil, fmt.Errorf("writer is required when an import directory is set")
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		engine:      engine,
		writer:      writer,
		prober:      prober,
		config:      config,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}

	if config.ImportDir != "" {
		inbox, err := NewInbox(config.ImportDir)
		if err != nil {
			cancel()
			return nil, err
		}
		d.inbox = inbox
	}

	return d, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Re-queue local records whose queue entries were lost
// 2. Import files already waiting in the import directory
// 3. Start probing connectivity and the periodic sync loop
// 4. Import newly dropped files with debouncing
//
// This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if n, err := d.engine.RequeueUnsynced(ctx); err != nil {
		d.config.Logger.Printf("WARNING: recovery scan failed: %v", err)
	} else if n > 0 {
		d.config.Logger.Printf("Recovered %d unsynced records", n)
	}

	if d.inbox != nil {
		if err := d.inbox.Start(); err != nil {
			return err
		}
		d.config.Logger.Printf("Watching import directory: %s", d.config.ImportDir)

		pending, err := d.inbox.Pending()
		if err != nil {
			d.config.Logger.Printf("WARNING: %v", err)
		}
		for _, path := range pending {
			d.importFile(path)
		}

		d.wg.Add(2)
		go d.watchInbox()
		go d.processChangeQueue()
	}

	if d.prober != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.prober.Run(d.ctx); err != nil {
				d.config.Logger.Printf("Connectivity monitor stopped: %v", err)
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.engine.Run(d.ctx); err != nil {
			d.config.Logger.Printf("Sync loop stopped: %v", err)
		}
	}()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A cycle in flight finishes its
// current remote call before the loop exits.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		d.cancel()

		if d.inbox != nil {
			if err := d.inbox.Stop(); err != nil {
				d.config.Logger.Printf("Error closing inbox: %v", err)
			}
		}

		d.wg.Wait()

		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// watchInbox queues inbox events.
func (d *Daemon) watchInbox() {
	defer d.wg.Done()

	events := d.inbox.Events()
	errs := d.inbox.Errors()
	for {
		select {
		case <-d.ctx.Done():
			return

		case path, ok := <-events:
			if !ok {
				return
			}
			d.queueChange(path)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records a file event for debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued files once they have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges(time.Now())
		}
	}
}

// processPendingChanges imports files whose last event is older than the
// debounce interval.
func (d *Daemon) processPendingChanges(now time.Time) {
	d.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	imported := 0
	for _, path := range ready {
		imported += d.importFile(path)
	}

	if imported > 0 && d.engine.Online() {
		if _, err := d.engine.Sync(d.ctx); err != nil {
			d.config.Logger.Printf("Sync after import failed: %v", err)
		}
	}
}

// importFile imports one dropped file and moves it aside so it is not
// imported twice. Returns the number of changes written.
func (d *Daemon) importFile(path string) int {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0
	}

	d.config.Logger.Printf("Importing %s", path)

	result, err := importer.Import(d.ctx, d.writer, importer.Options{Path: path})
	if err != nil {
		d.config.Logger.Printf("Error importing %s: %v", path, err)
		d.moveAside(path, FailedSuffix)
		return 0
	}

	for _, msg := range result.Errors {
		d.config.Logger.Printf("WARNING: %s: %s", path, msg)
	}
	d.config.Logger.Printf("Imported %s: created=%d updated=%d deleted=%d skipped=%d",
		path, result.Created, result.Updated, result.Deleted, result.Skipped)

	d.moveAside(path, DoneSuffix)
	return result.Total()
}

func (d *Daemon) moveAside(path, suffix string) {
	target := strings.TrimSuffix(path, ImportExt) + ImportExt + suffix
	if err := os.Rename(path, target); err != nil {
		d.config.Logger.Printf("Error moving %s aside: %v", path, err)
	}
}
