package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ImportExt is the extension of files picked up from the import directory.
const ImportExt = ".jsonl"

// Inbox watches a directory for JSONL files dropped in for import.
type Inbox struct {
	watcher *fsnotify.Watcher
	dir     string
	events  chan string
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewInbox creates an Inbox for dir. Call Start to begin watching.
func NewInbox(dir string) (*Inbox, error) {
	if dir == "" {
		return nil, fmt.Errorf("inbox directory cannot be empty")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Inbox{
		watcher: watcher,
		dir:     dir,
		events:  make(chan string, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start creates the directory if needed and begins watching it.
func (in *Inbox) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running {
		return fmt.Errorf("inbox already running")
	}

	if err := os.MkdirAll(in.dir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox %s: %w", in.dir, err)
	}
	if err := in.watcher.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", in.dir, err)
	}

	in.running = true
	in.wg.Add(1)
	go in.processEvents()

	return nil
}

// Stop stops watching and closes the event channels.
func (in *Inbox) Stop() error {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return in.watcher.Close()
	}
	in.running = false
	in.mu.Unlock()

	close(in.done)

	if err := in.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	in.wg.Wait()

	close(in.events)
	close(in.errors)

	return nil
}

// Events emits paths of created or rewritten import files.
func (in *Inbox) Events() <-chan string {
	return in.events
}

// Errors emits watcher errors.
func (in *Inbox) Errors() <-chan error {
	return in.errors
}

// Pending lists import files already in the directory, oldest name first.
func (in *Inbox) Pending() ([]string, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !isImportFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(in.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func (in *Inbox) processEvents() {
	defer in.wg.Done()

	for {
		select {
		case <-in.done:
			return

		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}

			path, ok := convertEvent(event)
			if !ok {
				continue
			}
			select {
			case in.events <- path:
			case <-in.done:
				return
			}

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}

			select {
			case in.errors <- err:
			case <-in.done:
				return
			}
		}
	}
}

// convertEvent keeps creates and writes of import files. Removals and renames
// are ignored since the daemon moves files away itself after importing.
func convertEvent(event fsnotify.Event) (string, bool) {
	if !isImportFile(event.Name) {
		return "", false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	return event.Name, true
}

func isImportFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ImportExt) && !strings.HasPrefix(base, ".")
}

// IsRunning reports whether the inbox is watching.
func (in *Inbox) IsRunning() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.running
}
