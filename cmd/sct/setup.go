package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/config"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/remote"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/retry"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/store"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/syncer"
)

// fatal prints an error and exits.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStore opens the local database and makes sure the schema exists.
func openStore() *store.DB {
	database, err := store.Open(cfg.DB.Path)
	if err != nil {
		fatal("opening local database: %v", err)
	}
	if err := database.InitSchema(); err != nil {
		database.Close()
		fatal("initializing schema: %v", err)
	}
	return database
}

// openRemote connects to the configured remote store. The returned closer
// releases any connection it holds.
func openRemote(rc config.RemoteConfig) (remote.Store, io.Closer, error) {
	if err := rc.Validate(); err != nil {
		return nil, nil, err
	}

	switch rc.Kind {
	case config.RemotePostgREST:
		client, err := remote.NewPostgREST(remote.PostgRESTConfig{
			URL:         rc.URL,
			AnonKey:     rc.AnonKey,
			AccessToken: rc.AccessToken,
			UserID:      rc.UserID,
			Timeout:     rc.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, nopCloser{}, nil

	case config.RemotePostgres:
		pg, err := remote.OpenPostgres(rc.DSN, rc.UserID)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg, nil

	case config.RemoteMemory:
		return remote.NewMemory(rc.UserID), nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unknown remote kind %q", rc.Kind)
}

// loadTables returns the configured table mapping.
func loadTables() (syncer.Mapping, error) {
	tables := syncer.DefaultTables()
	if cfg.Sync.TablesFile != "" {
		var err error
		tables, err = syncer.LoadTables(cfg.Sync.TablesFile)
		if err != nil {
			return nil, err
		}
	}
	return tables.WithPageSize(cfg.Sync.PageSize), nil
}

// engine bundles what a sync command needs and how to release it.
type engine struct {
	db     *store.DB
	remote remote.Store
	svc    *syncer.Service
	closer io.Closer
}

func (e *engine) Close() {
	_ = e.closer.Close()
	_ = e.db.Close()
}

// openEngine wires the local store, the remote, and the sync service.
func openEngine() *engine {
	database := openStore()

	rem, closer, err := openRemote(cfg.Remote)
	if err != nil {
		database.Close()
		fatal("connecting to remote: %v", err)
	}

	tables, err := loadTables()
	if err != nil {
		database.Close()
		_ = closer.Close()
		fatal("%v", err)
	}

	svc, err := syncer.New(database, rem, &syncer.Config{
		Tables:         tables,
		Interval:       cfg.Sync.Interval,
		FailedAttempts: cfg.Sync.FailedAttempts,
		Retry: retry.Policy{
			Attempts: cfg.Sync.RetryAttempts,
			Backoff:  retry.Linear(cfg.Sync.RetryBackoff),
		},
		Logger: logs.Logger("sync"),
	})
	if err != nil {
		database.Close()
		_ = closer.Close()
		fatal("creating sync service: %v", err)
	}

	return &engine{db: database, remote: rem, svc: svc, closer: closer}
}

// openLocalService builds a service for commands that only read or reset
// local sync state. Its remote is never contacted.
func openLocalService(database *store.DB) *syncer.Service {
	tables, err := loadTables()
	if err != nil {
		fatal("%v", err)
	}
	svc, err := syncer.New(database, remote.NewMemory(""), &syncer.Config{
		Tables:         tables,
		Interval:       cfg.Sync.Interval,
		FailedAttempts: cfg.Sync.FailedAttempts,
		Logger:         logs.Logger("sync"),
	})
	if err != nil {
		fatal("creating sync service: %v", err)
	}
	return svc
}

// confirm asks before a destructive operation. Without a terminal the
// answer is no unless --yes was given.
func confirm(yes bool, title string) bool {
	if yes {
		return true
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "Refusing without --yes: stdin is not a terminal\n")
		return false
	}

	ok := false
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false
	}
	return ok
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
