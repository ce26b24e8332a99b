// Package connectivity turns periodic reachability probes of the remote into
// online/offline signals for the sync engine.
package connectivity

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/remote"
)

// Target receives connectivity changes. *syncer.Service implements it.
type Target interface {
	SetOnline(online bool)
}

// Config holds configuration for the monitor.
type Config struct {
	// Interval between probes (default: 15s).
	Interval time.Duration

	// Timeout bounds a single probe (default: 5s).
	Timeout time.Duration

	// Logger for transitions (default: stderr with [net] prefix).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 15 * time.Second,
		Timeout:  5 * time.Second,
		Logger:   log.New(os.Stderr, "[net] ", log.LstdFlags),
	}
}

// Monitor probes a remote and forwards state changes to a Target.
type Monitor struct {
	pinger remote.Pinger
	target Target
	config *Config

	known  atomic.Bool
	online atomic.Bool
}

// NewMonitor creates a monitor. Call Run to start probing.
func NewMonitor(pinger remote.Pinger, target Target, config *Config) (*Monitor, error) {
	if pinger == nil {
		return nil, fmt.Errorf("pinger cannot be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target cannot be nil")
	}

	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Monitor{pinger: pinger, target: target, config: config}, nil
}

// Online reports the result of the last probe.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Check probes once and signals the target. The first probe always signals;
// later ones only on change.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	err := m.pinger.Ping(probeCtx)
	cancel()

	online := err == nil
	was := m.online.Swap(online)
	first := !m.known.Swap(true)

	if first || was != online {
		if online {
			m.config.Logger.Println("Remote reachable")
		} else {
			m.config.Logger.Printf("WARNING: Remote unreachable: %v", err)
		}
		m.target.SetOnline(online)
	}
	return online
}

// Run probes immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
