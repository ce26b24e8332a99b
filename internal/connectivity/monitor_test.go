package connectivity

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/remote"
)

type recordingTarget struct {
	mu      sync.Mutex
	signals []bool
}

func (r *recordingTarget) SetOnline(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, online)
}

func (r *recordingTarget) got() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.signals...)
}

func newTestMonitor(t *testing.T, mem *remote.Memory, target Target, interval time.Duration) *Monitor {
	t.Helper()
	m, err := NewMonitor(mem, target, &Config{
		Interval: interval,
		Timeout:  time.Second,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewMonitor() failed: %v", err)
	}
	return m
}

func TestCheck_SignalsTransitions(t *testing.T) {
	mem := remote.NewMemory("U1")
	target := &recordingTarget{}
	m := newTestMonitor(t, mem, target, time.Hour)
	ctx := context.Background()

	m.Check(ctx)
	m.Check(ctx)
	mem.SetOffline(true)
	m.Check(ctx)
	m.Check(ctx)
	mem.SetOffline(false)
	if !m.Check(ctx) {
		t.Error("Check() = false after the remote came back")
	}

	if diff := cmp.Diff([]bool{true, false, true}, target.got()); diff != "" {
		t.Errorf("signals mismatch (-want +got):\n%s", diff)
	}
	if !m.Online() {
		t.Error("Online() = false")
	}
}

func TestCheck_FirstProbeOffline(t *testing.T) {
	mem := remote.NewMemory("U1")
	mem.SetOffline(true)
	target := &recordingTarget{}
	m := newTestMonitor(t, mem, target, time.Hour)

	if m.Check(context.Background()) {
		t.Error("Check() = true for an offline remote")
	}
	if diff := cmp.Diff([]bool{false}, target.got()); diff != "" {
		t.Errorf("signals mismatch (-want +got):\n%s", diff)
	}
}

func TestRun(t *testing.T) {
	mem := remote.NewMemory("U1")
	target := &recordingTarget{}
	m := newTestMonitor(t, mem, target, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	mem.SetOffline(true)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := target.got(); len(got) >= 2 && !got[len(got)-1] {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() returned %v", err)
	}

	got := target.got()
	if len(got) < 2 || got[len(got)-1] {
		t.Errorf("signals = %v, want an offline transition", got)
	}
}

func TestNewMonitor_Validation(t *testing.T) {
	if _, err := NewMonitor(nil, &recordingTarget{}, nil); err == nil {
		t.Error("NewMonitor(nil pinger) succeeded")
	}
	if _, err := NewMonitor(remote.NewMemory(""), nil, nil); err == nil {
		t.Error("NewMonitor(nil target) succeeded")
	}

	m, err := NewMonitor(remote.NewMemory(""), &recordingTarget{}, &Config{})
	if err != nil {
		t.Fatalf("NewMonitor() failed: %v", err)
	}
	if m.config.Interval != 15*time.Second || m.config.Timeout != 5*time.Second {
		t.Errorf("defaults not applied: %+v", m.config)
	}
}
