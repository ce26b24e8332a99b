package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/remote"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/store"
)

// Status is a point-in-time view of the sync engine.
type Status struct {
	State          string             `json:"state" yaml:"state"`
	Online         bool               `json:"online" yaml:"online"`
	Interval       string             `json:"interval" yaml:"interval"`
	Cursor         time.Time          `json:"cursor" yaml:"cursor"`
	LastSyncedAt   time.Time          `json:"last_synced_at,omitempty" yaml:"last_synced_at,omitempty"`
	Queue          store.QueueSummary `json:"queue" yaml:"queue"`
	FailedAttempts int                `json:"failed_attempts" yaml:"failed_attempts"`
}

// Status reports the orchestrator state, cursor, and queue counts.
func (s *Service) Status(ctx context.Context) (Status, error) {
	cursor, err := s.Cursor(ctx)
	if err != nil {
		return Status{}, err
	}
	last, err := s.LastSyncedAt(ctx)
	if err != nil {
		return Status{}, err
	}
	queue, err := s.QueueSummary(ctx, 0)
	if err != nil {
		return Status{}, err
	}

	return Status{
		State:          s.State().String(),
		Online:         s.Online(),
		Interval:       s.Interval().String(),
		Cursor:         cursor,
		LastSyncedAt:   last,
		Queue:          queue,
		FailedAttempts: s.failedAttempts,
	}, nil
}

// QueueSummary counts queued entries. Entries with at least minAttempts
// failed pushes are reported as failed; minAttempts <= 0 uses the
// configured threshold.
func (s *Service) QueueSummary(ctx context.Context, minAttempts int) (store.QueueSummary, error) {
	return s.local.Summary(ctx, s.threshold(minAttempts))
}

// ClearFailed drops entries with at least minAttempts failed pushes.
func (s *Service) ClearFailed(ctx context.Context, minAttempts int) (int64, error) {
	n, err := s.local.ClearFailed(ctx, s.threshold(minAttempts))
	if err != nil {
		return 0, err
	}
	s.logger.Printf("Cleared %d failed queue entries", n)
	return n, nil
}

// ClearQueue drops every queued entry. Unpushed local changes stay flagged
// unsynced and can be re-queued with RequeueUnsynced.
func (s *Service) ClearQueue(ctx context.Context) (int64, error) {
	n, err := s.local.ClearQueue(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Printf("Cleared %d queue entries", n)
	return n, nil
}

// ResetCursor forgets the pull watermark so the next pull fetches everything.
func (s *Service) ResetCursor(ctx context.Context) error {
	if err := s.local.DeleteMeta(ctx, CursorKey); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	s.logger.Println("Cursor reset, next pull is a full resync")
	return nil
}

// SetCursor moves the watermark to t, backward or forward. This is the only
// way besides ResetCursor for the cursor to move back.
func (s *Service) SetCursor(ctx context.Context, t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("cursor time is required")
	}
	if err := s.local.SetMeta(ctx, CursorKey, remote.FormatTimestamp(t)); err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	s.logger.Printf("Cursor set to %s", remote.FormatTimestamp(t))
	return nil
}

func (s *Service) threshold(minAttempts int) int {
	if minAttempts <= 0 {
		return s.failedAttempts
	}
	return minAttempts
}
