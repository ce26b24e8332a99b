package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/remote"
)

const (
	// CursorKey holds the pull watermark.
	CursorKey = "sync.cursor"

	// LastSyncedKey holds the completion time of the last cycle.
	LastSyncedKey = "sync.last_synced_at"
)

// epoch is the cursor value when none has been persisted.
var epoch = time.Unix(0, 0).UTC()

// Cursor returns the persisted pull watermark. A missing or unreadable value
// yields the epoch, which means a full pull.
func (s *Service) Cursor(ctx context.Context) (time.Time, error) {
	value, ok, err := s.local.GetMeta(ctx, CursorKey)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read cursor: %w", err)
	}
	if !ok {
		return epoch, nil
	}

	t, ok := remote.ParseTimestamp(value)
	if !ok {
		s.logger.Printf("WARNING: Ignoring invalid cursor %q, pulling from the beginning", value)
		return epoch, nil
	}
	return t, nil
}

// advanceCursor persists candidate if it is later than the stored cursor.
// Returns the cursor in effect afterwards and whether it moved.
func (s *Service) advanceCursor(ctx context.Context, candidate time.Time) (time.Time, bool, error) {
	current, err := s.Cursor(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	if !candidate.After(current) {
		return current, false, nil
	}

	if err := s.local.SetMeta(ctx, CursorKey, remote.FormatTimestamp(candidate)); err != nil {
		return current, false, fmt.Errorf("failed to persist cursor: %w", err)
	}
	return candidate.UTC(), true, nil
}

// LastSyncedAt returns when the last cycle completed, or zero if never.
func (s *Service) LastSyncedAt(ctx context.Context) (time.Time, error) {
	value, ok, err := s.local.GetMeta(ctx, LastSyncedKey)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last synced marker: %w", err)
	}
	if !ok {
		return time.Time{}, nil
	}
	t, _ := remote.ParseTimestamp(value)
	return t, nil
}

func (s *Service) markLastSynced(ctx context.Context, at time.Time) error {
	if err := s.local.SetMeta(ctx, LastSyncedKey, remote.FormatTimestamp(at)); err != nil {
		return fmt.Errorf("failed to persist last synced marker: %w", err)
	}
	return nil
}
