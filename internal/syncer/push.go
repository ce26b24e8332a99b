package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/remote"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/store"
)

// placeholderUsers are owner ids written by the app before sign-in.
var placeholderUsers = map[string]bool{
	"":             true,
	"local-user":   true,
	"current-user": true,
}

// errSkipEntry marks an entry that cannot be pushed but must not block the queue.
var errSkipEntry = errors.New("entry skipped")

// PushReport summarizes one push pass.
// Processed counts entries removed from the queue, Skipped included.
type PushReport struct {
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped,omitempty"`
	Halted    bool   `json:"halted,omitempty"`
	HaltedSeq int64  `json:"halted_seq,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Push sends queued mutations to the remote store strictly in enqueue order.
// Each confirmed entry is removed and its record marked synced. The first
// failure records an attempt on that entry and ends the pass, leaving it and
// everything after it queued. A failed entry is not an error of the pass.
func (s *Service) Push(ctx context.Context, session *remote.Session) (PushReport, error) {
	var report PushReport

	entries, err := s.local.QueueEntries(ctx)
	if err != nil {
		return report, err
	}
	if len(entries) == 0 {
		return report, nil
	}
	if session == nil {
		s.logger.Printf("No active session, skipping push of %d changes", len(entries))
		return report, nil
	}

	s.logger.Printf("Pushing %d changes for user %s", len(entries), session.UserID)

	for _, entry := range entries {
		err := s.pushEntry(ctx, session, entry)
		skipped := errors.Is(err, errSkipEntry)

		if err != nil && !skipped {
			s.logger.Printf("Failed to push %s %s (entry %d): %v", entry.Action, entry.Table, entry.Seq, err)
			if rerr := s.local.RecordFailure(ctx, entry.Seq, err); rerr != nil {
				s.logger.Printf("WARNING: %v", rerr)
			}
			report.Halted = true
			report.HaltedSeq = entry.Seq
			report.Error = err.Error()
			return report, nil
		}
		if skipped {
			s.logger.Printf("WARNING: Skipping queue entry %d: %v", entry.Seq, err)
			report.Skipped++
		}

		if err := s.local.RemoveEntry(ctx, entry.Seq); err != nil {
			// The remote already holds the change; the entry replays next pass.
			s.logger.Printf("WARNING: failed to remove pushed entry %d: %v", entry.Seq, err)
			report.Halted = true
			report.HaltedSeq = entry.Seq
			report.Error = err.Error()
			return report, nil
		}
		report.Processed++

		if !skipped && entry.Action != store.ActionDelete {
			s.markSynced(ctx, entry)
		}
	}

	return report, nil
}

// pushEntry performs the remote mutation for one queue entry.
func (s *Service) pushEntry(ctx context.Context, session *remote.Session, entry store.QueueEntry) error {
	table := s.tables.RemoteName(entry.Table)

	switch entry.Action {
	case store.ActionDelete:
		id := entry.RecordID()
		if id == "" {
			return fmt.Errorf("delete on %s without id: %w", entry.Table, errSkipEntry)
		}
		return s.remote.Delete(ctx, table, id)

	case store.ActionCreate, store.ActionUpdate:
		rec := entry.PayloadRecord()
		if rec == nil {
			return fmt.Errorf("%s payload for %s is not an object", entry.Action, entry.Table)
		}
		row := outboundRow(rec, session)

		if entry.Action == store.ActionCreate {
			return s.remote.Insert(ctx, table, row)
		}
		id := rec.ID()
		if id == "" {
			return fmt.Errorf("update on %s without id", entry.Table)
		}
		return s.remote.Update(ctx, table, id, row)
	}

	return fmt.Errorf("unknown action %q", entry.Action)
}

// outboundRow prepares a record for the remote: the local synced flag is
// dropped and a placeholder owner becomes the session user.
func outboundRow(rec store.Record, session *remote.Session) remote.Row {
	row := remote.Row(rec.Clone())
	delete(row, "synced")

	if session != nil && session.UserID != "" && isPlaceholderUser(row["user_id"]) {
		row["user_id"] = session.UserID
	}
	return row
}

func isPlaceholderUser(v any) bool {
	switch id := v.(type) {
	case nil:
		return true
	case string:
		return placeholderUsers[id]
	}
	return false
}

// markSynced flags the local record after a confirmed push. Failure is only logged.
func (s *Service) markSynced(ctx context.Context, entry store.QueueEntry) {
	id := entry.RecordID()
	if id == "" {
		return
	}

	err := s.local.MarkSynced(ctx, entry.Table, id)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		// Deleted locally after it was queued.
	default:
		s.logger.Printf("WARNING: Failed to mark %s/%s synced: %v", entry.Table, id, err)
	}
}
