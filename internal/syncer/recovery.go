package syncer

import (
	"context"
	"fmt"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/store"
)

// RequeueUnsynced enqueues a create for every local record still flagged
// unsynced that has no create entry queued. It repairs a queue that lost
// entries, e.g. after a crash or a cleared queue, and is safe to run
// repeatedly. Failures are logged per table and the scan continues.
// Returns the number of entries added.
func (s *Service) RequeueUnsynced(ctx context.Context) (int, error) {
	s.logger.Println("Re-queueing unsynced records")

	added := 0
	failed := 0
	for _, t := range s.tables {
		n, err := s.requeueTable(ctx, t.Local)
		added += n
		if err != nil {
			s.logger.Printf("WARNING: Failed to re-queue %s: %v", t.Local, err)
			failed++
		}
	}

	s.logger.Printf("Re-queue complete: added=%d (tables failed=%d)", added, failed)
	if failed == len(s.tables) && failed > 0 {
		return added, fmt.Errorf("re-queue failed for all %d tables", failed)
	}
	return added, nil
}

func (s *Service) requeueTable(ctx context.Context, table string) (int, error) {
	records, err := s.local.UnsyncedRecords(ctx, table)
	if err != nil {
		return 0, err
	}
	if len(records) > 0 {
		s.logger.Printf("Found %d unsynced records in %s", len(records), table)
	}

	added := 0
	for _, rec := range records {
		id := rec.ID()
		if id == "" {
			continue
		}

		queued, err := s.local.HasCreateEntry(ctx, table, id)
		if err != nil {
			return added, err
		}
		if queued {
			continue
		}

		if _, err := s.local.Enqueue(ctx, table, store.ActionCreate, rec); err != nil {
			return added, err
		}
		added++
	}

	return added, nil
}
