// Package syncer reconciles the local store with the remote store.
//
// Overview
//
// Local writes land in the store together with an outbound queue entry.
// A Service drains that queue to the remote (push) and then fetches remote
// changes newer than a persisted watermark (pull):
//
//	local write ──► records + sync_queue (one transaction)
//	                      │
//	        Service.Sync / tick / back online
//	                      │
//	         Push: queue ──► remote (in order, stop at first failure)
//	         Pull: remote ──► records (paged, cursor advances at the end)
//
// Push
//
// Entries are sent one at a time in enqueue order. Placeholder owners
// ("local-user", "current-user", empty) are replaced with the session user
// and the local synced flag is stripped. A confirmed entry is removed and
// its record marked synced; the first failure bumps the entry's attempt
// counter and ends the pass so dependent mutations never overtake it.
//
// Pull
//
// Each mapped table is paged by (change field, id) after the cursor. Page
// fetches are retried on transient failures. Pulled rows are written as
// synced and never enqueued, so a pull cannot echo back as a push.
//
// The cursor is the latest change timestamp seen in a complete pass, or the
// current time when the pass found nothing. It only moves forward, except
// through ResetCursor and SetCursor.
//
// Usage
//
//	database, err := store.Open(".sct/local.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//
//	svc, err := syncer.New(database, remoteStore, nil)
//	if err != nil {
//	    return err
//	}
//
//	// One cycle now
//	report, err := svc.Sync(ctx)
//
//	// Or keep syncing every 30s until ctx is cancelled
//	go svc.Run(ctx)
//
// Concurrency
//
// Only one cycle runs at a time. A trigger that arrives while a cycle is in
// flight returns immediately with a Skipped report.
package syncer
