// Package daemon runs the sync engine in the background.
//
// # Architecture
//
// The daemon consists of several components:
//
//   - Engine: the sync service, ticking every interval and syncing again when
//     connectivity returns
//   - Prober: periodic reachability checks that flip the engine online/offline
//   - Inbox: an fsnotify watch on an import directory for *.jsonl files
//
// On start the daemon runs the recovery scan so that local records whose
// queue entries were lost are queued again before the first push.
//
// # Import Directory
//
// Files dropped into the import directory are imported through the normal
// local write path once they have stopped changing for the debounce
// interval:
//
//	cfg := daemon.DefaultConfig()
//	cfg.ImportDir = ".sct/inbox"
//
//	d, err := daemon.New(svc, database, monitor, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := d.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// A processed file is renamed with a .done suffix, or .failed when it could
// not be parsed, so it is never imported twice. Files present before the
// daemon started are imported at startup in name order. A successful import
// triggers an immediate sync when the engine is online.
//
// The inbox maps fsnotify operations as follows:
//   - fsnotify.Create, fsnotify.Write → queued for import
//   - fsnotify.Remove, fsnotify.Rename, fsnotify.Chmod → ignored
//
// # Graceful Shutdown
//
// Cancelling the context passed to Start, or calling Stop, will:
//  1. Cancel the sync loop and the prober
//  2. Close the inbox watcher and its channels
//  3. Wait for every goroutine to finish
package daemon
