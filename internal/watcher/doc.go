// Package watcher notices changes to the source-of-truth file so that a
// long-running server can start an incremental sync without waiting for the
// next scheduled run.
//
// The source is a single file (a JSONL export or a SQLite database). Its
// parent directory is watched with fsnotify so that atomic replace-by-rename
// is seen; when fsnotify cannot be used the file is polled instead. Bursts of
// writes are debounced into one batch.
//
// Usage:
//
//	w, err := watcher.NewSourceWatcher("/data/codes.db", watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go w.Start(ctx)
//
//	for batch := range w.Events() {
//	    scheduler.Trigger(sync.ModeIncremental)
//	}
package watcher
