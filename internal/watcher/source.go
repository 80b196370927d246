package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SourceWatcher reports changes to one source file and its SQLite sidecar
// files (-wal, -journal).
type SourceWatcher struct {
	dir   string
	names []string
	opts  Options

	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}

	mu      sync.Mutex
	stopped bool
}

// NewSourceWatcher creates a watcher for path. fsnotify is used unless it
// cannot be initialized or opts.ForcePolling is set.
func NewSourceWatcher(path string, opts Options) (*SourceWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	opts = opts.WithDefaults()
	base := filepath.Base(abs)

	w := &SourceWatcher{
		dir:       filepath.Dir(abs),
		names:     []string{base, base + "-wal", base + "-journal"},
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 4),
		stopCh:    make(chan struct{}),
	}
	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		} else {
			w.fsw = fsw
		}
	}
	return w, nil
}

// Mode reports "fsnotify" or "polling".
func (w *SourceWatcher) Mode() string {
	if w.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}

// Start watches until ctx is cancelled or Stop is called. It blocks.
func (w *SourceWatcher) Start(ctx context.Context) error {
	go w.forward(ctx)

	if w.fsw != nil {
		if err := w.fsw.Add(w.dir); err != nil {
			return fmt.Errorf("watch %s: %w", w.dir, err)
		}
		slog.Info("source_watch_started", slog.String("dir", w.dir), slog.String("mode", w.Mode()))
		return w.watchFsnotify(ctx)
	}

	slog.Info("source_watch_started", slog.String("dir", w.dir), slog.String("mode", w.Mode()),
		slog.Duration("interval", w.opts.PollInterval))
	newPoller(w.dir, w.names, w.opts.PollInterval).run(ctx, w.stopCh, w.debouncer.Add)
	return nil
}

func (w *SourceWatcher) watchFsnotify(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handle filters directory events down to the watched files.
func (w *SourceWatcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if !slices.Contains(w.names, name) {
		return
	}
	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}
	w.debouncer.Add(FileEvent{Path: name, Operation: op, Timestamp: time.Now()})
}

func (w *SourceWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.emit(batch)
		}
	}
}

func (w *SourceWatcher) emit(batch []FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		slog.Debug("source_change_batch_dropped", slog.Int("events", len(batch)))
	}
}

func (w *SourceWatcher) emitError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Events returns debounced change batches. Closed by Stop.
func (w *SourceWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors. Closed by Stop.
func (w *SourceWatcher) Errors() <-chan error {
	return w.errors
}

// Stop releases resources. Safe to call twice.
func (w *SourceWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	close(w.events)
	close(w.errors)
	return nil
}
