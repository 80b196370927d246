package watcher

import (
	"time"
)

// Operation is a file system operation.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change to a watched file.
type FileEvent struct {
	// Path is the file's base name, e.g. "codes.db-wal".
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures a SourceWatcher.
type Options struct {
	// DebounceWindow is how long the file must be quiet before a batch is
	// emitted. Exports and SQLite checkpoints write in bursts. Default 2s.
	DebounceWindow time.Duration
	// PollInterval is used when fsnotify is unavailable. Default 10s.
	PollInterval time.Duration
	// ForcePolling skips fsnotify, for network mounts where it is unreliable.
	ForcePolling bool
	// EventBufferSize is the capacity of the Events channel. Default 16.
	EventBufferSize int
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  2 * time.Second,
		PollInterval:    10 * time.Second,
		EventBufferSize: 16,
	}
}

// WithDefaults fills zero values from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}
