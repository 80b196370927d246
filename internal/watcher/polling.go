package watcher

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

type fileSnapshot struct {
	exists  bool
	modTime time.Time
	size    int64
}

// poller stats a fixed set of files on an interval and reports differences.
type poller struct {
	dir      string
	names    []string
	interval time.Duration
	state    map[string]fileSnapshot
}

func newPoller(dir string, names []string, interval time.Duration) *poller {
	p := &poller{dir: dir, names: names, interval: interval}
	p.state = p.snapshot()
	return p
}

func (p *poller) snapshot() map[string]fileSnapshot {
	out := make(map[string]fileSnapshot, len(p.names))
	for _, name := range p.names {
		info, err := os.Stat(filepath.Join(p.dir, name))
		if err != nil {
			out[name] = fileSnapshot{}
			continue
		}
		out[name] = fileSnapshot{exists: true, modTime: info.ModTime(), size: info.Size()}
	}
	return out
}

// diff compares the current state with the last one and returns the changes.
func (p *poller) diff(now time.Time) []FileEvent {
	current := p.snapshot()
	var events []FileEvent
	for _, name := range p.names {
		prev, cur := p.state[name], current[name]
		var op Operation
		switch {
		case !prev.exists && cur.exists:
			op = OpCreate
		case prev.exists && !cur.exists:
			op = OpDelete
		case cur.exists && (prev.modTime != cur.modTime || prev.size != cur.size):
			op = OpModify
		default:
			continue
		}
		events = append(events, FileEvent{Path: name, Operation: op, Timestamp: now})
	}
	p.state = current
	return events
}

// run polls until ctx or stop is done, handing every change to emit.
func (p *poller) run(ctx context.Context, stop <-chan struct{}, emit func(FileEvent)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-ticker.C:
			for _, ev := range p.diff(now) {
				emit(ev)
			}
		}
	}
}
