package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, for CI and pipes.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	target string
	errors int
	warns  int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, target: cfg.Target}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.target != "" {
		_, _ = fmt.Fprintf(r.out, "Syncing %s\n", r.target)
	}
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case ev.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", ev.Stage.Icon(), ev.Message)
	case ev.Stage == StageRetrying:
		_, _ = fmt.Fprintf(r.out, "[%s] %d previously failed documents\n", ev.Stage.Icon(), ev.Documents)
	case ev.Stage == StageReading:
		_, _ = fmt.Fprintf(r.out, "[%s] batch %d\n", ev.Stage.Icon(), ev.Batch)
	case ev.Documents > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] batch %d: %d documents (committed %d, failed %d)\n",
			ev.Stage.Icon(), ev.Batch, ev.Documents, ev.Committed, ev.Failed)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(ev ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if ev.IsWarn {
		prefix = "WARN"
		r.warns++
	} else {
		r.errors++
	}
	if ev.DocumentID != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, ev.DocumentID, ev.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, ev.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(s CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := "Sync complete"
	if s.Err != nil {
		status = "Sync stopped"
	}
	_, _ = fmt.Fprintf(r.out, "%s: %d committed, %d failed, %d skipped, %d unchanged in %s (%d batches)\n",
		status, s.Committed, s.Failed, s.Skipped, s.Unchanged, s.Duration.Round(100*time.Millisecond), s.Batches)
	if s.Retried > 0 {
		_, _ = fmt.Fprintf(r.out, "  Retried:   %d\n", s.Retried)
	}
	if s.Gaps > 0 {
		_, _ = fmt.Fprintf(r.out, "  Gaps:      %d documents exceeded the retry limit\n", s.Gaps)
	}
	if !s.Watermark.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Watermark: %s\n", s.Watermark.UTC().Format(time.RFC3339))
	}
	if s.Embedder.Backend != "" {
		_, _ = fmt.Fprintf(r.out, "  Embedder:  %s (%s, %d dims)\n", s.Embedder.Backend, s.Embedder.Model, s.Embedder.Dimensions)
	}
	if s.Err != nil {
		_, _ = fmt.Fprintf(r.out, "  Error:     %v\n", s.Err)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

var _ Renderer = (*PlainRenderer)(nil)
