// Package ui renders sync progress and index status in the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a step of the sync pipeline as shown to the operator.
type Stage int

const (
	StageRetrying Stage = iota
	StageReading
	StageEncoding
	StageWriting
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageRetrying:
		return "Retrying"
	case StageReading:
		return "Reading"
	case StageEncoding:
		return "Encoding"
	case StageWriting:
		return "Writing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short tag used in plain output.
func (s Stage) Icon() string {
	switch s {
	case StageRetrying:
		return "RETRY"
	case StageReading:
		return "READ"
	case StageEncoding:
		return "ENCODE"
	case StageWriting:
		return "WRITE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is one progress update.
type ProgressEvent struct {
	Stage Stage
	// Batch is the 1-based batch number, 0 outside a batch.
	Batch int
	// Documents is the size of the batch or retry set.
	Documents int
	// Processed, Committed and Failed are running totals for the run.
	Processed int
	Committed int
	Failed    int
	Message   string
}

// ErrorEvent is a per-document failure or a warning.
type ErrorEvent struct {
	DocumentID string
	Err        error
	IsWarn     bool
}

// EmbedderInfo describes the embedding backend.
type EmbedderInfo struct {
	Backend    string
	Model      string
	Dimensions int
}

// CompletionStats summarizes a finished run.
type CompletionStats struct {
	Target    string
	Mode      string
	Committed int
	Failed    int
	Skipped   int
	Unchanged int
	Retried   int
	Gaps      int
	Batches   int
	Watermark time.Time
	Duration  time.Duration
	Embedder  EmbedderInfo
	Err       error
}

// Renderer displays sync progress.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Target is the index target shown in the header.
	Target string
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithTarget sets the target name shown in the header.
func WithTarget(target string) ConfigOption {
	return func(c *Config) { c.Target = target }
}

// NewConfig creates a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the TUI for interactive terminals and plain text for
// pipes, CI and --no-tui.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether the process runs under a CI system.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
