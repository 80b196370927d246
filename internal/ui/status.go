package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/qter21/legal-codes-search-api/internal/status"
)

// StatusRenderer prints a status snapshot.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes a human-readable report.
func (r *StatusRenderer) Render(info *status.Snapshot) error {
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(r.out, format, args...) }

	p("%s\n\n", r.styles.Header.Render("Index status: "+info.Target))
	p("  Documents:  %d\n", info.Documents)
	p("  Vectors:    %d", info.Vectors)
	if info.Orphans > 0 {
		p(" (%d orphaned)", info.Orphans)
	}
	p("\n")
	if info.Watermark.IsZero() {
		p("  Watermark:  %s\n", r.styles.Warning.Render("never synced"))
	} else {
		p("  Watermark:  %s (%s)\n", info.Watermark.UTC().Format(time.RFC3339), formatTime(info.Watermark))
	}
	p("\n")

	if run := info.LastRun; run != nil {
		p("  Last run:\n")
		p("    Mode:     %s\n", run.Mode)
		p("    Status:   %s\n", r.renderStatus(run.Status))
		p("    Started:  %s\n", formatTime(run.StartedAt))
		p("    Result:   %d committed, %d failed\n", run.Committed, run.Failed)
		if run.Error != "" {
			p("    Error:    %s\n", r.styles.Error.Render(run.Error))
		}
		p("\n")
	}

	p("  Failures:\n")
	p("    Pending:   %d\n", info.PendingFailures)
	if info.ExhaustedFailures > 0 {
		p("    Exhausted: %s\n", r.styles.Error.Render(fmt.Sprintf("%d", info.ExhaustedFailures)))
	} else {
		p("    Exhausted: 0\n")
	}
	p("\n")

	p("  Storage:\n")
	p("    Lexical:  %s\n", FormatBytes(info.LexicalSize))
	p("    Vectors:  %s\n", FormatBytes(info.VectorSize))
	p("    State:    %s\n", FormatBytes(info.StateSize))
	p("\n")

	p("  Embedder:\n")
	p("    Type:     %s\n", info.EmbedderType)
	if info.EmbedderModel != "" {
		p("    Model:    %s (%d dims)\n", info.EmbedderModel, info.Dimensions)
	}
	p("    Status:   %s\n", r.renderStatus(info.EmbedderStatus))
	return nil
}

// RenderJSON writes info as indented JSON.
func (r *StatusRenderer) RenderJSON(info *status.Snapshot) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "succeeded":
		return r.styles.Success.Render(status)
	case "offline", "running", "partial":
		return r.styles.Warning.Render(status)
	case "error", "failed":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime renders t relative to now.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}
