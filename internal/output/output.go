// Package output formats one-shot CLI messages (doctor results, search hits, sync summaries).
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/qter21/legal-codes-search-api/internal/ui"
)

// Writer prints status lines styled with the ui palette.
type Writer struct {
	out    io.Writer
	styles ui.Styles
}

// New creates a Writer. Color is used only when out is a terminal and NO_COLOR is unset.
func New(out io.Writer) *Writer {
	noColor := ui.DetectNoColor() || !ui.IsTTY(out)
	return &Writer{out: out, styles: ui.GetStyles(noColor)}
}

// NewPlain creates a Writer that never emits ANSI sequences.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out, styles: ui.NoColorStyles()}
}

// Status prints msg prefixed with icon. Write errors are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("✗"), msg)
}

func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Header prints a bold title line.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(title))
}

// KeyValue prints an aligned "label: value" row.
func (w *Writer) KeyValue(label, value string) {
	_, _ = fmt.Fprintf(w.out, "  %s %s\n", w.styles.Label.Render(fmt.Sprintf("%-12s", label+":")), value)
}

// Dim prints a de-emphasised line.
func (w *Writer) Dim(msg string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Dim.Render(msg))
}

// Code prints content indented by two spaces, framed by blank lines.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
