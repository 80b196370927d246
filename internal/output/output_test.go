package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Success_PrintsCheckmark(t *testing.T) {
	// Given: a plain writer
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	// When
	w.Success("Sync complete")

	// Then
	assert.Equal(t, "✓ Sync complete\n", buf.String())
}

func TestWriter_WarningAndError(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Warningf("%d sections failed", 2)
	w.Errorf("source %q unreachable", "codes.db")

	assert.Equal(t, "! 2 sections failed\n✗ source \"codes.db\" unreachable\n", buf.String())
}

func TestWriter_New_NonTTYHasNoEscapes(t *testing.T) {
	// Given: a buffer is never a terminal
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Header("legalcodes")
	w.KeyValue("documents", "42")

	assert.NotContains(t, buf.String(), "\x1b[")
	assert.Contains(t, buf.String(), "documents:")
	assert.Contains(t, buf.String(), "42")
}

func TestWriter_Status_EmptyIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	NewPlain(buf).Status("", "continued")
	assert.Equal(t, "   continued\n", buf.String())
}

func TestWriter_Code_IndentsEachLine(t *testing.T) {
	buf := &bytes.Buffer{}
	NewPlain(buf).Code("a\nb")
	assert.Equal(t, "\n  a\n  b\n\n", buf.String())
}
