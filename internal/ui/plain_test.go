package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainRenderer_Progress(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf, WithTarget("ca-codes")))
	require.NoError(t, r.Start(context.Background()))

	// When: a run walks through its stages
	r.UpdateProgress(ProgressEvent{Stage: StageRetrying, Documents: 3})
	r.UpdateProgress(ProgressEvent{Stage: StageReading, Batch: 1})
	r.UpdateProgress(ProgressEvent{Stage: StageWriting, Batch: 1, Documents: 1000, Committed: 990, Failed: 10})
	r.UpdateProgress(ProgressEvent{Stage: StageEncoding, Message: "embedding with static"})

	// Then
	out := buf.String()
	assert.Contains(t, out, "Syncing ca-codes")
	assert.Contains(t, out, "[RETRY] 3 previously failed documents")
	assert.Contains(t, out, "[READ] batch 1")
	assert.Contains(t, out, "[WRITE] batch 1: 1000 documents (committed 990, failed 10)")
	assert.Contains(t, out, "[ENCODE] embedding with static")
	assert.NotContains(t, out, "\x1b[", "plain output carries no ANSI escapes")
}

func TestPlainRenderer_AddError(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.AddError(ErrorEvent{DocumentID: "fam-3044", Err: errors.New("encoding failed")})
	r.AddError(ErrorEvent{Err: errors.New("slow source"), IsWarn: true})

	assert.Contains(t, buf.String(), "ERROR: fam-3044: encoding failed")
	assert.Contains(t, buf.String(), "WARN: slow source")
}

func TestPlainRenderer_Complete(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(CompletionStats{
		Committed: 97,
		Failed:    3,
		Unchanged: 10,
		Retried:   2,
		Gaps:      1,
		Batches:   2,
		Watermark: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Embedder:  EmbedderInfo{Backend: "static", Model: "static", Dimensions: 256},
	})

	out := buf.String()
	assert.Contains(t, out, "Sync complete: 97 committed, 3 failed, 0 skipped, 10 unchanged in 1.5s (2 batches)")
	assert.Contains(t, out, "Retried:   2")
	assert.Contains(t, out, "Gaps:      1")
	assert.Contains(t, out, "Watermark: 2024-03-01T12:00:00Z")
	assert.Contains(t, out, "static (static, 256 dims)")
}

func TestPlainRenderer_CompleteWithError(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(CompletionStats{Err: errors.New("source unreachable")})

	assert.Contains(t, buf.String(), "Sync stopped")
	assert.Contains(t, buf.String(), "Error:     source unreachable")
	assert.NoError(t, r.Stop())
}
