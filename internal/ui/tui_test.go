package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestNewTUIRenderer_NonTTY(t *testing.T) {
	r, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))

	assert.Error(t, err)
	assert.Nil(t, r)
}

func newTestModel(tracker *ProgressTracker) *syncModel {
	m := newSyncModel(tracker, "ca-codes")
	m.styles = NoColorStyles()
	return m
}

func TestSyncModel_StagesAndTitle(t *testing.T) {
	// Given: a model in the encoding stage
	tracker := NewProgressTracker()
	tracker.Apply(ProgressEvent{Stage: StageEncoding, Batch: 1})
	m := newTestModel(tracker)

	// When
	view := m.View()

	// Then: every stage is listed and finished stages are marked
	assert.Contains(t, view, "Legal codes sync • ca-codes")
	assert.Contains(t, view, "● Retrying")
	assert.Contains(t, view, "● Reading")
	assert.Contains(t, view, "○ Writing")
	assert.Contains(t, view, "Encoding batch 1...")
}

func TestSyncModel_Counts(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.Apply(ProgressEvent{Stage: StageWriting, Batch: 3, Processed: 200, Committed: 150, Failed: 50})
	tracker.AddError(ErrorEvent{DocumentID: "x", Err: errors.New("boom")})
	m := newTestModel(tracker)

	view := m.View()

	assert.Contains(t, view, "75% committed")
	assert.Contains(t, view, "batch 3 • 200 processed • 150 committed • 50 failed")
	assert.Contains(t, view, "✗ 1 failed documents")
}

func TestSyncModel_CompleteQuits(t *testing.T) {
	m := newTestModel(NewProgressTracker())

	_, cmd := m.Update(completeMsg(CompletionStats{
		Committed: 10,
		Gaps:      2,
		Duration:  65 * time.Second,
		Watermark: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}))

	assert.NotNil(t, cmd)
	view := m.View()
	assert.Contains(t, view, "✓ Sync complete")
	assert.Contains(t, view, "1m 5s")
	assert.Contains(t, view, "2024-03-01T00:00:00Z")
	assert.Contains(t, view, "2 documents exceeded the retry limit")
}

func TestSyncModel_CtrlC(t *testing.T) {
	m := newTestModel(NewProgressTracker())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	assert.NotNil(t, cmd)
	assert.Equal(t, "Cancelled.\n", m.View())
}

func TestSyncModel_WindowSize(t *testing.T) {
	m := newTestModel(NewProgressTracker())

	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	assert.Equal(t, 120, m.width)
	assert.Equal(t, 90, m.bar.Width)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "3m", formatDuration(3*time.Minute))
	assert.Equal(t, "3m 5s", formatDuration(185*time.Second))
	assert.Equal(t, "1h 2m", formatDuration(62*time.Minute))
}
