package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *StateStore {
	t.Helper()
	s, err := NewStateStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStateStore_WatermarkRoundTrip(t *testing.T) {
	s := newTestState(t)
	ctx := context.Background()

	_, ok, err := s.GetWatermark(ctx, "default")
	require.NoError(t, err)
	assert.False(t, ok, "no watermark before the first checkpoint")

	mark := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	require.NoError(t, s.CommitBatch(ctx, BatchCommit{Target: "default", Mode: "full", Watermark: mark}))

	wm, ok, err := s.GetWatermark(ctx, "default")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, wm.LastSyncedAt.Equal(mark))
	assert.Equal(t, "full", wm.RunMode)

	// targets are independent
	_, ok, err = s.GetWatermark(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateStore_ZeroWatermarkLeavesStoredValue(t *testing.T) {
	s := newTestState(t)
	ctx := context.Background()
	mark := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CommitBatch(ctx, BatchCommit{Target: "t", Mode: "full", Watermark: mark}))
	require.NoError(t, s.CommitBatch(ctx, BatchCommit{Target: "t", Mode: "incremental",
		Committed: []CommittedDocument{{ID: "a", Checksum: "x"}}}))

	wm, _, err := s.GetWatermark(ctx, "t")
	require.NoError(t, err)
	assert.True(t, wm.LastSyncedAt.Equal(mark))
	assert.Equal(t, "full", wm.RunMode)
}

func TestStateStore_FailureLifecycle(t *testing.T) {
	s := newTestState(t)
	ctx := context.Background()
	updated := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	fail := FailedDocument{DocumentID: "doc-1", ErrorKind: "encoding", LastError: "model down", SourceUpdatedAt: updated}

	// Given: a document that fails twice
	require.NoError(t, s.CommitBatch(ctx, BatchCommit{Target: "t", Failed: []FailedDocument{fail}}))
	fail.LastError = "model still down"
	require.NoError(t, s.CommitBatch(ctx, BatchCommit{Target: "t", Failed: []FailedDocument{fail}}))

	// Then: one record with attempt_count 2
	failed, err := s.FailedDocuments(ctx, "t", 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "doc-1", failed[0].DocumentID)
	assert.Equal(t, 2, failed[0].AttemptCount)
	assert.Equal(t, "model still down", failed[0].LastError)
	assert.Equal(t, "encoding", failed[0].ErrorKind)
	assert.True(t, failed[0].SourceUpdatedAt.Equal(updated))

	// And: the attempt cap splits retryable from exhausted
	retry, err := s.FailedDocuments(ctx, "t", 2)
	require.NoError(t, err)
	assert.Empty(t, retry)
	exhausted, err := s.ExhaustedFailures(ctx, "t", 2)
	require.NoError(t, err)
	assert.Len(t, exhausted, 1)

	// When: the document is finally committed
	require.NoError(t, s.CommitBatch(ctx, BatchCommit{Target: "t",
		Committed: []CommittedDocument{{ID: "doc-1", Checksum: "abc"}}}))

	// Then: the failure record is gone
	failed, err = s.FailedDocuments(ctx, "t", 0)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestStateStore_Checksums(t *testing.T) {
	s := newTestState(t)
	ctx := context.Background()

	committed := make([]CommittedDocument, 0, 1200)
	ids := make([]string, 0, 1201)
	for i := 0; i < 1200; i++ {
		id := fmt.Sprintf("doc-%04d", i)
		committed = append(committed, CommittedDocument{ID: id, Checksum: "sum-" + id})
		ids = append(ids, id)
	}
	ids = append(ids, "unknown")
	require.NoError(t, s.CommitBatch(ctx, BatchCommit{Target: "t", Committed: committed}))

	sums, err := s.Checksums(ctx, "t", ids)
	require.NoError(t, err)
	assert.Len(t, sums, 1200)
	assert.Equal(t, "sum-doc-0005", sums["doc-0005"])
	_, ok := sums["unknown"]
	assert.False(t, ok)

	// a later failure drops the checksum so the document is re-encoded
	require.NoError(t, s.CommitBatch(ctx, BatchCommit{Target: "t",
		Failed: []FailedDocument{{DocumentID: "doc-0005", ErrorKind: "index_write", LastError: "x"}}}))
	sums, err = s.Checksums(ctx, "t", []string{"doc-0005"})
	require.NoError(t, err)
	assert.Empty(t, sums)
}

func TestStateStore_DeleteFailures(t *testing.T) {
	s := newTestState(t)
	ctx := context.Background()
	require.NoError(t, s.CommitBatch(ctx, BatchCommit{Target: "t", Failed: []FailedDocument{
		{DocumentID: "a", ErrorKind: "extraction", LastError: "bad"},
		{DocumentID: "b", ErrorKind: "extraction", LastError: "bad"},
	}}))

	require.NoError(t, s.DeleteFailures(ctx, "t", []string{"a"}))

	failed, err := s.FailedDocuments(ctx, "t", 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].DocumentID)
}

func TestStateStore_RunHistory(t *testing.T) {
	s := newTestState(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-1", "run-2"} {
		r := RunRecord{RunID: id, Target: "t", Mode: "incremental", StartedAt: start.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, s.BeginRun(ctx, r))
	}
	require.NoError(t, s.FinishRun(ctx, RunRecord{
		RunID: "run-2", FinishedAt: start.Add(90 * time.Minute), Committed: 7, Failed: 1, Skipped: 2,
		Unchanged: 3, Retried: 1, Watermark: start, Status: RunSucceeded,
	}))

	runs, err := s.RecentRuns(ctx, "t", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].RunID, "newest first")
	assert.Equal(t, RunSucceeded, runs[0].Status)
	assert.Equal(t, 7, runs[0].Committed)
	assert.Equal(t, 3, runs[0].Unchanged)
	assert.True(t, runs[0].Watermark.Equal(start))
	assert.Equal(t, RunRunning, runs[1].Status)
	assert.True(t, runs[1].FinishedAt.IsZero())
}

func TestStateStore_PersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	ctx := context.Background()
	mark := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s, err := NewStateStore(path)
	require.NoError(t, err)
	require.NoError(t, s.CommitBatch(ctx, BatchCommit{Target: "t", Mode: "full", Watermark: mark}))
	require.NoError(t, s.Close())

	s, err = NewStateStore(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))

	wm, ok, err := s.GetWatermark(ctx, "t")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, wm.LastSyncedAt.Equal(mark))
}
