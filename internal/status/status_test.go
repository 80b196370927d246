package status

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qter21/legal-codes-search-api/internal/embed"
	"github.com/qter21/legal-codes-search-api/internal/source"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

const target = "ca-codes"

func newState(t *testing.T) *store.StateStore {
	t.Helper()
	st, err := store.NewStateStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func failure(id string) store.FailedDocument {
	return store.FailedDocument{Target: target, DocumentID: id, ErrorKind: "encoding", LastError: "model down"}
}

func TestCollector_Collect(t *testing.T) {
	// Given: a synced target with one committed document and two failures,
	// one of which has reached the retry cap
	ctx := context.Background()
	st := newState(t)
	wm := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.CommitBatch(ctx, store.BatchCommit{
		Target:    target,
		Mode:      "incremental",
		Committed: []store.CommittedDocument{{ID: "fam-3044", Checksum: "x"}},
		Failed:    []store.FailedDocument{failure("pen-187"), failure("civ-1714")},
		Watermark: wm,
	}))
	require.NoError(t, st.CommitBatch(ctx, store.BatchCommit{
		Target: target,
		Mode:   "incremental",
		Failed: []store.FailedDocument{failure("civ-1714")},
	}))
	started := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, st.BeginRun(ctx, store.RunRecord{RunID: "run-1", Target: target, Mode: "incremental",
		StartedAt: started, Status: store.RunRunning}))
	require.NoError(t, st.FinishRun(ctx, store.RunRecord{RunID: "run-1", Target: target, Mode: "incremental",
		StartedAt: started, FinishedAt: started.Add(time.Minute), Committed: 1, Failed: 2, Status: store.RunSucceeded}))

	lex, err := store.NewLexicalIndex("", store.DefaultBoosts())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lex.Close() })
	require.Empty(t, lex.Upsert(ctx, []source.Document{{ID: "fam-3044", CodeAbbrev: "FAM", Section: "3044", Content: "custody"}}))

	statePath := filepath.Join(t.TempDir(), "state.db")
	require.NoError(t, os.WriteFile(statePath, make([]byte, 2048), 0o644))

	c := &Collector{
		Target:            target,
		MaxFailedAttempts: 2,
		State:             st,
		Lexical:           lex,
		Vector:            fakeVector{store.VectorStats{Live: 1, GraphNodes: 2, Orphans: 1}},
		Embedder:          embed.NewStaticEmbedder(32),
		Paths:             Paths{State: statePath, Lexical: filepath.Join(t.TempDir(), "missing")},
	}

	// When
	snap, err := c.Collect(ctx)

	// Then
	require.NoError(t, err)
	assert.Equal(t, target, snap.Target)
	assert.True(t, snap.Watermark.Equal(wm))
	assert.EqualValues(t, 1, snap.Documents)
	assert.Equal(t, 1, snap.Vectors)
	assert.Equal(t, 1, snap.Orphans)
	assert.Equal(t, 1, snap.PendingFailures)
	assert.Equal(t, 1, snap.ExhaustedFailures)
	assert.EqualValues(t, 2048, snap.StateSize)
	assert.Zero(t, snap.LexicalSize)
	assert.Equal(t, "static", snap.EmbedderType)
	assert.Equal(t, "ready", snap.EmbedderStatus)
	assert.Equal(t, 32, snap.Dimensions)
	require.NotNil(t, snap.LastRun)
	assert.Equal(t, "run-1", snap.LastRun.ID)
	assert.Equal(t, store.RunSucceeded, snap.LastRun.Status)
	assert.Equal(t, 2, snap.LastRun.Failed)
}

func TestCollector_NeverSynced(t *testing.T) {
	c := &Collector{Target: target, State: newState(t)}

	snap, err := c.Collect(context.Background())

	require.NoError(t, err)
	assert.True(t, snap.Watermark.IsZero())
	assert.Nil(t, snap.LastRun)
	assert.Equal(t, "none", snap.EmbedderType)
	assert.Equal(t, "unavailable", snap.EmbedderStatus)
}

func TestCollector_FailuresWithoutCap(t *testing.T) {
	ctx := context.Background()
	st := newState(t)
	require.NoError(t, st.CommitBatch(ctx, store.BatchCommit{Target: target, Failed: []store.FailedDocument{failure("a")}}))
	c := &Collector{Target: target, State: st}

	f, err := c.Failures(ctx)

	require.NoError(t, err)
	assert.Len(t, f.Pending, 1)
	assert.NotNil(t, f.Exhausted)
	assert.Empty(t, f.Exhausted)
}

func TestCollector_Health(t *testing.T) {
	c := &Collector{Target: target, State: newState(t), Lexical: fakeCounter{}}
	assert.Equal(t, "ok", c.Health(context.Background()).Status)

	c.Lexical = fakeCounter{err: errors.New("index closed")}
	h := c.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "index closed", h.Checks["lexical"])
}

func TestPathSize_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0o644))

	assert.EqualValues(t, 150, pathSize(dir))
	assert.Zero(t, pathSize(""))
}

type fakeVector struct{ stats store.VectorStats }

func (f fakeVector) Stats() store.VectorStats { return f.stats }

type fakeCounter struct{ err error }

func (f fakeCounter) Count() (uint64, error) { return 3, f.err }
