package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qter21/legal-codes-search-api/internal/embed"
	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
	"github.com/qter21/legal-codes-search-api/internal/source"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

const testDims = 64

var baseTime = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// memSource is an in-memory source.Reader with keyset paging.
type memSource struct {
	docs    []source.Document
	pageErr error
}

func (m *memSource) put(docs ...source.Document) {
	for _, d := range docs {
		replaced := false
		for i := range m.docs {
			if m.docs[i].ID == d.ID {
				m.docs[i] = d
				replaced = true
			}
		}
		if !replaced {
			m.docs = append(m.docs, d)
		}
	}
	sort.Slice(m.docs, func(i, j int) bool { return source.Less(&m.docs[i], &m.docs[j]) })
}

func (m *memSource) FetchPage(_ context.Context, after source.Cursor, limit int) (*source.Page, error) {
	if m.pageErr != nil {
		return nil, m.pageErr
	}
	start := sort.Search(len(m.docs), func(i int) bool { return after.Admits(&m.docs[i]) })
	end := min(start+limit, len(m.docs))
	page := &source.Page{
		Documents: append([]source.Document(nil), m.docs[start:end]...),
		Next:      after,
		More:      end < len(m.docs),
	}
	if n := len(page.Documents); n > 0 {
		page.Next = source.CursorAt(&page.Documents[n-1])
	}
	return page, nil
}

func (m *memSource) Fetch(_ context.Context, ids []string) ([]source.Document, error) {
	var out []source.Document
	for _, id := range ids {
		for _, d := range m.docs {
			if d.ID == id {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (m *memSource) Close() error { return nil }

// poisonEmbedder fails any text containing "POISON" while poisoned is set.
type poisonEmbedder struct {
	*embed.StaticEmbedder
	poisoned bool
}

func (p *poisonEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.poisoned && strings.Contains(text, "POISON") {
		return nil, fmt.Errorf("model rejected input")
	}
	return p.StaticEmbedder.Embed(ctx, text)
}

func (p *poisonEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if p.poisoned && strings.Contains(t, "POISON") {
			return nil, fmt.Errorf("model rejected batch")
		}
	}
	return p.StaticEmbedder.EmbedBatch(ctx, texts)
}

// flakyLexical fails the listed IDs a fixed number of times.
type flakyLexical struct {
	*store.LexicalIndex
	failures map[string]int
	calls    [][]string
}

func (f *flakyLexical) Upsert(ctx context.Context, docs []source.Document) map[string]error {
	var ids []string
	var ok []source.Document
	failed := map[string]error{}
	for _, d := range docs {
		ids = append(ids, d.ID)
		if f.failures[d.ID] > 0 {
			f.failures[d.ID]--
			failed[d.ID] = apperrors.IndexWriteError("lexical", d.ID, fmt.Errorf("shard busy"))
			continue
		}
		ok = append(ok, d)
	}
	f.calls = append(f.calls, ids)
	for id, err := range f.LexicalIndex.Upsert(ctx, ok) {
		failed[id] = err
	}
	return failed
}

// countingVector records the size of every Upsert.
type countingVector struct {
	*store.VectorIndex
	sizes []int
}

func (c *countingVector) Upsert(ctx context.Context, items []store.VectorItem) map[string]error {
	c.sizes = append(c.sizes, len(items))
	return c.VectorIndex.Upsert(ctx, items)
}

type harness struct {
	src      *memSource
	embedder *poisonEmbedder
	lexical  *store.LexicalIndex
	vector   *store.VectorIndex
	state    *store.StateStore
	dataDir  string
	events   []Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	lex, err := store.NewLexicalIndex("", store.DefaultBoosts())
	require.NoError(t, err)
	vec, err := store.NewVectorIndex("", store.DefaultVectorIndexConfig(testDims))
	require.NoError(t, err)
	state, err := store.NewStateStore("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = lex.Close()
		_ = vec.Close()
		_ = state.Close()
	})
	return &harness{
		src:      &memSource{},
		embedder: &poisonEmbedder{StaticEmbedder: embed.NewStaticEmbedder(testDims)},
		lexical:  lex,
		vector:   vec,
		state:    state,
		dataDir:  t.TempDir(),
	}
}

func (h *harness) orchestrator(t *testing.T, opts Options, lexical LexicalWriter, vector VectorWriter) *Orchestrator {
	t.Helper()
	if lexical == nil {
		lexical = h.lexical
	}
	if vector == nil {
		vector = h.vector
	}
	if opts.Retry.InitialDelay == 0 {
		opts.Retry = apperrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	}
	if opts.Lookback == 0 {
		opts.Lookback = 24 * time.Hour
	}
	o, err := New(Dependencies{
		Source:   h.src,
		Embedder: h.embedder,
		Lexical:  lexical,
		Vector:   vector,
		State:    h.state,
		Lease:    store.NewLease(h.dataDir),
		Progress: func(e Event) { h.events = append(h.events, e) },
	}, opts)
	require.NoError(t, err)
	return o
}

func section(i int, updated time.Time) source.Document {
	return source.Document{
		ID:         fmt.Sprintf("fam-%04d", i),
		CodeAbbrev: "FAM",
		CodeName:   "Family Code",
		Section:    fmt.Sprintf("%d", 3000+i),
		Title:      fmt.Sprintf("Section %d", 3000+i),
		Content:    fmt.Sprintf("Provision number %d concerning custody and support of a minor child.", i),
		UpdatedAt:  updated,
	}
}

func TestRun_CommittedDocumentIsRetrievable(t *testing.T) {
	// Given: a source with one distinctive section
	h := newHarness(t)
	doc := section(1, baseTime)
	doc.Content = "A rebuttable presumption arises after a finding of domestic violence."
	h.src.put(doc, section(2, baseTime.Add(time.Minute)))

	// When: a run completes
	report, err := h.orchestrator(t, Options{}, nil, nil).Run(context.Background(), ModeIncremental)
	require.NoError(t, err)

	// Then: the lexical retriever finds it immediately, and the vector index has it
	assert.Equal(t, 2, report.Committed)
	hits, err := h.lexical.Search(context.Background(), store.LexicalQuery{Text: "rebuttable presumption", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, doc.ID, hits[0].ID)
	assert.True(t, h.vector.Contains(doc.ID))
	assert.True(t, report.NewWatermark.Equal(baseTime.Add(time.Minute)))
}

func TestRun_SecondIncrementalRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 10; i++ {
		h.src.put(section(i, baseTime.Add(time.Duration(i)*time.Minute)))
	}
	o := h.orchestrator(t, Options{}, nil, nil)
	ctx := context.Background()

	first, err := o.Run(ctx, ModeIncremental)
	require.NoError(t, err)
	require.Equal(t, 10, first.Committed)

	// When: the source has not changed
	second, err := o.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	// Then: nothing is committed and the watermark does not move
	assert.Equal(t, 0, second.Committed)
	assert.Equal(t, 10, second.Unchanged, "the look-back window re-reads documents but checksums match")
	assert.True(t, second.NewWatermark.Equal(first.NewWatermark))
	assert.True(t, second.PreviousWatermark.Equal(first.NewWatermark))

	wm, ok, err := h.state.GetWatermark(ctx, "default")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, wm.LastSyncedAt.Equal(first.NewWatermark))
}

func TestRun_EncodingFailuresOnlyFailThoseDocuments(t *testing.T) {
	// Given: a batch of 100 where 3 documents cannot be encoded
	h := newHarness(t)
	h.embedder.poisoned = true
	poisoned := map[int]bool{7: true, 42: true, 99: true}
	for i := 0; i < 100; i++ {
		d := section(i, baseTime.Add(time.Duration(i)*time.Second))
		if poisoned[i] {
			d.Content = "POISON " + d.Content
		}
		h.src.put(d)
	}
	o := h.orchestrator(t, Options{BatchSize: 100, EmbedBatchSize: 16, Workers: 4}, nil, nil)
	ctx := context.Background()

	// When
	report, err := o.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	// Then: 97 committed, and the watermark covers the whole batch
	assert.Equal(t, 97, report.Committed)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, 1, report.Batches)
	assert.True(t, report.NewWatermark.Equal(baseTime.Add(99*time.Second)))
	assert.Equal(t, 97, h.vector.Count())

	failed, err := h.state.FailedDocuments(ctx, "default", 0)
	require.NoError(t, err)
	require.Len(t, failed, 3)
	for _, f := range failed {
		assert.Equal(t, 1, f.AttemptCount)
		assert.Equal(t, apperrors.KindEncoding, f.ErrorKind)
	}

	// And: the next run retries them and increments attempt_count
	second, err := o.Run(ctx, ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Retried)
	failed, err = h.state.FailedDocuments(ctx, "default", 0)
	require.NoError(t, err)
	require.Len(t, failed, 3)
	for _, f := range failed {
		assert.Equal(t, 2, f.AttemptCount)
	}

	// And: once the model accepts them they are committed and cleared
	h.embedder.poisoned = false
	third, err := o.Run(ctx, ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 3, third.Committed)
	failed, err = h.state.FailedDocuments(ctx, "default", 0)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, 100, h.vector.Count())
}

func TestRun_ExhaustedFailuresAreReportedAsGaps(t *testing.T) {
	h := newHarness(t)
	h.embedder.poisoned = true
	d := section(1, baseTime)
	d.Content = "POISON"
	h.src.put(d)
	o := h.orchestrator(t, Options{MaxFailedAttempts: 2}, nil, nil)
	ctx := context.Background()

	_, err := o.Run(ctx, ModeIncremental)
	require.NoError(t, err)
	_, err = o.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	third, err := o.Run(ctx, ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Gaps)
	assert.Equal(t, 0, third.Retried)
}

func TestRun_RetryPassDoesNotMoveTheWatermark(t *testing.T) {
	// Given: a section that failed to encode in the first run
	h := newHarness(t)
	h.embedder.poisoned = true
	failing := section(1, baseTime)
	failing.Content = "POISON " + failing.Content
	h.src.put(failing)
	o := h.orchestrator(t, Options{}, nil, nil)
	ctx := context.Background()

	first, err := o.Run(ctx, ModeIncremental)
	require.NoError(t, err)
	require.Equal(t, 1, first.Failed)

	// And: a new section arrives, and the failed one is edited much later
	h.embedder.poisoned = false
	added := section(2, baseTime.Add(time.Hour))
	h.src.put(added, section(1, baseTime.Add(72*time.Hour)))

	// When: the retry pass commits the edited section, then paging fails
	h.src.pageErr = fmt.Errorf("connection reset")
	_, err = o.Run(ctx, ModeIncremental)
	require.Error(t, err)

	// Then: the durable watermark has not jumped past the unread section
	wm, ok, err := h.state.GetWatermark(ctx, "default")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, wm.LastSyncedAt.Equal(baseTime), "watermark = %s", wm.LastSyncedAt)

	// And: the next healthy run still indexes it
	h.src.pageErr = nil
	third, err := o.Run(ctx, ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Committed)
	assert.True(t, h.vector.Contains(added.ID))
	assert.True(t, third.NewWatermark.Equal(baseTime.Add(72*time.Hour)))
}

func TestRun_LeaseHeldFailsFast(t *testing.T) {
	h := newHarness(t)
	h.src.put(section(1, baseTime))
	o := h.orchestrator(t, Options{}, nil, nil)

	other := store.NewLease(h.dataDir)
	require.NoError(t, other.TryAcquire())
	defer other.Release()

	report, err := o.Run(context.Background(), ModeIncremental)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, apperrors.ErrCodeSyncLeaseHeld, apperrors.GetCode(err))
	assert.Equal(t, 0, h.vector.Count())
}

func TestRun_RetriesOnlyTheFailedSubsetAgainstTheFailedWriter(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.src.put(section(i, baseTime.Add(time.Duration(i)*time.Second)))
	}
	lex := &flakyLexical{LexicalIndex: h.lexical, failures: map[string]int{"fam-0002": 1}}
	vec := &countingVector{VectorIndex: h.vector}

	report, err := h.orchestrator(t, Options{}, lex, vec).Run(context.Background(), ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Committed)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, lex.calls, 2)
	assert.Equal(t, []string{"fam-0002"}, lex.calls[1], "only the failed document is rewritten")
	assert.Equal(t, []int{5}, vec.sizes, "the vector index is not rewritten")
}

func TestRun_WriteFailuresAfterRetriesAreRecorded(t *testing.T) {
	h := newHarness(t)
	h.src.put(section(1, baseTime), section(2, baseTime.Add(time.Second)))
	lex := &flakyLexical{LexicalIndex: h.lexical, failures: map[string]int{"fam-0001": 10}}

	report, err := h.orchestrator(t, Options{}, lex, nil).Run(context.Background(), ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, lex.calls, 3, "initial attempt plus two retries")

	failed, err := h.state.FailedDocuments(context.Background(), "default", 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, apperrors.KindIndexWrite, failed[0].ErrorKind)
}

func TestRun_MalformedRecordsAreSkippedAndRecorded(t *testing.T) {
	h := newHarness(t)
	bad := section(1, baseTime)
	bad.Content = ""
	h.src.put(bad, section(2, baseTime.Add(time.Second)))

	report, err := h.orchestrator(t, Options{}, nil, nil).Run(context.Background(), ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)

	failed, err := h.state.FailedDocuments(context.Background(), "default", 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, apperrors.KindExtraction, failed[0].ErrorKind)
}

func TestRun_UnreadableSourceRecordsAreCountedAndRecorded(t *testing.T) {
	// Given: an export with one good line, one unparseable timestamp and one
	// line that is not JSON
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "sections.jsonl")
	body := `{"document_id":"fam-3044","code":"FAM","section":"3044","content":"Custody presumption.","updated_at":"2024-06-01T00:00:00Z"}
{"document_id":"fam-3011","code":"FAM","section":"3011","content":"Best interest.","updated_at":"someday"}
{"document_id":
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	o, err := New(Dependencies{
		Source:   source.NewJSONLReader(path),
		Embedder: h.embedder,
		Lexical:  h.lexical,
		Vector:   h.vector,
		State:    h.state,
		Lease:    store.NewLease(h.dataDir),
	}, Options{})
	require.NoError(t, err)

	// When
	report, err := o.Run(context.Background(), ModeFull)
	require.NoError(t, err)

	// Then: the run completes and accounts for every line
	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, report.Failed)

	failed, err := h.state.FailedDocuments(context.Background(), "default", 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "fam-3011", failed[0].DocumentID)
	assert.Equal(t, apperrors.KindExtraction, failed[0].ErrorKind)
}

func TestRun_PagesDoNotLoseEqualTimestamps(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.src.put(section(i, baseTime))
	}

	report, err := h.orchestrator(t, Options{BatchSize: 2}, nil, nil).Run(context.Background(), ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Committed)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 5, h.vector.Count())
}

func TestRun_IncrementalPicksUpChanges(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.src.put(section(i, baseTime.Add(time.Duration(i)*time.Minute)))
	}
	o := h.orchestrator(t, Options{}, nil, nil)
	ctx := context.Background()
	_, err := o.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	// When: one section is amended
	amended := section(1, baseTime.Add(time.Hour))
	amended.Content = "Amended text on spousal support."
	h.src.put(amended)

	report, err := o.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	// Then: only it is rewritten
	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 2, report.Unchanged)
	assert.True(t, report.NewWatermark.Equal(baseTime.Add(time.Hour)))

	hits, err := h.lexical.Search(ctx, store.LexicalQuery{Text: "spousal", Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "fam-0001", hits[0].ID)
}

func TestRun_FullModeRewritesEverything(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 4; i++ {
		h.src.put(section(i, baseTime.Add(time.Duration(i)*time.Minute)))
	}
	o := h.orchestrator(t, Options{}, nil, nil)
	ctx := context.Background()
	first, err := o.Run(ctx, ModeIncremental)
	require.NoError(t, err)

	full, err := o.Run(ctx, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 4, full.Committed)
	assert.Equal(t, 0, full.Unchanged)
	assert.True(t, full.NewWatermark.Equal(first.NewWatermark), "a full run never moves the watermark backward")
	assert.Equal(t, 4, h.vector.Count())
}

func TestRun_RecordsRunHistoryAndProgress(t *testing.T) {
	h := newHarness(t)
	h.src.put(section(1, baseTime))
	o := h.orchestrator(t, Options{}, nil, nil)

	report, err := o.Run(context.Background(), ModeIncremental)
	require.NoError(t, err)

	runs, err := h.state.RecentRuns(context.Background(), "default", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].RunID)
	assert.Equal(t, store.RunSucceeded, runs[0].Status)
	assert.Equal(t, 1, runs[0].Committed)

	require.NotEmpty(t, h.events)
	last := h.events[len(h.events)-1]
	assert.Equal(t, StageDone, last.Stage)
	assert.Equal(t, 1, last.Report.Committed)
}

func TestRun_CancelledContextAbortsWithoutCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.src.put(section(1, baseTime))
	o := h.orchestrator(t, Options{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, ModeIncremental)
	require.Error(t, err)

	_, ok, err := h.state.GetWatermark(context.Background(), "default")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeIncremental, false},
		{"incremental", ModeIncremental, false},
		{"full", ModeFull, false},
		{"partial", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
