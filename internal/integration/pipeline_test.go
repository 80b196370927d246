// Package integration runs the sync pipeline and the search engine together
// against real on-disk indexes.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qter21/legal-codes-search-api/internal/config"
	"github.com/qter21/legal-codes-search-api/internal/embed"
	"github.com/qter21/legal-codes-search-api/internal/search"
	"github.com/qter21/legal-codes-search-api/internal/source"
	"github.com/qter21/legal-codes-search-api/internal/store"
	codesync "github.com/qter21/legal-codes-search-api/internal/sync"
)

const dims = 32

const corpus = `{"document_id":"fam-3044","code":"FAM","section":"3044","title":"Presumption against custody","content":"Upon a finding by the court that a party seeking custody of a child has perpetrated domestic violence, there is a rebuttable presumption that an award of custody to that person is detrimental to the child.","updated_at":"2024-01-02T00:00:00Z"}
{"document_id":"fam-3011","code":"FAM","section":"3011","title":"Best interest of the child","content":"In making a determination of the best interests of the child, the court shall consider the health, safety, and welfare of the child and any history of abuse.","updated_at":"2024-01-01T00:00:00Z"}
{"document_id":"pen-187","code":"PEN","section":"187","title":"Murder defined","content":"Murder is the unlawful killing of a human being, or a fetus, with malice aforethought.","updated_at":"2024-01-03T00:00:00Z"}
{"document_id":"civ-1714","code":"CIV","section":"1714","title":"Responsibility for willful acts and negligence","content":"Everyone is responsible for the result of his or her willful acts and for injury occasioned to another by want of ordinary care.","updated_at":"2024-01-03T00:00:00Z"}
`

// pipeline wires a JSONL source, the three stores, the static embedder, an
// orchestrator and an engine over one data directory.
type pipeline struct {
	dir        string
	sourcePath string

	src     source.Reader
	lexical *store.LexicalIndex
	vector  *store.VectorIndex
	state   *store.StateStore
	emb     embed.Embedder

	orch   *codesync.Orchestrator
	engine *search.Engine
}

func newPipeline(t *testing.T, body string) *pipeline {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sections.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	p := &pipeline{dir: dir, sourcePath: path}
	p.open(t)
	return p
}

func (p *pipeline) open(t *testing.T) {
	t.Helper()
	var err error

	p.src = source.NewJSONLReader(p.sourcePath)
	p.lexical, err = store.NewLexicalIndex(filepath.Join(p.dir, "lexical.bleve"), store.DefaultBoosts())
	require.NoError(t, err)
	p.vector, err = store.NewVectorIndex(filepath.Join(p.dir, "vectors.hnsw"), store.DefaultVectorIndexConfig(dims))
	require.NoError(t, err)
	p.state, err = store.NewStateStore(filepath.Join(p.dir, "state.db"))
	require.NoError(t, err)
	p.emb = embed.NewStaticEmbedder(dims)

	p.orch, err = codesync.New(codesync.Dependencies{
		Source:   p.src,
		Embedder: p.emb,
		Lexical:  p.lexical,
		Vector:   p.vector,
		State:    p.state,
		Lease:    store.NewLease(p.dir),
	}, codesync.Options{Target: "it", BatchSize: 2, Workers: 2, Lookback: 24 * time.Hour})
	require.NoError(t, err)

	cfg := search.EngineConfigFrom(config.NewConfig().Search)
	// Static vectors are not semantically close; keep every neighbor.
	cfg.ScoreThreshold = -1
	p.engine, err = search.NewEngine(search.EngineDeps{
		Lexical:  p.lexical,
		Vector:   p.vector,
		Embedder: p.emb,
		Fetcher:  p.lexical,
	}, cfg)
	require.NoError(t, err)

	t.Cleanup(p.close)
}

func (p *pipeline) close() {
	if p.lexical == nil {
		return
	}
	_ = p.src.Close()
	_ = p.vector.Close()
	_ = p.lexical.Close()
	_ = p.state.Close()
	p.lexical = nil
}

func (p *pipeline) sync(t *testing.T, mode codesync.Mode) *codesync.Report {
	t.Helper()
	report, err := p.orch.Run(context.Background(), mode)
	require.NoError(t, err)
	return report
}

func (p *pipeline) search(t *testing.T, query string, mode search.Mode) *search.Response {
	t.Helper()
	resp, err := p.engine.Search(context.Background(), search.Request{Query: query, Mode: mode})
	require.NoError(t, err)
	return resp
}

func ids(resp *search.Response) []string {
	out := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, r.DocumentID)
	}
	return out
}
