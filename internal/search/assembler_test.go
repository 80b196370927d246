package search

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qter21/legal-codes-search-api/internal/source"
)

type mapFetcher struct {
	docs  map[string]source.Document
	err   error
	calls [][]string
}

func (m *mapFetcher) Fetch(_ context.Context, ids []string) ([]source.Document, error) {
	m.calls = append(m.calls, ids)
	if m.err != nil {
		return nil, m.err
	}
	var out []source.Document
	for _, id := range ids {
		if d, ok := m.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func fetcherWith(ids ...string) *mapFetcher {
	m := &mapFetcher{docs: map[string]source.Document{}}
	for _, id := range ids {
		m.docs[id] = source.Document{ID: id, CodeAbbrev: "FAM", Section: id, Content: "content of " + id}
	}
	return m
}

func TestAssembler_TopKDedupAndDrop(t *testing.T) {
	// Given: candidates with a duplicate and one ID the fetcher cannot resolve
	f := fetcherWith("a", "b", "d")
	a := NewAssembler(f)
	fused := []Candidate{
		{DocumentID: "a", FusedScore: 0.9, LexicalRank: 1},
		{DocumentID: "a", FusedScore: 0.5},
		{DocumentID: "missing", FusedScore: 0.4},
		{DocumentID: "b", FusedScore: 0.3, VectorRank: 2},
		{DocumentID: "d", FusedScore: 0.1},
	}

	// When
	results, err := a.Assemble(context.Background(), fused, 3)
	require.NoError(t, err)

	// Then: the top 3 distinct IDs are requested and the missing one dropped, not padded
	assert.Equal(t, []string{"a", "missing", "b"}, f.calls[0])
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].DocumentID)
	assert.Equal(t, 0.9, results[0].FusedScore)
	assert.Equal(t, 1, results[0].Contributions.LexicalRank)
	assert.Equal(t, "b", results[1].DocumentID)
	assert.Equal(t, 2, results[1].Contributions.VectorRank)
	assert.Equal(t, "content of b", results[1].Document.Content)
}

func TestAssembler_EmptyAndErrors(t *testing.T) {
	a := NewAssembler(fetcherWith())
	results, err := a.Assemble(context.Background(), nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	failing := &mapFetcher{err: fmt.Errorf("index closed")}
	_, err = NewAssembler(failing).Assemble(context.Background(), []Candidate{{DocumentID: "a"}}, 5)
	assert.Error(t, err)
}

func TestFormatContext(t *testing.T) {
	results := []Result{
		{Document: source.Document{CodeAbbrev: "FAM", Section: "3044", Content: "Presumption against custody."}},
		{Document: source.Document{CodeAbbrev: "FAM", Section: "3011", Content: "Best interest factors."}},
	}

	got := FormatContext(results, 0)
	assert.Equal(t, "[1] FAM Section 3044:\nPresumption against custody.\n\n[2] FAM Section 3011:\nBest interest factors.", got)

	limited := FormatContext(results, 60)
	assert.Equal(t, "[1] FAM Section 3044:\nPresumption against custody.", limited)

	tiny := FormatContext(results, 10)
	assert.Equal(t, "[1] FAM Se", tiny)
	assert.True(t, strings.HasPrefix(got, tiny))
}
