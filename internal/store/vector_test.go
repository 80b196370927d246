package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
	"github.com/qter21/legal-codes-search-api/internal/source"
)

func vectorItems() []VectorItem {
	return []VectorItem{
		{ID: "a", Vector: []float32{1, 0, 0, 0}, Payload: Payload{Code: "FAM"}},
		{ID: "b", Vector: []float32{0, 1, 0, 0}, Payload: Payload{Code: "PEN"}},
		{ID: "c", Vector: []float32{0.9, 0.1, 0, 0}, Payload: Payload{Code: "PEN"}},
	}
}

func TestVectorIndex_UpsertAndSearch(t *testing.T) {
	// Given: an index with three 4-dimensional vectors
	idx, err := NewVectorIndex("", DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	defer idx.Close()
	require.Empty(t, idx.Upsert(context.Background(), vectorItems()))

	// When: searching near a
	hits, err := idx.Search(context.Background(), VectorQuery{Vector: []float32{1, 0, 0, 0}, Limit: 2})
	require.NoError(t, err)

	// Then: a is an exact match and c is close
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestVectorIndex_MinScoreAndCodeFilter(t *testing.T) {
	idx, err := NewVectorIndex("", DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	defer idx.Close()
	require.Empty(t, idx.Upsert(context.Background(), vectorItems()))

	hits, err := idx.Search(context.Background(), VectorQuery{Vector: []float32{1, 0, 0, 0}, Limit: 3, MinScore: 0.7})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(hits), "b is orthogonal, similarity 0")

	hits, err = idx.Search(context.Background(), VectorQuery{Vector: []float32{1, 0, 0, 0}, Limit: 3, Code: "pen"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(hits))
}

func TestVectorIndex_WrongDimensionFailsOnlyThatItem(t *testing.T) {
	idx, err := NewVectorIndex("", DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	defer idx.Close()

	items := vectorItems()
	items[1].Vector = []float32{1, 2}
	failed := idx.Upsert(context.Background(), items)

	require.Len(t, failed, 1)
	assert.Equal(t, apperrors.ErrCodeDimensionMismatch, apperrors.GetCode(failed["b"]))
	assert.Equal(t, 2, idx.Count())
}

func TestVectorIndex_ReplaceOrphansAndCompacts(t *testing.T) {
	cfg := DefaultVectorIndexConfig(4)
	cfg.CompactRatio = 0.2
	idx, err := NewVectorIndex("", cfg)
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	require.Empty(t, idx.Upsert(ctx, vectorItems()))
	// When: a is replaced with a vector pointing elsewhere
	require.Empty(t, idx.Upsert(ctx, []VectorItem{{ID: "a", Vector: []float32{0, 0, 1, 0}}}))

	// Then: the old node is an orphan and is never returned
	stats := idx.Stats()
	assert.Equal(t, 3, stats.Live)
	assert.Equal(t, 1, stats.Orphans)

	hits, err := idx.Search(ctx, VectorQuery{Vector: []float32{0, 0, 1, 0}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(hits))

	// And: Flush compacts once orphans pass the ratio
	require.NoError(t, idx.Flush(ctx))
	assert.Equal(t, 0, idx.Stats().Orphans)
	hits, err = idx.Search(ctx, VectorQuery{Vector: []float32{0, 0, 1, 0}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(hits))
}

func TestVectorIndex_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	ctx := context.Background()

	idx, err := NewVectorIndex(path, DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	require.Empty(t, idx.Upsert(ctx, vectorItems()))
	require.NoError(t, idx.Flush(ctx))
	require.NoError(t, idx.Close())

	reopened, err := NewVectorIndex(path, DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Count())
	p, ok := reopened.Payload("b")
	require.True(t, ok)
	assert.Equal(t, "PEN", p.Code)

	hits, err := reopened.Search(ctx, VectorQuery{Vector: []float32{0, 1, 0, 0}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(hits))

	// a different model dimension is refused
	_, err = NewVectorIndex(path, DefaultVectorIndexConfig(8))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDimensionMismatch, apperrors.GetCode(err))
}

func TestNewPayload_Truncates(t *testing.T) {
	long := make([]rune, 800)
	for i := range long {
		long[i] = 'x'
	}
	p := NewPayload(&source.Document{CodeAbbrev: "fam", Section: string(long), Content: string(long)})
	assert.Equal(t, "FAM", p.Code)
	assert.Len(t, p.Section, 200)
	assert.Len(t, p.ContentPreview, 500)
}
