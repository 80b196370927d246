package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ranked(ids ...string) []RankedID {
	out := make([]RankedID, len(ids))
	for i, id := range ids {
		out[i] = RankedID{ID: id, Score: float64(len(ids) - i)}
	}
	return out
}

func candidateIDs(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.DocumentID
	}
	return out
}

func TestRRFFusion_Example(t *testing.T) {
	// Given: two backends that disagree on order
	f := NewRRFFusion(60)

	// When
	got := f.Fuse(ranked("A", "B", "C"), ranked("B", "C", "A"))

	// Then: B has the best rank sum, then A, then C
	require.Len(t, got, 3)
	assert.Equal(t, []string{"B", "A", "C"}, candidateIDs(got))
	assert.InDelta(t, 1.0/61+1.0/62, got[0].FusedScore, 1e-12)
	assert.Equal(t, 2, got[0].LexicalRank)
	assert.Equal(t, 1, got[0].VectorRank)
}

func TestRRFFusion_TiesBreakByID(t *testing.T) {
	f := NewRRFFusion(60)
	got := f.Fuse(ranked("Z", "A"), ranked("A", "Z"))
	assert.Equal(t, []string{"A", "Z"}, candidateIDs(got))
	assert.Equal(t, got[0].FusedScore, got[1].FusedScore)
}

func TestRRFFusion_Deterministic(t *testing.T) {
	f := NewRRFFusion(60)
	lex := ranked("d1", "d2", "d3", "d4", "d5")
	vec := ranked("d6", "d3", "d1", "d7")

	first := f.Fuse(lex, vec)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, f.Fuse(lex, vec))
	}
}

func TestRRFFusion_AbsentListContributesNothing(t *testing.T) {
	f := NewRRFFusion(60)
	got := f.Fuse(ranked("A"), ranked("B", "A"))

	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].DocumentID)
	assert.InDelta(t, 1.0/61, got[1].FusedScore, 1e-12)
	assert.Equal(t, 0, got[1].LexicalRank)
}

func TestRRFFusion_Empty(t *testing.T) {
	assert.Empty(t, NewRRFFusion(0).Fuse(nil, nil))
	assert.Equal(t, DefaultRRFConstant, NewRRFFusion(-1).K)
}

func TestWeightedFusion(t *testing.T) {
	f := NewWeightedFusion(0.5, 0.5)
	lex := []RankedID{{ID: "A", Score: 10}, {ID: "B", Score: 5}, {ID: "C", Score: 0}}
	vec := []RankedID{{ID: "C", Score: 0.75}, {ID: "B", Score: 0.5}, {ID: "A", Score: 0.25}}

	got := f.Fuse(lex, vec)

	require.Len(t, got, 3)
	// A: .5*1 + .5*0 = .5; B: .5*.5 + .5*.5 = .5; C: 0 + .5*1 = .5
	assert.Equal(t, []string{"A", "B", "C"}, candidateIDs(got), "equal scores fall back to ID order")
	assert.Equal(t, FusionWeighted, f.Name())
}

func TestPassThrough(t *testing.T) {
	got := PassThrough(ranked("x", "y", "x"), 60, true)

	require.Len(t, got, 2)
	assert.Equal(t, []string{"x", "y"}, candidateIDs(got))
	assert.InDelta(t, 1.0/61, got[0].FusedScore, 1e-12)
	assert.Equal(t, 2, got[1].VectorRank)
	assert.Equal(t, 0, got[1].LexicalRank)
}

func TestNewFuser(t *testing.T) {
	assert.Equal(t, FusionRRF, NewFuser("rrf", 60, 0, 0).Name())
	assert.Equal(t, FusionRRF, NewFuser("", 60, 0, 0).Name())
	assert.Equal(t, FusionWeighted, NewFuser("weighted", 60, 0.3, 0.7).Name())
}
