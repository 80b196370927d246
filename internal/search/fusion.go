// Package search routes legal-code queries to lexical and vector retrieval
// and fuses the ranked lists into one result set.
package search

import (
	"sort"

	"github.com/qter21/legal-codes-search-api/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// Fusion method names accepted in configuration.
const (
	FusionRRF      = "rrf"
	FusionWeighted = "weighted"
)

// RankedID is one entry of a backend's ranked list, best first.
type RankedID struct {
	ID    string
	Score float64
}

// RankedFromHits converts backend hits to a ranked list.
func RankedFromHits(hits []store.Hit) []RankedID {
	out := make([]RankedID, len(hits))
	for i, h := range hits {
		out[i] = RankedID{ID: h.ID, Score: h.Score}
	}
	return out
}

// Candidate is a document after fusion. A rank of 0 means the document was
// absent from that list.
type Candidate struct {
	DocumentID   string  `json:"document_id"`
	LexicalRank  int     `json:"lexical_rank"`
	LexicalScore float64 `json:"lexical_score"`
	VectorRank   int     `json:"vector_rank"`
	VectorScore  float64 `json:"vector_score"`
	FusedScore   float64 `json:"fused_score"`
}

// Fuser merges a lexical and a vector ranked list.
type Fuser interface {
	Fuse(lexical, vector []RankedID) []Candidate
	Name() string
}

// RRFFusion combines lists by Reciprocal Rank Fusion:
//
//	score(d) = Σ 1 / (K + rank_i(d))
//
// with 1-based ranks. A list that does not contain d contributes nothing.
type RRFFusion struct {
	K int
}

// NewRRFFusion returns RRF with constant k, or 60 when k <= 0.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Name implements Fuser.
func (f *RRFFusion) Name() string { return FusionRRF }

// Fuse implements Fuser. The result is sorted by fused score descending,
// then document ID ascending.
func (f *RRFFusion) Fuse(lexical, vector []RankedID) []Candidate {
	byID := make(map[string]*Candidate, len(lexical)+len(vector))
	collect(byID, lexical, vector)
	for _, c := range byID {
		if c.LexicalRank > 0 {
			c.FusedScore += 1 / float64(f.K+c.LexicalRank)
		}
		if c.VectorRank > 0 {
			c.FusedScore += 1 / float64(f.K+c.VectorRank)
		}
	}
	return sortCandidates(byID)
}

// WeightedFusion blends min-max normalized backend scores. Raw BM25 and
// cosine scores are not on comparable scales, so the weights need
// calibration against the corpus before this beats RRF.
type WeightedFusion struct {
	LexicalWeight float64
	VectorWeight  float64
}

// NewWeightedFusion returns weighted fusion with the given weights.
func NewWeightedFusion(lexicalWeight, vectorWeight float64) *WeightedFusion {
	return &WeightedFusion{LexicalWeight: lexicalWeight, VectorWeight: vectorWeight}
}

// Name implements Fuser.
func (f *WeightedFusion) Name() string { return FusionWeighted }

// Fuse implements Fuser.
func (f *WeightedFusion) Fuse(lexical, vector []RankedID) []Candidate {
	byID := make(map[string]*Candidate, len(lexical)+len(vector))
	collect(byID, lexical, vector)

	lexMin, lexMax := scoreRange(lexical)
	vecMin, vecMax := scoreRange(vector)
	for _, c := range byID {
		if c.LexicalRank > 0 {
			c.FusedScore += f.LexicalWeight * minMax(c.LexicalScore, lexMin, lexMax)
		}
		if c.VectorRank > 0 {
			c.FusedScore += f.VectorWeight * minMax(c.VectorScore, vecMin, vecMax)
		}
	}
	return sortCandidates(byID)
}

// PassThrough turns a single backend list into candidates, keeping backend
// order and scoring each entry with its single-list RRF contribution.
func PassThrough(list []RankedID, k int, fromVector bool) []Candidate {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	out := make([]Candidate, 0, len(list))
	seen := make(map[string]bool, len(list))
	for i, r := range list {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		rank := i + 1
		c := Candidate{DocumentID: r.ID, FusedScore: 1 / float64(k+rank)}
		if fromVector {
			c.VectorRank, c.VectorScore = rank, r.Score
		} else {
			c.LexicalRank, c.LexicalScore = rank, r.Score
		}
		out = append(out, c)
	}
	return out
}

// NewFuser returns the fuser named by method.
func NewFuser(method string, k int, lexicalWeight, vectorWeight float64) Fuser {
	if method == FusionWeighted {
		return NewWeightedFusion(lexicalWeight, vectorWeight)
	}
	return NewRRFFusion(k)
}

// collect records each document's first (best) rank in each list.
func collect(byID map[string]*Candidate, lexical, vector []RankedID) {
	get := func(id string) *Candidate {
		c, ok := byID[id]
		if !ok {
			c = &Candidate{DocumentID: id}
			byID[id] = c
		}
		return c
	}
	for i, r := range lexical {
		if c := get(r.ID); c.LexicalRank == 0 {
			c.LexicalRank, c.LexicalScore = i+1, r.Score
		}
	}
	for i, r := range vector {
		if c := get(r.ID); c.VectorRank == 0 {
			c.VectorRank, c.VectorScore = i+1, r.Score
		}
	}
}

func sortCandidates(byID map[string]*Candidate) []Candidate {
	out := make([]Candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}

func scoreRange(list []RankedID) (lo, hi float64) {
	for i, r := range list {
		if i == 0 || r.Score < lo {
			lo = r.Score
		}
		if i == 0 || r.Score > hi {
			hi = r.Score
		}
	}
	return lo, hi
}

// minMax maps v into [0,1]. A list whose scores are all equal maps to 1.
func minMax(v, lo, hi float64) float64 {
	if hi == lo {
		return 1
	}
	return (v - lo) / (hi - lo)
}
