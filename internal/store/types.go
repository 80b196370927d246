// Package store holds the two derived indexes and the sync state.
//
// LexicalIndex (bleve) and VectorIndex (coder/hnsw) are both upserted by
// document_id, so rewriting an already-indexed document is a no-op from a
// reader's point of view. StateStore (SQLite) owns the watermark, run
// history, failure records and per-document checksums. Lease serializes
// sync runs across processes.
package store

import (
	"fmt"
	"time"
)

// Hit is one ranked result from either index.
type Hit struct {
	ID    string
	Score float64
}

// Filters narrow lexical and vector retrieval.
type Filters struct {
	// Code is a code abbreviation such as "FAM". Matched case-insensitively.
	Code string
	// Section is an exact section label such as "3044".
	Section string
	// TitleContains requires every term to appear in the title.
	TitleContains string
	UpdatedAfter  time.Time
	UpdatedBefore time.Time
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.Code == "" && f.Section == "" && f.TitleContains == "" &&
		f.UpdatedAfter.IsZero() && f.UpdatedBefore.IsZero()
}

// ErrDimensionMismatch indicates a vector of the wrong size.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'legalcodes sync --full' after changing models)", e.Expected, e.Got)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
