package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/qter21/legal-codes-search-api/internal/source"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

// DocumentFetcher resolves document IDs to full documents. Unknown IDs are
// omitted from the result.
type DocumentFetcher interface {
	Fetch(ctx context.Context, ids []string) ([]source.Document, error)
}

// PayloadLookup returns the stored vector payload for a document.
type PayloadLookup interface {
	Payload(id string) (store.Payload, bool)
}

// Contributions are the per-backend ranks and scores behind a fused score.
type Contributions struct {
	LexicalRank  int     `json:"lexical_rank,omitempty"`
	LexicalScore float64 `json:"lexical_score,omitempty"`
	VectorRank   int     `json:"vector_rank,omitempty"`
	VectorScore  float64 `json:"vector_score,omitempty"`
}

// Result is one answered document.
type Result struct {
	DocumentID    string          `json:"document_id"`
	FusedScore    float64         `json:"fused_score"`
	Contributions Contributions   `json:"contributions"`
	Document      source.Document `json:"document"`
}

// Assembler turns fused candidates into results with full documents.
type Assembler struct {
	fetcher DocumentFetcher
}

// NewAssembler creates an Assembler over fetcher.
func NewAssembler(fetcher DocumentFetcher) *Assembler {
	return &Assembler{fetcher: fetcher}
}

// Assemble takes the top k distinct candidates and resolves their documents.
// Candidates that cannot be resolved are dropped and logged; the result is
// never padded to k.
func (a *Assembler) Assemble(ctx context.Context, fused []Candidate, k int) ([]Result, error) {
	top := topDistinct(fused, k)
	if len(top) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, len(top))
	for i, c := range top {
		ids[i] = c.DocumentID
	}
	docs, err := a.fetcher.Fetch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve documents: %w", err)
	}
	byID := make(map[string]source.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	return buildResults(top, func(id string) (source.Document, bool) {
		d, ok := byID[id]
		return d, ok
	}), nil
}

// AssemblePreviews is Assemble over vector payloads, for when full documents
// cannot be fetched. Each document carries the code, the section label and
// the content preview only.
func (a *Assembler) AssemblePreviews(fused []Candidate, k int, payloads PayloadLookup) []Result {
	return buildResults(topDistinct(fused, k), func(id string) (source.Document, bool) {
		p, ok := payloads.Payload(id)
		if !ok {
			return source.Document{}, false
		}
		return source.Document{ID: id, CodeAbbrev: p.Code, Section: p.Section, Content: p.ContentPreview}, true
	})
}

func topDistinct(fused []Candidate, k int) []Candidate {
	if k <= 0 || len(fused) == 0 {
		return nil
	}
	top := make([]Candidate, 0, min(k, len(fused)))
	seen := make(map[string]bool, k)
	for _, c := range fused {
		if len(top) == k {
			break
		}
		if seen[c.DocumentID] {
			continue
		}
		seen[c.DocumentID] = true
		top = append(top, c)
	}
	return top
}

func buildResults(top []Candidate, resolve func(id string) (source.Document, bool)) []Result {
	results := make([]Result, 0, len(top))
	for _, c := range top {
		doc, ok := resolve(c.DocumentID)
		if !ok {
			slog.Warn("context_document_unresolved", slog.String("document_id", c.DocumentID))
			continue
		}
		results = append(results, Result{
			DocumentID: c.DocumentID,
			FusedScore: c.FusedScore,
			Contributions: Contributions{
				LexicalRank:  c.LexicalRank,
				LexicalScore: c.LexicalScore,
				VectorRank:   c.VectorRank,
				VectorScore:  c.VectorScore,
			},
			Document: doc,
		})
	}
	return results
}

// FormatContext renders results as numbered prompt context for an answer
// generator:
//
//	[1] FAM Section 3044:
//	<content>
//
// Entries stop once maxChars would be exceeded; the first entry is truncated
// rather than dropped. maxChars <= 0 means no limit.
func FormatContext(results []Result, maxChars int) string {
	var b strings.Builder
	for i, r := range results {
		entry := fmt.Sprintf("[%d] %s Section %s:\n%s", i+1, r.Document.CodeAbbrev, r.Document.Section, r.Document.Content)
		if i > 0 {
			entry = "\n\n" + entry
		}
		if maxChars > 0 && b.Len()+len(entry) > maxChars {
			if i == 0 {
				b.WriteString(truncateUTF8(entry, maxChars))
			}
			break
		}
		b.WriteString(entry)
	}
	return b.String()
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
