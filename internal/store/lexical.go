package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
	"github.com/qter21/legal-codes-search-api/internal/source"
)

// Boosts weight the searchable fields in lexical scoring.
type Boosts struct {
	Title   float64
	Section float64
	Content float64
}

// DefaultBoosts rank a title hit above a section-label hit above body text.
func DefaultBoosts() Boosts {
	return Boosts{Title: 3, Section: 2, Content: 1}
}

// LexicalQuery is one full-text search.
type LexicalQuery struct {
	Text    string
	Filters Filters
	Limit   int
	Offset  int
}

// LexicalIndex is the full-text index over section documents. It stores
// every field, so it also resolves IDs back to full documents.
type LexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	boosts Boosts
	closed bool
}

// lexicalDoc is the indexed shape of a section.
type lexicalDoc struct {
	Code         string    `json:"code"`
	CodeName     string    `json:"code_name"`
	Section      string    `json:"section"`
	SectionExact string    `json:"section_exact"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	URL          string    `json:"url"`
	Division     string    `json:"division"`
	Part         string    `json:"part"`
	Chapter      string    `json:"chapter"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toLexicalDoc(d *source.Document) lexicalDoc {
	return lexicalDoc{
		Code:         strings.ToUpper(d.CodeAbbrev),
		CodeName:     d.CodeName,
		Section:      d.Section,
		SectionExact: d.Section,
		Title:        d.Title,
		Content:      d.Content,
		URL:          d.URL,
		Division:     d.Division,
		Part:         d.Part,
		Chapter:      d.Chapter,
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

// validateIndexIntegrity checks index_meta.json before bleve opens the
// index, so a truncated index is reported instead of panicking deep in
// segment loading.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func corruptIndex(path string, cause error) error {
	return apperrors.New(apperrors.ErrCodeCorruptIndex, "lexical index at "+path+" is corrupted", cause).
		WithSuggestion(fmt.Sprintf("Remove %s and run 'legalcodes sync --full'", path))
}

// NewLexicalIndex opens or creates the index at path. An empty path creates
// an in-memory index.
func NewLexicalIndex(path string, boosts Boosts) (*LexicalIndex, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Error("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			return nil, corruptIndex(path, validErr)
		}

		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, indexMapping)
		} else if errors.Is(err, bleve.ErrorIndexMetaCorrupt) {
			return nil, corruptIndex(path, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open lexical index: %w", err)
	}

	return &LexicalIndex{index: idx, path: path, boosts: boosts}, nil
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	searchable := func(analyzer string) *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = analyzer
		fm.Store = true
		return fm
	}
	storedOnly := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Index = false
		fm.Store = true
		fm.IncludeInAll = false
		return fm
	}
	keyword := bleve.NewKeywordFieldMapping()
	keyword.Store = true
	keyword.IncludeInAll = false

	updated := bleve.NewDateTimeFieldMapping()
	updated.Store = true
	updated.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("code", keyword)
	doc.AddFieldMappingsAt("code_name", searchable(en.AnalyzerName))
	doc.AddFieldMappingsAt("section", searchable(standard.Name))
	doc.AddFieldMappingsAt("section_exact", keyword)
	doc.AddFieldMappingsAt("title", searchable(en.AnalyzerName))
	doc.AddFieldMappingsAt("content", searchable(en.AnalyzerName))
	doc.AddFieldMappingsAt("url", storedOnly())
	doc.AddFieldMappingsAt("division", storedOnly())
	doc.AddFieldMappingsAt("part", storedOnly())
	doc.AddFieldMappingsAt("chapter", storedOnly())
	doc.AddFieldMappingsAt("updated_at", updated)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = en.AnalyzerName
	return indexMapping, nil
}

// Upsert indexes docs keyed by ID in one bleve batch. The returned map holds
// an IndexWriteError for every document that was not written; it is empty
// when the whole batch succeeded.
func (l *LexicalIndex) Upsert(ctx context.Context, docs []source.Document) map[string]error {
	failed := make(map[string]error)
	if len(docs) == 0 {
		return failed
	}

	failAll := func(cause error) map[string]error {
		for i := range docs {
			if _, ok := failed[docs[i].ID]; !ok {
				failed[docs[i].ID] = apperrors.IndexWriteError("lexical", docs[i].ID, cause)
			}
		}
		return failed
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return failAll(fmt.Errorf("index is closed"))
	}
	if err := ctx.Err(); err != nil {
		return failAll(err)
	}

	batch := l.index.NewBatch()
	for i := range docs {
		if err := batch.Index(docs[i].ID, toLexicalDoc(&docs[i])); err != nil {
			failed[docs[i].ID] = apperrors.IndexWriteError("lexical", docs[i].ID, err)
		}
	}
	if batch.Size() == 0 {
		return failed
	}
	if err := l.index.Batch(batch); err != nil {
		return failAll(err)
	}
	return failed
}

// Flush is a no-op: a bleve batch is durable once Batch returns.
func (l *LexicalIndex) Flush(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return fmt.Errorf("index is closed")
	}
	return nil
}

// Search runs a boosted match over title, section and content, restricted
// by the filters. Results are ordered by score, then ID.
func (l *LexicalIndex) Search(ctx context.Context, q LexicalQuery) ([]Hit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, fmt.Errorf("index is closed")
	}
	text := strings.TrimSpace(q.Text)
	if text == "" || q.Limit <= 0 {
		return []Hit{}, nil
	}

	req := bleve.NewSearchRequestOptions(l.buildQuery(text, q.Filters), q.Limit, q.Offset, false)
	req.SortBy([]string{"-_score", "_id"})

	result, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

func (l *LexicalIndex) buildQuery(text string, f Filters) query.Query {
	field := func(name string, boost float64) query.Query {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(name)
		if boost > 0 {
			mq.SetBoost(boost)
		}
		return mq
	}
	must := []query.Query{bleve.NewDisjunctionQuery(
		field("title", l.boosts.Title),
		field("section", l.boosts.Section),
		field("content", l.boosts.Content),
	)}

	if f.Code != "" {
		tq := bleve.NewTermQuery(strings.ToUpper(f.Code))
		tq.SetField("code")
		must = append(must, tq)
	}
	if f.Section != "" {
		tq := bleve.NewTermQuery(f.Section)
		tq.SetField("section_exact")
		must = append(must, tq)
	}
	if f.TitleContains != "" {
		mq := bleve.NewMatchQuery(f.TitleContains)
		mq.SetField("title")
		mq.SetOperator(query.MatchQueryOperatorAnd)
		must = append(must, mq)
	}
	if !f.UpdatedAfter.IsZero() || !f.UpdatedBefore.IsZero() {
		inclusive := true
		dq := bleve.NewDateRangeInclusiveQuery(f.UpdatedAfter, f.UpdatedBefore, &inclusive, &inclusive)
		dq.SetField("updated_at")
		must = append(must, dq)
	}

	if len(must) == 1 {
		return must[0]
	}
	return bleve.NewConjunctionQuery(must...)
}

// Fetch resolves IDs to full documents, in the order given. IDs not in the
// index are omitted.
func (l *LexicalIndex) Fetch(ctx context.Context, ids []string) ([]source.Document, error) {
	if len(ids) == 0 {
		return []source.Document{}, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, fmt.Errorf("index is closed")
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery(ids), len(ids), 0, false)
	req.Fields = []string{"*"}
	result, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}

	byID := make(map[string]source.Document, len(result.Hits))
	for _, h := range result.Hits {
		byID[h.ID] = documentFromFields(h.ID, h.Fields)
	}

	docs := make([]source.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

func documentFromFields(id string, fields map[string]any) source.Document {
	str := func(key string) string {
		if v, ok := fields[key].(string); ok {
			return v
		}
		return ""
	}
	d := source.Document{
		ID:         id,
		CodeAbbrev: str("code"),
		CodeName:   str("code_name"),
		Section:    str("section"),
		Title:      str("title"),
		Content:    str("content"),
		URL:        str("url"),
		Division:   str("division"),
		Part:       str("part"),
		Chapter:    str("chapter"),
	}
	d.UpdatedAt = storedTime(fields["updated_at"])
	return d
}

// storedTime decodes a stored datetime. Depending on how the value was
// indexed bleve returns either a formatted string or Unix nanoseconds.
func storedTime(v any) time.Time {
	switch x := v.(type) {
	case string:
		if ts, err := source.ParseTime(x); err == nil {
			return ts
		}
		if n, err := strconv.ParseInt(x, 10, 64); err == nil {
			return time.Unix(0, n).UTC()
		}
	case float64:
		return time.Unix(0, int64(x)).UTC()
	}
	return time.Time{}
}

// Count returns the number of indexed documents.
func (l *LexicalIndex) Count() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, fmt.Errorf("index is closed")
	}
	return l.index.DocCount()
}

// Close closes the index.
func (l *LexicalIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.index.Close()
}
