package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// record is the on-disk shape of one section. Exports from the upstream
// document store carry the identifier as _id and may keep the current text
// only under versions[0].
type record struct {
	DocumentID string `json:"document_id"`
	MongoID    string `json:"_id"`
	Code       string `json:"code"`
	CodeName   string `json:"code_name"`
	Section    string `json:"section"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	URL        string `json:"url"`
	Division   any    `json:"division"`
	Part       any    `json:"part"`
	Chapter    any    `json:"chapter"`
	UpdatedAt  string `json:"updated_at"`
	Versions   []struct {
		Content string `json:"content"`
	} `json:"versions"`
}

func (r *record) id() string {
	if r.DocumentID != "" {
		return r.DocumentID
	}
	return r.MongoID
}

// document converts the record. An unparseable updated_at leaves the
// timestamp zero and marks the document malformed.
func (r *record) document() Document {
	content := r.Content
	if content == "" && len(r.Versions) > 0 {
		content = r.Versions[0].Content
	}
	updated, err := ParseTime(r.UpdatedAt)
	return Document{
		ID:         r.id(),
		CodeAbbrev: r.Code,
		CodeName:   r.CodeName,
		Section:    r.Section,
		Title:      r.Title,
		Content:    content,
		URL:        r.URL,
		Division:   stringify(r.Division),
		Part:       stringify(r.Part),
		Chapter:    stringify(r.Chapter),
		UpdatedAt:  updated,
		Malformed:  err,
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}

// JSONLReader reads a newline-delimited JSON export, one section per line.
//
// The file is parsed and sorted once and re-parsed only when its size or
// modification time changes, so a long-running server picks up new exports.
type JSONLReader struct {
	path string

	mu      sync.Mutex
	docs    []Document
	byID    map[string]int
	unkeyed int
	size    int64
	modTime time.Time
}

// NewJSONLReader returns a reader for the file at path. The file is opened
// lazily on the first fetch.
func NewJSONLReader(path string) *JSONLReader {
	return &JSONLReader{path: path}
}

// FetchPage implements Reader.
func (r *JSONLReader) FetchPage(ctx context.Context, after Cursor, limit int) (*Page, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if err := r.load(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := sort.Search(len(r.docs), func(i int) bool {
		return after.Admits(&r.docs[i])
	})
	end := start + limit
	if end > len(r.docs) {
		end = len(r.docs)
	}

	page := &Page{
		Documents: append([]Document(nil), r.docs[start:end]...),
		Next:      after,
		More:      end < len(r.docs),
	}
	if after.IsZero() {
		page.Skipped = r.unkeyed
	}
	if n := len(page.Documents); n > 0 {
		page.Next = CursorAt(&page.Documents[n-1])
	}
	return page, nil
}

// Fetch implements Reader.
func (r *JSONLReader) Fetch(ctx context.Context, ids []string) ([]Document, error) {
	if err := r.load(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		if i, ok := r.byID[id]; ok {
			out = append(out, r.docs[i])
		}
	}
	return out, nil
}

// Close implements Reader.
func (r *JSONLReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = nil
	r.byID = nil
	return nil
}

func (r *JSONLReader) load(ctx context.Context) error {
	info, err := os.Stat(r.path)
	if err != nil {
		return fmt.Errorf("stat source %s: %w", r.path, err)
	}

	r.mu.Lock()
	fresh := r.docs != nil && info.Size() == r.size && info.ModTime().Equal(r.modTime)
	r.mu.Unlock()
	if fresh {
		return nil
	}

	docs, unkeyed, err := r.parse(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(docs, func(i, j int) bool { return Less(&docs[i], &docs[j]) })

	byID := make(map[string]int, len(docs))
	for i := range docs {
		if docs[i].ID != "" {
			byID[docs[i].ID] = i
		}
	}

	r.mu.Lock()
	r.docs = docs
	r.byID = byID
	r.unkeyed = unkeyed
	r.size = info.Size()
	r.modTime = info.ModTime()
	r.mu.Unlock()

	slog.Debug("source_loaded",
		slog.String("path", r.path),
		slog.Int("documents", len(docs)),
		slog.Int("unkeyed", unkeyed))
	return nil
}

// parse reads every line. Records that carry a document ID are returned even
// when malformed; lines without one are only counted.
func (r *JSONLReader) parse(ctx context.Context) ([]Document, int, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, 0, fmt.Errorf("open source %s: %w", r.path, err)
	}
	defer func() { _ = f.Close() }()

	docs := make([]Document, 0, 1024)
	unkeyed := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		// a type error still fills the fields that did decode
		var rec record
		uerr := json.Unmarshal(raw, &rec)
		if rec.id() == "" {
			unkeyed++
			msg := "missing document_id"
			if uerr != nil {
				msg = uerr.Error()
			}
			slog.Warn("source_record_skipped",
				slog.String("path", r.path),
				slog.Int("line", line),
				slog.String("error", msg))
			continue
		}

		doc := rec.document()
		if uerr != nil {
			doc.UpdatedAt = time.Time{}
			doc.Malformed = fmt.Errorf("%w: line %d: %v", ErrMalformedRecord, line, uerr)
		}
		if doc.Malformed != nil {
			slog.Warn("source_record_malformed",
				slog.String("path", r.path),
				slog.Int("line", line),
				slog.String("document_id", doc.ID),
				slog.String("error", doc.Malformed.Error()))
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read source %s: %w", r.path, err)
	}
	return docs, unkeyed, nil
}
