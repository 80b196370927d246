// Package source reads section documents from the source-of-truth store.
//
// The core never writes back to the source. Readers page through documents
// in (updated_at, document_id) order so that a sync run can resume from a
// durable cursor without losing documents that share a timestamp.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedRecord marks a record that cannot be indexed.
var ErrMalformedRecord = errors.New("malformed record")

// Document is one legal-code section.
type Document struct {
	ID         string    `json:"document_id"`
	CodeAbbrev string    `json:"code"`
	CodeName   string    `json:"code_name,omitempty"`
	Section    string    `json:"section"`
	Title      string    `json:"title,omitempty"`
	Content    string    `json:"content"`
	URL        string    `json:"url,omitempty"`
	Division   string    `json:"division,omitempty"`
	Part       string    `json:"part,omitempty"`
	Chapter    string    `json:"chapter,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Malformed is set by a reader for a record it could identify but not
	// parse. Such documents fail Validate and are recorded, not indexed.
	Malformed error `json:"-"`
}

// Validate reports whether the document is indexable. Only the ID and the
// content are required, and the reader must have parsed the record.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: missing document_id", ErrMalformedRecord)
	}
	if d.Malformed != nil {
		return fmt.Errorf("document %s: %w", d.ID, d.Malformed)
	}
	if strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("%w: document %s has empty content", ErrMalformedRecord, d.ID)
	}
	return nil
}

// Field returns the named text field. Unknown names return "".
func (d *Document) Field(name string) string {
	switch name {
	case "title":
		return d.Title
	case "section":
		return d.Section
	case "content":
		return d.Content
	case "code":
		return d.CodeAbbrev
	case "code_name":
		return d.CodeName
	}
	return ""
}

// EmbeddingText joins the non-empty named fields with sep.
func (d *Document) EmbeddingText(fields []string, sep string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if v := strings.TrimSpace(d.Field(f)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}

// Checksum is a stable digest of every indexed field. updated_at is left out
// so a touched-but-unchanged document hashes the same.
func (d *Document) Checksum() string {
	h := sha256.New()
	for _, v := range []string{
		d.ID, d.CodeAbbrev, d.CodeName, d.Section, d.Title, d.Content,
		d.URL, d.Division, d.Part, d.Chapter,
	} {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Cursor is a keyset position in (UpdatedAt, ID) order.
//
// An empty ID means "strictly after UpdatedAt". The zero Cursor is before
// every document.
type Cursor struct {
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"document_id,omitempty"`
}

// Since returns the cursor for documents updated strictly after t.
func Since(t time.Time) Cursor {
	return Cursor{UpdatedAt: t.UTC()}
}

// IsZero reports whether c precedes every document.
func (c Cursor) IsZero() bool {
	return c.UpdatedAt.IsZero() && c.ID == ""
}

// Admits reports whether d sorts after c.
func (c Cursor) Admits(d *Document) bool {
	if c.IsZero() {
		return true
	}
	if d.UpdatedAt.After(c.UpdatedAt) {
		return true
	}
	return c.ID != "" && d.UpdatedAt.Equal(c.UpdatedAt) && d.ID > c.ID
}

// CursorAt returns the cursor positioned on d.
func CursorAt(d *Document) Cursor {
	return Cursor{UpdatedAt: d.UpdatedAt, ID: d.ID}
}

// Less orders documents by (UpdatedAt, ID).
func Less(a, b *Document) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// ParseTime accepts the timestamp layouts sources commonly use and returns
// the instant in UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized timestamp %q", ErrMalformedRecord, s)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}
