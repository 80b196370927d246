package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, registered as "sqlite"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// columns selected from the sections table. content_v0 is optional and
// backs the empty-content fallback.
const baseColumns = `document_id, code, code_name, section, title, content, url, updated_at`

// keyed selects rows that can be paged and recorded by document_id.
const keyed = `document_id IS NOT NULL AND document_id != ''`

// SQLiteReader reads sections from a table in a SQLite database opened
// read-only. The table must have the columns document_id, code, section,
// content and updated_at; code_name, title, url and versions_content are
// used when present.
type SQLiteReader struct {
	db    *sql.DB
	table string
	// selectCols is baseColumns plus the fallback column when the table has one.
	selectCols string
}

// NewSQLiteReader opens path read-only.
func NewSQLiteReader(path, table string) (*SQLiteReader, error) {
	if table == "" {
		table = "sections"
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open source database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure source database: %w", err)
	}

	r := &SQLiteReader{db: db, table: table}
	cols, err := r.columns()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, required := range []string{"document_id", "code", "section", "content", "updated_at"} {
		if !cols[required] {
			_ = db.Close()
			return nil, fmt.Errorf("source table %s is missing column %s", table, required)
		}
	}

	sel := make([]string, 0, 9)
	for _, c := range strings.Split(baseColumns, ", ") {
		if cols[c] {
			sel = append(sel, c)
		} else {
			sel = append(sel, "NULL AS "+c)
		}
	}
	if cols["versions_content"] {
		sel = append(sel, "versions_content")
	} else {
		sel = append(sel, "NULL AS versions_content")
	}
	// undated rows are those SQLite cannot place on the timeline
	sel = append(sel, "julianday(updated_at) IS NULL AS undated")
	r.selectCols = strings.Join(sel, ", ")
	return r, nil
}

func (r *SQLiteReader) columns() (map[string]bool, error) {
	rows, err := r.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", r.table))
	if err != nil {
		return nil, fmt.Errorf("inspect source table: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("inspect source table: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("source table %s does not exist", r.table)
	}
	return cols, nil
}

// sqliteTime renders t in a layout SQLite's date functions parse.
func sqliteTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// FetchPage implements Reader. Timestamps are compared through julianday so
// the source may store either ISO-8601 text or SQLite datetime() strings.
// Rows whose updated_at julianday cannot read sort first with a zero
// UpdatedAt, so they are only seen by a read that starts from the beginning.
func (r *SQLiteReader) FetchPage(ctx context.Context, after Cursor, limit int) (*Page, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var (
		cond string
		args []any
	)
	switch {
	case after.IsZero():
	case after.UpdatedAt.IsZero():
		cond = "(julianday(updated_at) IS NULL AND document_id > ?) OR julianday(updated_at) IS NOT NULL"
		args = append(args, after.ID)
	case after.ID == "":
		cond = "julianday(updated_at) > julianday(?)"
		args = append(args, sqliteTime(after.UpdatedAt))
	default:
		ts := sqliteTime(after.UpdatedAt)
		cond = "julianday(updated_at) > julianday(?) OR (julianday(updated_at) = julianday(?) AND document_id > ?)"
		args = append(args, ts, ts, after.ID)
	}
	where := "WHERE " + keyed
	if cond != "" {
		where += " AND (" + cond + ")"
	}
	// one extra row tells us whether another page exists
	args = append(args, limit+1)

	query := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY julianday(updated_at) IS NOT NULL, julianday(updated_at), document_id LIMIT ?",
		r.selectCols, r.table, where)
	docs, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	page := &Page{Next: after}
	if len(docs) > limit {
		page.More = true
		docs = docs[:limit]
	}
	page.Documents = docs
	if n := len(docs); n > 0 {
		page.Next = CursorAt(&docs[n-1])
	}
	if after.IsZero() {
		if page.Skipped, err = r.countUnkeyed(ctx); err != nil {
			return nil, err
		}
	}
	return page, nil
}

func (r *SQLiteReader) countUnkeyed(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE NOT (%s)", r.table, keyed)
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count source rows without document_id: %w", err)
	}
	if n > 0 {
		slog.Warn("source_records_skipped", slog.String("table", r.table), slog.Int("count", n))
	}
	return n, nil
}

// Fetch implements Reader.
func (r *SQLiteReader) Fetch(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE document_id IN (%s) ORDER BY julianday(updated_at) IS NOT NULL, julianday(updated_at), document_id",
		r.selectCols, r.table, placeholders)
	return r.query(ctx, query, args...)
}

func (r *SQLiteReader) query(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query source: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id, code, codeName, section, title, content, url, fallback sql.NullString
			updated                                                    any
			undated                                                    bool
		)
		if err := rows.Scan(&id, &code, &codeName, &section, &title, &content, &url, &updated, &fallback, &undated); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		doc := Document{
			ID:         id.String,
			CodeAbbrev: code.String,
			CodeName:   codeName.String,
			Section:    section.String,
			Title:      title.String,
			Content:    content.String,
			URL:        url.String,
		}
		ts, err := scanTime(updated)
		switch {
		case err != nil:
			doc.Malformed = err
			slog.Warn("source_record_malformed", slog.String("document_id", doc.ID), slog.String("error", err.Error()))
		case !undated:
			// an undated row keeps the zero time it is ordered by
			doc.UpdatedAt = ts
		}
		if doc.Content == "" {
			doc.Content = fallback.String
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read source rows: %w", err)
	}
	return docs, nil
}

func scanTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x.UTC(), nil
	case string:
		return ParseTime(x)
	case []byte:
		return ParseTime(string(x))
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case float64:
		return time.Unix(0, int64(x*float64(time.Second))).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported updated_at type %T", ErrMalformedRecord, v)
	}
}

// Close implements Reader.
func (r *SQLiteReader) Close() error {
	return r.db.Close()
}
