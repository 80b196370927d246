package source

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qter21/legal-codes-search-api/internal/config"
)

// buildSQLiteSource writes a sections table the way an upstream exporter
// would, using a different driver than the reader.
func buildSQLiteSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codes.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE sections (
		document_id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		code_name TEXT,
		section TEXT NOT NULL,
		title TEXT,
		content TEXT,
		versions_content TEXT,
		updated_at TEXT NOT NULL
	)`)
	require.NoError(t, err)

	rows := [][]any{
		{"fam-3044", "FAM", "Family Code", "3044", "Custody presumption", "Upon a finding...", nil, "2024-01-02T00:00:00Z"},
		{"fam-3011", "FAM", "Family Code", "3011", nil, "In making a determination...", nil, "2024-01-01 00:00:00"},
		{"pen-187", "PEN", "Penal Code", "187", nil, "", "Murder is the unlawful killing...", "2024-01-02T00:00:00Z"},
		{"civ-1714", "CIV", "Civil Code", "1714", nil, "Everyone is responsible...", nil, "2024-01-03T00:00:00Z"},
	}
	for _, row := range rows {
		_, err := db.Exec(`INSERT INTO sections VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, row...)
		require.NoError(t, err)
	}
	return path
}

func TestSQLiteReader_PagesInKeysetOrder(t *testing.T) {
	r, err := NewSQLiteReader(buildSQLiteSource(t), "sections")
	require.NoError(t, err)
	defer r.Close()

	ids := collect(t, r, Cursor{}, 1)
	assert.Equal(t, []string{"fam-3011", "fam-3044", "pen-187", "civ-1714"}, ids)

	ids = collect(t, r, Since(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)), 10)
	assert.Equal(t, []string{"civ-1714"}, ids)
}

func TestSQLiteReader_UnparseableTimestampIsSurfacedAsMalformed(t *testing.T) {
	// Given: a row whose updated_at no layout understands
	path := buildSQLiteSource(t)
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO sections VALUES ('bad', 'CIV', NULL, '1', NULL, 'text', NULL, 'yesterday'),
		('bad-2', 'CIV', NULL, '2', NULL, 'text', NULL, 'soon')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	r, err := NewSQLiteReader(path, "sections")
	require.NoError(t, err)
	defer r.Close()

	// When: reading from the beginning, across page boundaries
	ids := collect(t, r, Cursor{}, 1)

	// Then: the bad rows come first and every dated row still follows
	assert.Equal(t, []string{"bad", "bad-2", "fam-3011", "fam-3044", "pen-187", "civ-1714"}, ids)

	page, err := r.FetchPage(context.Background(), Cursor{}, 10)
	require.NoError(t, err)
	bad := page.Documents[0]
	assert.True(t, bad.UpdatedAt.IsZero())
	require.Error(t, bad.Validate())
	assert.ErrorIs(t, bad.Validate(), ErrMalformedRecord)
	require.NoError(t, page.Documents[2].Validate())

	// And: an incremental read never sees them
	ids = collect(t, r, Since(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)), 10)
	assert.NotContains(t, ids, "bad")

	docs, err := r.Fetch(context.Background(), []string{"bad"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.ErrorIs(t, docs[0].Validate(), ErrMalformedRecord)
}

func TestSQLiteReader_Fetch(t *testing.T) {
	r, err := NewSQLiteReader(buildSQLiteSource(t), "")
	require.NoError(t, err)
	defer r.Close()

	docs, err := r.Fetch(context.Background(), []string{"pen-187", "unknown"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Murder is the unlawful killing...", docs[0].Content)
	assert.Equal(t, "Penal Code", docs[0].CodeName)
	assert.Equal(t, "", docs[0].URL, "absent column reads as empty")
}

func TestSQLiteReader_RejectsBadTable(t *testing.T) {
	path := buildSQLiteSource(t)

	_, err := NewSQLiteReader(path, "sections; DROP TABLE sections")
	assert.Error(t, err)

	_, err = NewSQLiteReader(path, "statutes")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	_, err := Open(config.SourceConfig{Kind: "jsonl"})
	assert.Error(t, err, "path is required")

	r, err := Open(config.SourceConfig{Kind: "sqlite", Path: buildSQLiteSource(t), Table: "sections"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteReader{}, r)
	require.NoError(t, r.Close())
}
