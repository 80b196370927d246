package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, registered as "sqlite"

	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
)

// Watermark is the durable sync boundary for one target.
type Watermark struct {
	Target       string    `json:"target"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	RunMode      string    `json:"run_mode"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FailedDocument records a document that could not be indexed.
type FailedDocument struct {
	Target        string    `json:"target"`
	DocumentID    string    `json:"document_id"`
	ErrorKind     string    `json:"error_kind"`
	AttemptCount  int       `json:"attempt_count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	LastError     string    `json:"last_error"`
	// SourceUpdatedAt is the document's updated_at when it last failed.
	SourceUpdatedAt time.Time `json:"source_updated_at"`
}

// RunRecord is one sync run in the history.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Target     string    `json:"target"`
	Mode       string    `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Committed  int       `json:"committed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Unchanged  int       `json:"unchanged"`
	Retried    int       `json:"retried"`
	Watermark  time.Time `json:"watermark"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// CommittedDocument is a document both indexes acknowledged.
type CommittedDocument struct {
	ID       string
	Checksum string
}

// BatchCommit is the state change produced by one sync batch. It is applied
// in a single transaction so the watermark never moves without the failure
// records and checksums that justify it.
type BatchCommit struct {
	Target    string
	Mode      string
	Committed []CommittedDocument
	Failed    []FailedDocument
	// Watermark, when non-zero, replaces the stored watermark.
	Watermark time.Time
}

// StateStore persists sync state in SQLite.
type StateStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS sync_watermarks (
	target         TEXT PRIMARY KEY,
	last_synced_at TEXT NOT NULL,
	run_mode       TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_runs (
	run_id      TEXT PRIMARY KEY,
	target      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	committed   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	unchanged   INTEGER NOT NULL DEFAULT 0,
	retried     INTEGER NOT NULL DEFAULT 0,
	watermark   TEXT,
	status      TEXT NOT NULL,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_target ON sync_runs(target, started_at);

CREATE TABLE IF NOT EXISTS failed_documents (
	target            TEXT NOT NULL,
	document_id       TEXT NOT NULL,
	error_kind        TEXT NOT NULL,
	attempt_count     INTEGER NOT NULL,
	last_attempt_at   TEXT NOT NULL,
	last_error        TEXT NOT NULL,
	source_updated_at TEXT,
	PRIMARY KEY (target, document_id)
);

CREATE TABLE IF NOT EXISTS document_checksums (
	target      TEXT NOT NULL,
	document_id TEXT NOT NULL,
	checksum    TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (target, document_id)
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// NewStateStore opens the state database at path, creating it if needed.
// An empty path opens a private in-memory database.
func NewStateStore(path string) (*StateStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, stateErr("create state directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, stateErr("open state database", err)
	}
	// one connection: a single writer, and :memory: is per-connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = FULL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, stateErr("configure state database", err)
		}
	}
	if _, err := db.Exec(stateSchema); err != nil {
		_ = db.Close()
		return nil, stateErr("initialize state schema", err)
	}

	return &StateStore{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}, nil
}

func stateErr(msg string, err error) error {
	return apperrors.New(apperrors.ErrCodeStateStore, msg, err)
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// GetWatermark returns the watermark for target. ok is false before the
// first checkpoint.
func (s *StateStore) GetWatermark(ctx context.Context, target string) (wm Watermark, ok bool, err error) {
	var last, updated sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT last_synced_at, run_mode, updated_at FROM sync_watermarks WHERE target = ?`, target).
		Scan(&last, &wm.RunMode, &updated)
	if err == sql.ErrNoRows {
		return Watermark{Target: target}, false, nil
	}
	if err != nil {
		return Watermark{}, false, stateErr("read watermark", err)
	}
	wm.Target = target
	wm.LastSyncedAt = parseTime(last)
	wm.UpdatedAt = parseTime(updated)
	return wm, true, nil
}

// CommitBatch applies one batch's state change atomically. Failure records
// for committed documents are cleared; failed documents get attempt_count
// incremented from any existing record.
func (s *StateStore) CommitBatch(ctx context.Context, b BatchCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stateErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(s.now())

	if len(b.Committed) > 0 {
		upsertSum, err := tx.PrepareContext(ctx, `
			INSERT INTO document_checksums (target, document_id, checksum, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(target, document_id) DO UPDATE SET checksum = excluded.checksum, updated_at = excluded.updated_at`)
		if err != nil {
			return stateErr("prepare checksum upsert", err)
		}
		defer upsertSum.Close()

		clearFail, err := tx.PrepareContext(ctx,
			`DELETE FROM failed_documents WHERE target = ? AND document_id = ?`)
		if err != nil {
			return stateErr("prepare failure clear", err)
		}
		defer clearFail.Close()

		for _, c := range b.Committed {
			if _, err := upsertSum.ExecContext(ctx, b.Target, c.ID, c.Checksum, now); err != nil {
				return stateErr("store checksum", err)
			}
			if _, err := clearFail.ExecContext(ctx, b.Target, c.ID); err != nil {
				return stateErr("clear failure record", err)
			}
		}
	}

	if len(b.Failed) > 0 {
		upsertFail, err := tx.PrepareContext(ctx, `
			INSERT INTO failed_documents
				(target, document_id, error_kind, attempt_count, last_attempt_at, last_error, source_updated_at)
			VALUES (?, ?, ?, 1, ?, ?, ?)
			ON CONFLICT(target, document_id) DO UPDATE SET
				error_kind = excluded.error_kind,
				attempt_count = failed_documents.attempt_count + 1,
				last_attempt_at = excluded.last_attempt_at,
				last_error = excluded.last_error,
				source_updated_at = excluded.source_updated_at`)
		if err != nil {
			return stateErr("prepare failure upsert", err)
		}
		defer upsertFail.Close()

		// a failed document must be re-embedded next time, whatever its content
		dropSum, err := tx.PrepareContext(ctx,
			`DELETE FROM document_checksums WHERE target = ? AND document_id = ?`)
		if err != nil {
			return stateErr("prepare checksum delete", err)
		}
		defer dropSum.Close()

		for _, f := range b.Failed {
			if _, err := upsertFail.ExecContext(ctx, b.Target, f.DocumentID, f.ErrorKind, now,
				f.LastError, formatTime(f.SourceUpdatedAt)); err != nil {
				return stateErr("record failed document", err)
			}
			if _, err := dropSum.ExecContext(ctx, b.Target, f.DocumentID); err != nil {
				return stateErr("drop checksum", err)
			}
		}
	}

	if !b.Watermark.IsZero() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sync_watermarks (target, last_synced_at, run_mode, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(target) DO UPDATE SET
				last_synced_at = excluded.last_synced_at,
				run_mode = excluded.run_mode,
				updated_at = excluded.updated_at`,
			b.Target, formatTime(b.Watermark), b.Mode, now); err != nil {
			return stateErr("write watermark", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return stateErr("commit batch state", err)
	}
	return nil
}

// Checksums returns the stored checksum for each known ID.
func (s *StateStore) Checksums(ctx context.Context, target string, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	// SQLite caps bound parameters; 500 per query stays well under it
	for start := 0; start < len(ids); start += 500 {
		end := start + 500
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, target)
		for _, id := range chunk {
			args = append(args, id)
		}
		q := `SELECT document_id, checksum FROM document_checksums WHERE target = ? AND document_id IN (` +
			strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",") + `)`

		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, stateErr("read checksums", err)
		}
		for rows.Next() {
			var id, sum string
			if err := rows.Scan(&id, &sum); err != nil {
				rows.Close()
				return nil, stateErr("scan checksum", err)
			}
			out[id] = sum
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, stateErr("read checksums", err)
		}
	}
	return out, nil
}

// FailedDocuments lists failure records for target, oldest attempt first.
// When maxAttempts > 0 only records below that attempt count are returned.
func (s *StateStore) FailedDocuments(ctx context.Context, target string, maxAttempts int) ([]FailedDocument, error) {
	q := `SELECT document_id, error_kind, attempt_count, last_attempt_at, last_error, source_updated_at
		FROM failed_documents WHERE target = ?`
	args := []any{target}
	if maxAttempts > 0 {
		q += ` AND attempt_count < ?`
		args = append(args, maxAttempts)
	}
	q += ` ORDER BY last_attempt_at, document_id`
	return s.queryFailures(ctx, target, q, args...)
}

// ExhaustedFailures lists records at or above maxAttempts. These are no
// longer retried and are reported as gaps.
func (s *StateStore) ExhaustedFailures(ctx context.Context, target string, maxAttempts int) ([]FailedDocument, error) {
	return s.queryFailures(ctx, target, `
		SELECT document_id, error_kind, attempt_count, last_attempt_at, last_error, source_updated_at
		FROM failed_documents WHERE target = ? AND attempt_count >= ?
		ORDER BY document_id`, target, maxAttempts)
}

func (s *StateStore) queryFailures(ctx context.Context, target, q string, args ...any) ([]FailedDocument, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, stateErr("read failed documents", err)
	}
	defer rows.Close()

	var out []FailedDocument
	for rows.Next() {
		var (
			f                FailedDocument
			lastAt, srcUpdAt sql.NullString
		)
		if err := rows.Scan(&f.DocumentID, &f.ErrorKind, &f.AttemptCount, &lastAt, &f.LastError, &srcUpdAt); err != nil {
			return nil, stateErr("scan failed document", err)
		}
		f.Target = target
		f.LastAttemptAt = parseTime(lastAt)
		f.SourceUpdatedAt = parseTime(srcUpdAt)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, stateErr("read failed documents", err)
	}
	return out, nil
}

// DeleteFailures drops failure records, used when a document no longer
// exists in the source.
func (s *StateStore) DeleteFailures(ctx context.Context, target string, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stateErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM failed_documents WHERE target = ? AND document_id = ?`, target, id); err != nil {
			return stateErr("delete failure record", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return stateErr("commit failure delete", err)
	}
	return nil
}

// BeginRun inserts a run record with status running.
func (s *StateStore) BeginRun(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (run_id, target, mode, started_at, watermark, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Target, r.Mode, formatTime(r.StartedAt), formatTime(r.Watermark), RunRunning)
	if err != nil {
		return stateErr("record run start", err)
	}
	return nil
}

// FinishRun stores the final counts and status of a run.
func (s *StateStore) FinishRun(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET finished_at = ?, committed = ?, failed = ?, skipped = ?, unchanged = ?,
			retried = ?, watermark = ?, status = ?, error = ?
		WHERE run_id = ?`,
		formatTime(r.FinishedAt), r.Committed, r.Failed, r.Skipped, r.Unchanged,
		r.Retried, formatTime(r.Watermark), r.Status, r.Error, r.RunID)
	if err != nil {
		return stateErr("record run finish", err)
	}
	return nil
}

// RecentRuns returns the latest runs for target, newest first.
func (s *StateStore) RecentRuns(ctx context.Context, target string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, mode, started_at, finished_at, committed, failed, skipped, unchanged, retried,
			watermark, status, error
		FROM sync_runs WHERE target = ? ORDER BY started_at DESC, run_id DESC LIMIT ?`, target, limit)
	if err != nil {
		return nil, stateErr("read runs", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                           RunRecord
			started, finished, wm, errS sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Mode, &started, &finished, &r.Committed, &r.Failed, &r.Skipped,
			&r.Unchanged, &r.Retried, &wm, &r.Status, &errS); err != nil {
			return nil, stateErr("scan run", err)
		}
		r.Target = target
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		r.Watermark = parseTime(wm)
		r.Error = errS.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, stateErr("read runs", err)
	}
	return out, nil
}

// Ping checks the database is reachable.
func (s *StateStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return stateErr("ping state database", err)
	}
	return nil
}

// Close closes the database.
func (s *StateStore) Close() error {
	return s.db.Close()
}
