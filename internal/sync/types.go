// Package sync moves section documents from the source store into the
// lexical and vector indexes and tracks what has been committed.
package sync

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/qter21/legal-codes-search-api/internal/config"
	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
	"github.com/qter21/legal-codes-search-api/internal/source"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

// Mode selects how much of the source a run reads.
type Mode string

const (
	// ModeIncremental reads documents updated after the watermark minus the
	// look-back window, and skips documents whose checksum is unchanged.
	ModeIncremental Mode = "incremental"
	// ModeFull reads the whole source and rewrites every document.
	ModeFull Mode = "full"
)

// ParseMode converts a CLI or API value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeIncremental, "":
		return ModeIncremental, nil
	case ModeFull:
		return ModeFull, nil
	default:
		return "", apperrors.ValidationError(fmt.Sprintf("unknown sync mode %q", s), nil)
	}
}

// LexicalWriter receives full documents. Upsert is keyed by document ID and
// returns the documents it could not write.
type LexicalWriter interface {
	Upsert(ctx context.Context, docs []source.Document) map[string]error
	Flush(ctx context.Context) error
}

// VectorWriter receives encoded documents. Upsert is keyed by document ID
// and returns the items it could not write.
type VectorWriter interface {
	Upsert(ctx context.Context, items []store.VectorItem) map[string]error
	Flush(ctx context.Context) error
}

// StateStore is the durable sync state the orchestrator reads and commits.
type StateStore interface {
	GetWatermark(ctx context.Context, target string) (store.Watermark, bool, error)
	CommitBatch(ctx context.Context, b store.BatchCommit) error
	Checksums(ctx context.Context, target string, ids []string) (map[string]string, error)
	FailedDocuments(ctx context.Context, target string, maxAttempts int) ([]store.FailedDocument, error)
	ExhaustedFailures(ctx context.Context, target string, maxAttempts int) ([]store.FailedDocument, error)
	DeleteFailures(ctx context.Context, target string, ids []string) error
	BeginRun(ctx context.Context, r store.RunRecord) error
	FinishRun(ctx context.Context, r store.RunRecord) error
}

// Lease is the single-writer guard held for a whole run.
type Lease interface {
	TryAcquire() error
	Release() error
}

// Options tunes a run.
type Options struct {
	Target            string
	BatchSize         int
	EmbedBatchSize    int
	Workers           int
	Lookback          time.Duration
	MaxFailedAttempts int
	TextFields        []string
	Separator         string
	Retry             apperrors.RetryConfig
}

// OptionsFromConfig builds run options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Target:            cfg.Source.Target,
		BatchSize:         cfg.Sync.BatchSize,
		EmbedBatchSize:    cfg.Embeddings.BatchSize,
		Workers:           cfg.Sync.Workers,
		Lookback:          cfg.Sync.Lookback,
		MaxFailedAttempts: cfg.Sync.MaxFailedAttempts,
		TextFields:        cfg.Sync.TextFields,
		Separator:         cfg.Sync.Separator,
		Retry: apperrors.RetryConfig{
			MaxRetries:   cfg.Sync.MaxRetries,
			InitialDelay: cfg.Sync.RetryDelay,
			MaxDelay:     cfg.Sync.MaxRetryDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

func (o *Options) setDefaults() {
	if o.Target == "" {
		o.Target = "default"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = 32
	}
	if o.Workers <= 0 {
		o.Workers = min(runtime.NumCPU(), 8)
	}
	if o.MaxFailedAttempts <= 0 {
		o.MaxFailedAttempts = 5
	}
	if len(o.TextFields) == 0 {
		o.TextFields = []string{"title", "section", "content"}
	}
	if o.Separator == "" {
		o.Separator = " | "
	}
	if o.Retry.Multiplier == 0 {
		o.Retry.Multiplier = 2.0
	}
}

// Report summarizes one run.
type Report struct {
	RunID  string `json:"run_id"`
	Target string `json:"target"`
	Mode   Mode   `json:"mode"`

	// Committed documents were acknowledged by both indexes.
	Committed int `json:"committed"`
	// Failed documents were recorded for retry by a later run.
	Failed int `json:"failed"`
	// Skipped documents were malformed and recorded as extraction failures.
	Skipped int `json:"skipped"`
	// Unchanged documents matched their stored checksum.
	Unchanged int `json:"unchanged"`
	// Retried counts previously failed documents taken up by this run.
	Retried int `json:"retried"`
	// Gaps counts failure records past the attempt cap.
	Gaps int `json:"gaps"`

	Batches           int           `json:"batches"`
	PreviousWatermark time.Time     `json:"previous_watermark"`
	NewWatermark      time.Time     `json:"new_watermark"`
	Duration          time.Duration `json:"duration"`
}

// Processed returns the number of documents that reached a disposition.
func (r *Report) Processed() int {
	return r.Committed + r.Failed + r.Skipped + r.Unchanged
}

// Stage is the pipeline step an Event reports on.
type Stage string

const (
	StageRetrying Stage = "retrying"
	StageReading  Stage = "reading"
	StageEncoding Stage = "encoding"
	StageWriting  Stage = "writing"
	StageBatch    Stage = "batch_committed"
	StageDone     Stage = "done"
)

// Event is one progress notification.
type Event struct {
	Stage Stage
	Batch int
	// Documents is the size of the current batch.
	Documents int
	// Report is a snapshot of the running totals.
	Report Report
	// DocumentID and Err are set for per-document failures.
	DocumentID string
	Err        error
}

// ProgressFunc receives progress events. It is called from the run's
// goroutine and must not block for long.
type ProgressFunc func(Event)
