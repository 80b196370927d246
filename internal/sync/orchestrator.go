package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qter21/legal-codes-search-api/internal/embed"
	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
	"github.com/qter21/legal-codes-search-api/internal/metrics"
	"github.com/qter21/legal-codes-search-api/internal/source"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Source   source.Reader
	Embedder embed.Embedder
	Lexical  LexicalWriter
	Vector   VectorWriter
	State    StateStore
	Lease    Lease

	// Progress is optional.
	Progress ProgressFunc
}

// Orchestrator runs sync passes from the source into both indexes.
type Orchestrator struct {
	source   source.Reader
	embedder embed.Embedder
	lexical  LexicalWriter
	vector   VectorWriter
	state    StateStore
	lease    Lease
	progress ProgressFunc
	opts     Options
	now      func() time.Time
}

// New creates an Orchestrator. All dependencies except Progress are
// required.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("source reader is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	case deps.Lexical == nil:
		return nil, fmt.Errorf("lexical writer is required")
	case deps.Vector == nil:
		return nil, fmt.Errorf("vector writer is required")
	case deps.State == nil:
		return nil, fmt.Errorf("state store is required")
	case deps.Lease == nil:
		return nil, fmt.Errorf("lease is required")
	}
	opts.setDefaults()

	progress := deps.Progress
	if progress == nil {
		progress = func(Event) {}
	}

	return &Orchestrator{
		source:   deps.Source,
		embedder: deps.Embedder,
		lexical:  deps.Lexical,
		vector:   deps.Vector,
		state:    deps.State,
		lease:    deps.Lease,
		progress: progress,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Target returns the sync-state key this orchestrator writes.
func (o *Orchestrator) Target() string {
	return o.opts.Target
}

// Run executes one sync pass. It fails fast with ErrCodeSyncLeaseHeld when
// another run holds the lease. On a run-level error the partial report is
// returned with the error; the watermark stays at its last durable value.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) (*Report, error) {
	if mode != ModeIncremental && mode != ModeFull {
		return nil, apperrors.ValidationError(fmt.Sprintf("unknown sync mode %q", mode), nil)
	}
	if err := o.lease.TryAcquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.lease.Release(); err != nil {
			slog.Warn("sync_lease_release_failed", slog.String("error", err.Error()))
		}
	}()

	start := time.Now()
	wm, _, err := o.state.GetWatermark(ctx, o.opts.Target)
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues(string(mode), store.RunFailed).Inc()
		return nil, err
	}

	report := &Report{
		RunID:             uuid.NewString(),
		Target:            o.opts.Target,
		Mode:              mode,
		PreviousWatermark: wm.LastSyncedAt,
		NewWatermark:      wm.LastSyncedAt,
	}
	record := store.RunRecord{
		RunID:     report.RunID,
		Target:    report.Target,
		Mode:      string(mode),
		StartedAt: o.now(),
		Watermark: wm.LastSyncedAt,
	}
	if err := o.state.BeginRun(ctx, record); err != nil {
		metrics.SyncRunsTotal.WithLabelValues(string(mode), store.RunFailed).Inc()
		return nil, err
	}

	slog.Info("sync_run_started",
		slog.String("run_id", report.RunID),
		slog.String("target", report.Target),
		slog.String("mode", string(mode)),
		slog.Time("watermark", wm.LastSyncedAt))

	runErr := o.run(ctx, report)
	report.Duration = time.Since(start)

	record.FinishedAt = o.now()
	record.Committed = report.Committed
	record.Failed = report.Failed
	record.Skipped = report.Skipped
	record.Unchanged = report.Unchanged
	record.Retried = report.Retried
	record.Watermark = report.NewWatermark
	record.Status = store.RunSucceeded
	if runErr != nil {
		record.Status = store.RunFailed
		record.Error = runErr.Error()
	}
	// the run record is written even when ctx was cancelled
	if err := o.state.FinishRun(context.WithoutCancel(ctx), record); err != nil {
		slog.Error("sync_run_record_failed", slog.String("run_id", report.RunID), slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}
	metrics.SyncRunsTotal.WithLabelValues(string(mode), record.Status).Inc()

	attrs := []any{
		slog.String("run_id", report.RunID),
		slog.String("status", record.Status),
		slog.Int("committed", report.Committed),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("retried", report.Retried),
		slog.Time("watermark", report.NewWatermark),
		slog.Duration("duration", report.Duration),
	}
	if runErr != nil {
		slog.Error("sync_run_finished", append(attrs, slog.String("error", runErr.Error()))...)
	} else {
		slog.Info("sync_run_finished", attrs...)
	}
	o.progress(Event{Stage: StageDone, Report: *report, Err: runErr})

	return report, runErr
}

func (o *Orchestrator) run(ctx context.Context, report *Report) error {
	// documents already taken up by the retry pass are not processed twice
	handled := make(map[string]bool)
	if report.Mode == ModeIncremental {
		if err := o.retryFailed(ctx, report, handled); err != nil {
			return err
		}
	}

	// the read boundary is fixed from the watermark the run started with
	var cursor source.Cursor
	if report.Mode == ModeIncremental && !report.PreviousWatermark.IsZero() {
		cursor = source.Since(report.PreviousWatermark.Add(-o.opts.Lookback))
	}

	for {
		o.progress(Event{Stage: StageReading, Batch: report.Batches + 1, Report: *report})
		page, err := o.source.FetchPage(ctx, cursor, o.opts.BatchSize)
		if err != nil {
			return sourceError(ctx, err)
		}
		if page.Skipped > 0 {
			report.Skipped += page.Skipped
			metrics.SyncDocumentsTotal.WithLabelValues("skipped").Add(float64(page.Skipped))
		}
		docs := page.Documents
		cp := checkpoint{advance: true}
		if len(handled) > 0 {
			docs = make([]source.Document, 0, len(page.Documents))
			for _, d := range page.Documents {
				if !handled[d.ID] {
					docs = append(docs, d)
				} else if d.UpdatedAt.After(cp.seen) {
					cp.seen = d.UpdatedAt
				}
			}
		}
		if len(docs) > 0 {
			if err := o.processBatch(ctx, report, docs, cp); err != nil {
				return err
			}
		}
		if !page.More {
			return nil
		}
		cursor = page.Next
	}
}

// retryFailed takes up documents that failed in earlier runs and are still
// below the attempt cap. Records at the cap are reported as gaps.
func (o *Orchestrator) retryFailed(ctx context.Context, report *Report, handled map[string]bool) error {
	exhausted, err := o.state.ExhaustedFailures(ctx, o.opts.Target, o.opts.MaxFailedAttempts)
	if err != nil {
		return err
	}
	for _, f := range exhausted {
		slog.Warn("sync_gap",
			slog.String("document_id", f.DocumentID),
			slog.String("error_kind", f.ErrorKind),
			slog.Int("attempts", f.AttemptCount),
			slog.String("last_error", f.LastError))
	}
	report.Gaps = len(exhausted)

	retry, err := o.state.FailedDocuments(ctx, o.opts.Target, o.opts.MaxFailedAttempts)
	if err != nil {
		return err
	}
	if len(retry) == 0 {
		return nil
	}

	ids := make([]string, len(retry))
	for i, f := range retry {
		ids[i] = f.DocumentID
	}
	o.progress(Event{Stage: StageRetrying, Documents: len(ids), Report: *report})

	docs, err := o.source.Fetch(ctx, ids)
	if err != nil {
		return sourceError(ctx, err)
	}

	found := make(map[string]bool, len(docs))
	for _, d := range docs {
		found[d.ID] = true
		handled[d.ID] = true
	}
	var gone []string
	for _, id := range ids {
		if !found[id] {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		slog.Info("sync_failed_documents_removed_from_source", slog.Int("count", len(gone)))
		if err := o.state.DeleteFailures(ctx, o.opts.Target, gone); err != nil {
			return err
		}
	}

	report.Retried += len(docs)
	for start := 0; start < len(docs); start += o.opts.BatchSize {
		end := min(start+o.opts.BatchSize, len(docs))
		if err := o.processBatch(ctx, report, docs[start:end], checkpoint{}); err != nil {
			return err
		}
	}
	return nil
}

func sourceError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.New(apperrors.ErrCodeSourceUnreachable, "failed to read from source", err)
}
