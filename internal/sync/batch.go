package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qter21/legal-codes-search-api/internal/embed"
	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
	"github.com/qter21/legal-codes-search-api/internal/metrics"
	"github.com/qter21/legal-codes-search-api/internal/source"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

// pending is a document moving through one batch.
type pending struct {
	doc      source.Document
	checksum string
	vector   []float32
	err      error
}

// batchOutcome is what one batch commits to the state store.
type batchOutcome struct {
	committed []store.CommittedDocument
	failed    []store.FailedDocument
	skipped   int
	unchanged int
	// extraction counts skipped documents that also have a failure record.
	extraction int
	// maxUpdated is the newest updated_at among documents with a terminal
	// disposition.
	maxUpdated time.Time
}

func (b *batchOutcome) observe(t time.Time) {
	if t.After(b.maxUpdated) {
		b.maxUpdated = t
	}
}

// checkpoint says how far a batch may move the watermark. Retried documents
// are fetched out of keyset order and never move it. seen carries the
// timestamps of page documents the retry pass already took up.
type checkpoint struct {
	advance bool
	seen    time.Time
}

func (b *batchOutcome) fail(doc *source.Document, err error) {
	b.failed = append(b.failed, store.FailedDocument{
		DocumentID:      doc.ID,
		ErrorKind:       apperrors.Kind(err),
		LastError:       err.Error(),
		SourceUpdatedAt: doc.UpdatedAt,
	})
	b.observe(doc.UpdatedAt)
}

// processBatch validates, encodes, writes and checkpoints one batch. A
// document-level failure is recorded and never aborts the batch; a returned
// error aborts the run before the batch is checkpointed.
func (o *Orchestrator) processBatch(ctx context.Context, report *Report, docs []source.Document, cp checkpoint) error {
	started := time.Now()
	report.Batches++
	batch := report.Batches
	out := &batchOutcome{}

	work := o.validate(docs, out)
	work, err := o.dropUnchanged(ctx, report.Mode, work, out)
	if err != nil {
		return err
	}

	o.progress(Event{Stage: StageEncoding, Batch: batch, Documents: len(work), Report: *report})
	if err := o.encode(ctx, work); err != nil {
		return err
	}

	encoded := make([]*pending, 0, len(work))
	for _, p := range work {
		if p.err != nil {
			out.fail(&p.doc, p.err)
			o.progress(Event{Stage: StageEncoding, Batch: batch, DocumentID: p.doc.ID, Err: p.err})
			continue
		}
		encoded = append(encoded, p)
	}

	o.progress(Event{Stage: StageWriting, Batch: batch, Documents: len(encoded), Report: *report})
	writeErrs, err := o.write(ctx, encoded)
	if err != nil {
		return err
	}
	for _, p := range encoded {
		if werr, ok := writeErrs[p.doc.ID]; ok {
			out.fail(&p.doc, werr)
			o.progress(Event{Stage: StageWriting, Batch: batch, DocumentID: p.doc.ID, Err: werr})
			continue
		}
		out.committed = append(out.committed, store.CommittedDocument{ID: p.doc.ID, Checksum: p.checksum})
		out.observe(p.doc.UpdatedAt)
	}

	if err := o.flush(ctx); err != nil {
		return err
	}

	commit := store.BatchCommit{
		Target:    o.opts.Target,
		Mode:      string(report.Mode),
		Committed: out.committed,
		Failed:    out.failed,
	}
	if cp.advance {
		out.observe(cp.seen)
		if out.maxUpdated.After(report.NewWatermark) {
			commit.Watermark = out.maxUpdated
		}
	}
	if err := o.state.CommitBatch(ctx, commit); err != nil {
		return err
	}

	failed := len(out.failed) - out.extraction
	report.Committed += len(out.committed)
	report.Failed += failed
	report.Skipped += out.skipped
	report.Unchanged += out.unchanged
	if !commit.Watermark.IsZero() {
		report.NewWatermark = commit.Watermark
		metrics.SyncWatermarkSeconds.WithLabelValues(o.opts.Target).Set(float64(commit.Watermark.Unix()))
	}

	metrics.SyncDocumentsTotal.WithLabelValues("committed").Add(float64(len(out.committed)))
	metrics.SyncDocumentsTotal.WithLabelValues("failed").Add(float64(failed))
	metrics.SyncDocumentsTotal.WithLabelValues("skipped").Add(float64(out.skipped))
	metrics.SyncDocumentsTotal.WithLabelValues("unchanged").Add(float64(out.unchanged))
	metrics.SyncBatchDuration.Observe(time.Since(started).Seconds())

	slog.Info("sync_batch_committed",
		slog.Int("batch", batch),
		slog.Int("documents", len(docs)),
		slog.Int("committed", len(out.committed)),
		slog.Int("failed", failed),
		slog.Int("skipped", out.skipped),
		slog.Int("unchanged", out.unchanged),
		slog.Time("watermark", report.NewWatermark),
		slog.Duration("duration", time.Since(started)))
	o.progress(Event{Stage: StageBatch, Batch: batch, Documents: len(docs), Report: *report})
	return nil
}

// validate records malformed documents as extraction failures and returns
// the rest. A repeated ID within the batch keeps its last occurrence.
func (o *Orchestrator) validate(docs []source.Document, out *batchOutcome) []*pending {
	last := make(map[string]int, len(docs))
	for i := range docs {
		last[docs[i].ID] = i
	}

	work := make([]*pending, 0, len(docs))
	for i := range docs {
		d := docs[i]
		if err := d.Validate(); err != nil {
			id := d.ID
			if id == "" {
				// nothing to key a failure record on
				slog.Warn("sync_record_skipped", slog.String("error", err.Error()))
				out.skipped++
				continue
			}
			xerr := apperrors.ExtractionError(id, err)
			slog.Warn("sync_record_skipped", slog.String("document_id", id), slog.String("error", err.Error()))
			out.fail(&d, xerr)
			out.skipped++
			out.extraction++
			continue
		}
		if last[d.ID] != i {
			continue
		}
		work = append(work, &pending{doc: d, checksum: d.Checksum()})
	}
	return work
}

// dropUnchanged removes documents whose stored checksum matches, in
// incremental mode only.
func (o *Orchestrator) dropUnchanged(ctx context.Context, mode Mode, work []*pending, out *batchOutcome) ([]*pending, error) {
	if mode != ModeIncremental || len(work) == 0 {
		return work, nil
	}
	ids := make([]string, len(work))
	for i, p := range work {
		ids[i] = p.doc.ID
	}
	stored, err := o.state.Checksums(ctx, o.opts.Target, ids)
	if err != nil {
		return nil, err
	}

	changed := work[:0]
	for _, p := range work {
		if sum, ok := stored[p.doc.ID]; ok && sum == p.checksum {
			out.unchanged++
			out.observe(p.doc.UpdatedAt)
			continue
		}
		changed = append(changed, p)
	}
	return changed, nil
}

// encode fills in vectors for work in sub-batches on a bounded worker pool.
// A failing sub-batch falls back to one call per document so a single bad
// document does not fail its neighbours.
func (o *Orchestrator) encode(ctx context.Context, work []*pending) error {
	if len(work) == 0 {
		return nil
	}
	dims := o.embedder.Dimensions()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for start := 0; start < len(work); start += o.opts.EmbedBatchSize {
		chunk := work[start:min(start+o.opts.EmbedBatchSize, len(work))]
		g.Go(func() error {
			texts := make([]string, len(chunk))
			for i, p := range chunk {
				texts[i] = p.doc.EmbeddingText(o.opts.TextFields, o.opts.Separator)
			}

			vecs, err := o.embedder.EmbedBatch(gctx, texts)
			if err == nil && len(vecs) != len(chunk) {
				err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(chunk))
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Debug("sync_embed_batch_fallback", slog.Int("size", len(chunk)), slog.String("error", err.Error()))
				vecs = make([][]float32, len(chunk))
				for i, p := range chunk {
					v, derr := o.embedder.Embed(gctx, texts[i])
					if derr != nil {
						if gctx.Err() != nil {
							return gctx.Err()
						}
						p.err = apperrors.EncodingError(p.doc.ID, derr)
						continue
					}
					vecs[i] = v
				}
			}

			for i, p := range chunk {
				if p.err != nil {
					continue
				}
				if err := embed.CheckVector(vecs[i], dims); err != nil {
					p.err = err
					continue
				}
				p.vector = vecs[i]
			}
			return nil
		})
	}
	return g.Wait()
}

// write sends encoded documents to both indexes concurrently, then retries
// each index's failed subset against that index only. It returns the
// documents that still failed.
func (o *Orchestrator) write(ctx context.Context, encoded []*pending) (map[string]error, error) {
	if len(encoded) == 0 {
		return nil, nil
	}
	byID := make(map[string]*pending, len(encoded))
	for _, p := range encoded {
		byID[p.doc.ID] = p
	}

	lexFailed, vecFailed := o.writeBoth(ctx, encoded, encoded)

	for attempt := 1; attempt <= o.opts.Retry.MaxRetries; attempt++ {
		lexRetry := retryable(lexFailed, byID)
		vecRetry := retryable(vecFailed, byID)
		if len(lexRetry) == 0 && len(vecRetry) == 0 {
			break
		}
		if err := apperrors.Sleep(ctx, o.opts.Retry.Delay(attempt)); err != nil {
			return nil, err
		}
		slog.Info("sync_write_retry",
			slog.Int("attempt", attempt),
			slog.Int("lexical", len(lexRetry)),
			slog.Int("vector", len(vecRetry)))
		metrics.SyncWriteRetriesTotal.WithLabelValues("lexical").Add(float64(len(lexRetry)))
		metrics.SyncWriteRetriesTotal.WithLabelValues("vector").Add(float64(len(vecRetry)))

		lexAgain, vecAgain := o.writeBoth(ctx, lexRetry, vecRetry)
		for _, p := range lexRetry {
			delete(lexFailed, p.doc.ID)
		}
		for _, p := range vecRetry {
			delete(vecFailed, p.doc.ID)
		}
		for id, err := range lexAgain {
			lexFailed[id] = err
		}
		for id, err := range vecAgain {
			vecFailed[id] = err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := make(map[string]error, len(lexFailed)+len(vecFailed))
	for id, err := range vecFailed {
		failed[id] = indexWriteError("vector", id, err)
	}
	for id, err := range lexFailed {
		failed[id] = indexWriteError("lexical", id, err)
	}
	return failed, nil
}

// writeBoth upserts lex into the lexical index and vec into the vector
// index at the same time.
func (o *Orchestrator) writeBoth(ctx context.Context, lex, vec []*pending) (lexFailed, vecFailed map[string]error) {
	var g errgroup.Group
	g.Go(func() error {
		if len(lex) == 0 {
			lexFailed = map[string]error{}
			return nil
		}
		docs := make([]source.Document, len(lex))
		for i, p := range lex {
			docs[i] = p.doc
		}
		lexFailed = o.lexical.Upsert(ctx, docs)
		return nil
	})
	g.Go(func() error {
		if len(vec) == 0 {
			vecFailed = map[string]error{}
			return nil
		}
		items := make([]store.VectorItem, len(vec))
		for i, p := range vec {
			items[i] = store.VectorItem{ID: p.doc.ID, Vector: p.vector, Payload: store.NewPayload(&p.doc)}
		}
		vecFailed = o.vector.Upsert(ctx, items)
		return nil
	})
	_ = g.Wait()
	if lexFailed == nil {
		lexFailed = map[string]error{}
	}
	if vecFailed == nil {
		vecFailed = map[string]error{}
	}
	return lexFailed, vecFailed
}

// retryable returns the failed documents worth another attempt.
func retryable(failed map[string]error, byID map[string]*pending) []*pending {
	out := make([]*pending, 0, len(failed))
	for id, err := range failed {
		p, ok := byID[id]
		if !ok {
			continue
		}
		if _, isApp := apperrors.As(err); isApp && !apperrors.IsRetryable(err) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func indexWriteError(backend, id string, err error) error {
	if apperrors.HasCode(err, apperrors.ErrCodeIndexWriteFailed) || apperrors.HasCode(err, apperrors.ErrCodeDimensionMismatch) {
		return err
	}
	return apperrors.IndexWriteError(backend, id, err)
}

// flush makes both indexes durable before the batch is checkpointed.
func (o *Orchestrator) flush(ctx context.Context) error {
	if err := o.lexical.Flush(ctx); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexWriteFailed, "failed to flush lexical index", err)
	}
	if err := o.vector.Flush(ctx); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexWriteFailed, "failed to flush vector index", err)
	}
	return nil
}
