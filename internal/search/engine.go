package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/qter21/legal-codes-search-api/internal/embed"
	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
	"github.com/qter21/legal-codes-search-api/internal/metrics"
	"github.com/qter21/legal-codes-search-api/internal/source"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

// Backend names used in metadata, logs and metrics.
const (
	BackendLexical = "lexical"
	BackendVector  = "vector"
)

// EngineDeps are the collaborators of an Engine.
type EngineDeps struct {
	Lexical  LexicalRetriever
	Vector   VectorRetriever
	Embedder embed.Embedder
	Fetcher  DocumentFetcher
	// Payloads backs results with vector payloads when Fetcher fails. It
	// defaults to Vector when that implements PayloadLookup.
	Payloads PayloadLookup
}

// Engine classifies a query, dispatches it to the lexical and vector
// retrievers, fuses their lists and assembles full documents.
type Engine struct {
	lexical    LexicalRetriever
	vector     VectorRetriever
	embedder   embed.Embedder
	payloads   PayloadLookup
	assembler  *Assembler
	classifier *CachedClassifier
	fuser      Fuser
	config     EngineConfig

	lexicalBreaker *apperrors.CircuitBreaker
	vectorBreaker  *apperrors.CircuitBreaker
}

// NewEngine creates an Engine. Lexical and Fetcher are required; without
// Vector or Embedder every query is served lexically.
func NewEngine(deps EngineDeps, cfg EngineConfig) (*Engine, error) {
	if deps.Lexical == nil {
		return nil, fmt.Errorf("lexical retriever is required")
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("document fetcher is required")
	}
	cfg.setDefaults()

	payloads := deps.Payloads
	if payloads == nil {
		payloads, _ = deps.Vector.(PayloadLookup)
	}

	breaker := func(name string) *apperrors.CircuitBreaker {
		return apperrors.NewCircuitBreaker(name,
			apperrors.WithMaxFailures(cfg.BreakerFailures),
			apperrors.WithResetTimeout(cfg.BreakerReset))
	}

	return &Engine{
		lexical:        deps.Lexical,
		vector:         deps.Vector,
		embedder:       deps.Embedder,
		payloads:       payloads,
		assembler:      NewAssembler(deps.Fetcher),
		classifier:     NewCachedClassifier(cfg.ClassifierCacheSize),
		fuser:          NewFuser(cfg.FusionMethod, cfg.RRFConstant, cfg.LexicalWeight, cfg.VectorWeight),
		config:         cfg,
		lexicalBreaker: breaker(BackendLexical),
		vectorBreaker:  breaker(BackendVector),
	}, nil
}

// Classify returns the cached classification for query.
func (e *Engine) Classify(query string) Classification {
	return e.classifier.Classify(query)
}

// Assembler returns the engine's context assembler.
func (e *Engine) Assembler() *Assembler {
	return e.assembler
}

// backendResult is one retriever's outcome.
type backendResult struct {
	hits    []store.Hit
	status  BackendStatus
	elapsed time.Duration
	err     error
}

// Search answers req. A failed or timed-out backend degrades the response;
// only when every dispatched backend fails does Search return
// ErrCodeRetrievalUnavailable.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	req, err := e.normalize(req)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("none", "invalid").Inc()
		return nil, err
	}

	cls := e.classifier.Classify(req.Query)
	switch req.Mode {
	case ModeSimple, ModeComplex:
		cls.Decision = Decision(req.Mode)
		cls.Reason = fmt.Sprintf("%s: forced by request mode (simple %d vs complex %d)",
			cls.Decision, cls.SimpleScore, cls.ComplexScore)
	}

	filters := req.Filters
	if cls.Decision == DecisionSimple && filters.Code == "" && e.config.AutoCodeFilter && cls.CodeHint != "" {
		filters.Code = cls.CodeHint
	}
	filters.Code = strings.ToUpper(filters.Code)

	depth := max(req.Offset+req.Limit, e.config.RetrieveTopN)
	runVector := cls.Decision == DecisionComplex && e.vector != nil && e.embedder != nil

	var lex, vec backendResult
	vec.status = StatusSkipped

	var g errgroup.Group
	g.Go(func() error {
		lex = e.runLexical(ctx, req, filters, depth)
		return nil
	})
	if runVector {
		g.Go(func() error {
			vec = e.runVector(ctx, req, filters, depth)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(string(cls.Decision), "cancelled").Inc()
		return nil, err
	}

	meta := Metadata{
		LexicalMS:   lex.elapsed.Milliseconds(),
		VectorMS:    vec.elapsed.Milliseconds(),
		Lexical:     lex.status,
		Vector:      vec.status,
		LexicalHits: len(lex.hits),
		VectorHits:  len(vec.hits),
		CodeFilter:  filters.Code,
		Contributed: []string{},
	}
	metrics.BackendStatusTotal.WithLabelValues(BackendLexical, string(lex.status)).Inc()
	metrics.BackendStatusTotal.WithLabelValues(BackendVector, string(vec.status)).Inc()
	if lex.status == StatusOK {
		meta.Contributed = append(meta.Contributed, BackendLexical)
	}
	if vec.status == StatusOK {
		meta.Contributed = append(meta.Contributed, BackendVector)
	}

	if len(meta.Contributed) == 0 {
		metrics.SearchRequestsTotal.WithLabelValues(string(cls.Decision), "unavailable").Inc()
		appErr := apperrors.New(apperrors.ErrCodeRetrievalUnavailable, "no retrieval backend could serve the query",
			errors.Join(lex.err, vec.err)).
			WithDetail(BackendLexical, string(lex.status))
		if runVector {
			appErr = appErr.WithDetail(BackendVector, string(vec.status))
		}
		slog.Error("retrieval_unavailable",
			slog.String("lexical", string(lex.status)),
			slog.String("vector", string(vec.status)))
		return nil, appErr
	}

	fusionStart := time.Now()
	var fused []Candidate
	switch {
	case lex.status == StatusOK && vec.status == StatusOK:
		fused = e.fuser.Fuse(RankedFromHits(lex.hits), RankedFromHits(vec.hits))
		meta.FusionMethod = e.fuser.Name()
		meta.Strategy = "hybrid"
	case lex.status == StatusOK:
		fused = PassThrough(RankedFromHits(lex.hits), e.config.RRFConstant, false)
		meta.FusionMethod = "passthrough"
		meta.Strategy = BackendLexical
		if runVector {
			meta.Strategy = "lexical_degraded"
		}
	default:
		fused = PassThrough(RankedFromHits(vec.hits), e.config.RRFConstant, true)
		meta.FusionMethod = "passthrough"
		meta.Strategy = "vector_degraded"
	}
	meta.FusionMS = time.Since(fusionStart).Milliseconds()
	metrics.SearchDuration.WithLabelValues("fusion").Observe(time.Since(fusionStart).Seconds())

	total := len(fused)
	if req.Offset >= len(fused) {
		fused = nil
	} else {
		fused = fused[req.Offset:]
	}

	results, err := e.assembler.Assemble(ctx, fused, req.Limit)
	if err != nil && vec.status == StatusOK && e.payloads != nil && ctx.Err() == nil {
		slog.Warn("retrieval_documents_degraded",
			slog.String("strategy", meta.Strategy),
			slog.String("error", err.Error()))
		results, err = e.assembler.AssemblePreviews(fused, req.Limit, e.payloads), nil
		meta.Documents = DocumentsPreview
	}
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(string(cls.Decision), "error").Inc()
		return nil, apperrors.New(apperrors.ErrCodeRetrievalBackendDown, "failed to assemble results", err)
	}

	elapsed := time.Since(start)
	meta.TotalMS = elapsed.Milliseconds()
	metrics.SearchDuration.WithLabelValues("total").Observe(elapsed.Seconds())
	metrics.SearchRequestsTotal.WithLabelValues(string(cls.Decision), "ok").Inc()

	slog.Debug("search_complete",
		slog.String("decision", string(cls.Decision)),
		slog.String("strategy", meta.Strategy),
		slog.String("code_filter", meta.CodeFilter),
		slog.Int("results", len(results)),
		slog.Duration("total", elapsed))

	return &Response{
		Classification: cls,
		Results:        results,
		Total:          total,
		Metadata:       meta,
	}, nil
}

// normalize validates req and applies defaults.
func (e *Engine) normalize(req Request) (Request, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, apperrors.New(apperrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	if n := utf8.RuneCountInString(req.Query); n > e.config.MaxQueryLength {
		return req, apperrors.New(apperrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query is %d characters, limit is %d", n, e.config.MaxQueryLength), nil)
	}
	switch req.Mode {
	case "":
		req.Mode = ModeAuto
	case ModeAuto, ModeSimple, ModeComplex:
	default:
		return req, apperrors.ValidationError(fmt.Sprintf("unknown search mode %q", req.Mode), nil)
	}
	if req.Limit <= 0 {
		req.Limit = e.config.DefaultLimit
	}
	if req.Limit > e.config.MaxLimit {
		req.Limit = e.config.MaxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	return req, nil
}

func (e *Engine) runLexical(ctx context.Context, req Request, filters store.Filters, depth int) backendResult {
	timeout := e.config.LexicalTimeout
	if req.LexicalTimeout > 0 {
		timeout = req.LexicalTimeout
	}
	return e.dispatch(ctx, BackendLexical, e.lexicalBreaker, timeout, func(bctx context.Context) ([]store.Hit, error) {
		return e.lexical.Search(bctx, store.LexicalQuery{Text: req.Query, Filters: filters, Limit: depth})
	})
}

func (e *Engine) runVector(ctx context.Context, req Request, filters store.Filters, depth int) backendResult {
	timeout := e.config.VectorTimeout
	if req.VectorTimeout > 0 {
		timeout = req.VectorTimeout
	}
	threshold := e.config.ScoreThreshold
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
	}
	return e.dispatch(ctx, BackendVector, e.vectorBreaker, timeout, func(bctx context.Context) ([]store.Hit, error) {
		vec, err := e.embedder.Embed(bctx, req.Query)
		if err != nil {
			return nil, err
		}
		hits, err := e.vector.Search(bctx, store.VectorQuery{
			Vector:   vec,
			Limit:    depth,
			MinScore: threshold,
			Code:     filters.Code,
		})
		if err != nil {
			return nil, err
		}
		if needsDocumentFilter(filters) {
			return e.filterHits(bctx, hits, filters)
		}
		return hits, nil
	})
}

// dispatch runs one backend call under its breaker and deadline.
func (e *Engine) dispatch(ctx context.Context, name string, cb *apperrors.CircuitBreaker, timeout time.Duration,
	call func(context.Context) ([]store.Hit, error)) backendResult {
	start := time.Now()
	if !cb.Allow() {
		slog.Warn("retrieval_backend_degraded", slog.String("backend", name), slog.String("status", string(StatusDown)),
			slog.String("reason", "circuit open"))
		return backendResult{status: StatusDown, err: apperrors.RetrievalBackendDown(name, apperrors.ErrCircuitOpen)}
	}

	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hits, err := call(bctx)
	elapsed := time.Since(start)
	metrics.SearchDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err == nil {
		cb.RecordSuccess()
		return backendResult{hits: hits, status: StatusOK, elapsed: elapsed}
	}
	if ctx.Err() != nil {
		// caller cancelled; not the backend's fault
		return backendResult{status: StatusDown, elapsed: elapsed, err: ctx.Err()}
	}

	cb.RecordFailure()
	res := backendResult{status: StatusDown, elapsed: elapsed, err: apperrors.RetrievalBackendDown(name, err)}
	if errors.Is(err, context.DeadlineExceeded) || bctx.Err() == context.DeadlineExceeded {
		res.status = StatusTimeout
		res.err = apperrors.RetrievalTimeout(name, err)
	}
	slog.Warn("retrieval_backend_degraded",
		slog.String("backend", name),
		slog.String("status", string(res.status)),
		slog.Duration("elapsed", elapsed),
		slog.String("error", err.Error()))
	return res
}

// needsDocumentFilter reports whether filters constrain fields the vector
// payload does not carry.
func needsDocumentFilter(f store.Filters) bool {
	return f.Section != "" || f.TitleContains != "" || !f.UpdatedAfter.IsZero() || !f.UpdatedBefore.IsZero()
}

// filterHits drops vector hits whose documents do not satisfy filters.
func (e *Engine) filterHits(ctx context.Context, hits []store.Hit, f store.Filters) ([]store.Hit, error) {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	docs, err := e.assembler.fetcher.Fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	ok := make(map[string]bool, len(docs))
	for i := range docs {
		if matchesFilters(&docs[i], f) {
			ok[docs[i].ID] = true
		}
	}
	out := hits[:0]
	for _, h := range hits {
		if ok[h.ID] {
			out = append(out, h)
		}
	}
	return out, nil
}

func matchesFilters(d *source.Document, f store.Filters) bool {
	if f.Code != "" && !strings.EqualFold(d.CodeAbbrev, f.Code) {
		return false
	}
	if f.Section != "" && d.Section != f.Section {
		return false
	}
	if f.TitleContains != "" {
		title := strings.ToLower(d.Title)
		for _, w := range strings.Fields(strings.ToLower(f.TitleContains)) {
			if !strings.Contains(title, w) {
				return false
			}
		}
	}
	if !f.UpdatedAfter.IsZero() && d.UpdatedAt.Before(f.UpdatedAfter) {
		return false
	}
	if !f.UpdatedBefore.IsZero() && d.UpdatedAt.After(f.UpdatedBefore) {
		return false
	}
	return true
}
