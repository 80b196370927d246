package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/qter21/legal-codes-search-api/internal/search"
	"github.com/qter21/legal-codes-search-api/internal/store"
	codesync "github.com/qter21/legal-codes-search-api/internal/sync"
	"github.com/qter21/legal-codes-search-api/pkg/version"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query          string     `json:"query"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
	Mode           string     `json:"mode,omitempty"`
	Code           string     `json:"code,omitempty"`
	Section        string     `json:"section,omitempty"`
	TitleContains  string     `json:"title_contains,omitempty"`
	UpdatedAfter   *time.Time `json:"updated_after,omitempty"`
	UpdatedBefore  *time.Time `json:"updated_before,omitempty"`
	ScoreThreshold *float64   `json:"score_threshold,omitempty"`
}

func (r SearchRequest) toEngine() search.Request {
	req := search.Request{
		Query:          r.Query,
		Limit:          r.Limit,
		Offset:         r.Offset,
		Mode:           search.Mode(strings.ToLower(r.Mode)),
		ScoreThreshold: r.ScoreThreshold,
		Filters: store.Filters{
			Code:          r.Code,
			Section:       r.Section,
			TitleContains: r.TitleContains,
		},
	}
	if r.UpdatedAfter != nil {
		req.Filters.UpdatedAfter = *r.UpdatedAfter
	}
	if r.UpdatedBefore != nil {
		req.Filters.UpdatedBefore = *r.UpdatedBefore
	}
	return req
}

// QueryRequest is the body of POST /api/v1/classify.
type QueryRequest struct {
	Query string `json:"query"`
}

// ContextRequest is the body of POST /api/v1/context.
type ContextRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit,omitempty"`
	Code     string `json:"code,omitempty"`
	MaxChars int    `json:"max_chars,omitempty"`
}

// ContextResponse carries numbered statute text for answer generation.
type ContextResponse struct {
	Query     string   `json:"query"`
	Context   string   `json:"context"`
	Documents []string `json:"documents"`
}

// SyncStatusResponse combines persisted state with the background run.
type SyncStatusResponse struct {
	Index      any `json:"index"`
	Background any `json:"background,omitempty"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decode(w, r, &req) {
		return
	}
	s.search(w, r, req)
}

func (s *Server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := SearchRequest{
		Query:         q.Get("q"),
		Mode:          q.Get("mode"),
		Code:          q.Get("code"),
		Section:       q.Get("section"),
		TitleContains: q.Get("title"),
	}
	var err error
	if req.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit: "+err.Error())
		return
	}
	if req.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset: "+err.Error())
		return
	}
	s.search(w, r, req)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, req SearchRequest) {
	resp, err := s.engine.Search(r.Context(), req.toEngine())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeBadRequest(w, "query is required")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Classify(req.Query))
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if !decode(w, r, &req) {
		return
	}
	maxChars := req.MaxChars
	if maxChars <= 0 {
		maxChars = s.config.ContextMaxChars
	}
	resp, err := s.engine.Search(r.Context(), search.Request{
		Query:   req.Query,
		Limit:   req.Limit,
		Filters: store.Filters{Code: req.Code},
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := ContextResponse{
		Query:     req.Query,
		Context:   search.FormatContext(resp.Results, maxChars),
		Documents: make([]string, 0, len(resp.Results)),
	}
	for _, res := range resp.Results {
		out.Documents = append(out.Documents, res.DocumentID)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	docs, err := s.fetcher.Fetch(r.Context(), []string{id})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if len(docs) == 0 {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Code: "not_found", Message: fmt.Sprintf("section %q not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, docs[0])
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.status.Collect(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := SyncStatusResponse{Index: snap}
	if s.scheduler != nil {
		out.Background = s.scheduler.Progress().Snapshot()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSyncFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.status.Failures(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, failures)
}

// handleSyncTrigger queues a background run: POST /api/v1/sync?mode=full.
func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Code:       "sync_disabled",
			Message:    "background sync is not enabled",
			Suggestion: "Start the server with --sync-interval or run 'legalcodes sync'.",
		})
		return
	}
	mode := codesync.ModeIncremental
	if m := r.URL.Query().Get("mode"); m != "" {
		parsed, err := codesync.ParseMode(m)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		mode = parsed
	}
	queued := s.scheduler.Trigger(mode)
	writeJSON(w, http.StatusAccepted, map[string]any{"mode": mode, "queued": queued})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.status.Health(r.Context())
	code := http.StatusOK
	if h.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  h.Status,
		"checks":  h.Checks,
		"version": version.GetInfo(),
	})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	return n, nil
}
