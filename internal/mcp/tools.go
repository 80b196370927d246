package mcp

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/qter21/legal-codes-search-api/internal/search"
	"github.com/qter21/legal-codes-search-api/internal/status"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

// Tool limits.
const (
	defaultLimit    = 10
	maxLimit        = 50
	defaultMaxChars = 8000
)

// SearchInput is the input of search_codes.
type SearchInput struct {
	Query         string `json:"query" jsonschema:"a section reference such as FAM 3044 or a natural language question"`
	Limit         int    `json:"limit,omitempty" jsonschema:"maximum number of sections, default 10, at most 50"`
	Offset        int    `json:"offset,omitempty" jsonschema:"number of ranked sections to skip"`
	Code          string `json:"code,omitempty" jsonschema:"restrict to one code abbreviation such as FAM, PEN or CIV"`
	Section       string `json:"section,omitempty" jsonschema:"restrict to one section number"`
	TitleContains string `json:"title_contains,omitempty" jsonschema:"words the section title must contain"`
	Mode          string `json:"mode,omitempty" jsonschema:"auto, simple (keyword only) or complex (keyword and semantic), default auto"`
}

// SearchOutput is the structured output of search_codes.
type SearchOutput struct {
	Query    string          `json:"query"`
	Decision string          `json:"decision"`
	Total    int             `json:"total"`
	Results  []ResultOutput  `json:"results"`
	Metadata search.Metadata `json:"metadata"`
}

// ResultOutput is one section in SearchOutput.
type ResultOutput struct {
	DocumentID  string  `json:"document_id"`
	Code        string  `json:"code"`
	Section     string  `json:"section"`
	Title       string  `json:"title,omitempty"`
	URL         string  `json:"url,omitempty"`
	Score       float64 `json:"score"`
	LexicalRank int     `json:"lexical_rank,omitempty"`
	VectorRank  int     `json:"vector_rank,omitempty"`
	Content     string  `json:"content"`
}

// ClassifyInput is the input of classify_query.
type ClassifyInput struct {
	Query string `json:"query" jsonschema:"the query to classify"`
}

// ContextInput is the input of get_context.
type ContextInput struct {
	Query    string `json:"query" jsonschema:"the question to gather statute text for"`
	Limit    int    `json:"limit,omitempty" jsonschema:"number of sections to include, default 10"`
	Code     string `json:"code,omitempty" jsonschema:"restrict to one code abbreviation"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"upper bound on the context length in characters, default 8000"`
}

// ContextOutput is the structured output of get_context.
type ContextOutput struct {
	Context   string   `json:"context"`
	Documents []string `json:"documents"`
}

// StatusInput is the (empty) input of sync_status.
type StatusInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "search_codes",
		Description: "Search California legal code sections. Section references (\"FAM 3044\", \"Penal Code 187\") " +
			"are answered by keyword search; questions are answered by fusing keyword and semantic search.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "classify_query",
		Description: "Explain whether a query would be treated as a simple section lookup or a complex question, with the scoring signals.",
	}, s.handleClassify)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_context",
		Description: "Gather the text of the most relevant sections for a question, formatted as numbered citations for answer generation.",
	}, s.handleContext)

	count := 3
	if s.status != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "sync_status",
			Description: "Report index size, sync watermark, failed documents and the last sync run.",
		}, s.handleStatus)
		count++
	}
	s.logger.Debug("mcp_tools_registered", slog.Int("count", count))
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (
	*mcp.CallToolResult, SearchOutput, error,
) {
	start, rid := time.Now(), newRequestID()
	if strings.TrimSpace(in.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query is required")
	}

	resp, err := s.engine.Search(ctx, search.Request{
		Query:  in.Query,
		Limit:  clampLimit(in.Limit),
		Offset: max(in.Offset, 0),
		Mode:   search.Mode(strings.ToLower(in.Mode)),
		Filters: store.Filters{
			Code:          in.Code,
			Section:       in.Section,
			TitleContains: in.TitleContains,
		},
	})
	if err != nil {
		s.logCall("search_codes", rid, start, err)
		return nil, SearchOutput{}, MapError(err)
	}

	out := SearchOutput{
		Query:    in.Query,
		Decision: string(resp.Classification.Decision),
		Total:    resp.Total,
		Results:  make([]ResultOutput, 0, len(resp.Results)),
		Metadata: resp.Metadata,
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, ResultOutput{
			DocumentID:  r.DocumentID,
			Code:        r.Document.CodeAbbrev,
			Section:     r.Document.Section,
			Title:       r.Document.Title,
			URL:         r.Document.URL,
			Score:       r.FusedScore,
			LexicalRank: r.Contributions.LexicalRank,
			VectorRank:  r.Contributions.VectorRank,
			Content:     preview(r.Document.Content, previewChars),
		})
	}
	s.logCall("search_codes", rid, start, nil,
		slog.String("decision", out.Decision),
		slog.Int("results", len(out.Results)))

	return textResult(FormatResults(in.Query, resp)), out, nil
}

func (s *Server) handleClassify(_ context.Context, _ *mcp.CallToolRequest, in ClassifyInput) (
	*mcp.CallToolResult, search.Classification, error,
) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, search.Classification{}, NewInvalidParamsError("query is required")
	}
	cls := s.engine.Classify(in.Query)
	return textResult(cls.Reason), cls, nil
}

func (s *Server) handleContext(ctx context.Context, _ *mcp.CallToolRequest, in ContextInput) (
	*mcp.CallToolResult, ContextOutput, error,
) {
	start, rid := time.Now(), newRequestID()
	if strings.TrimSpace(in.Query) == "" {
		return nil, ContextOutput{}, NewInvalidParamsError("query is required")
	}
	maxChars := in.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}

	resp, err := s.engine.Search(ctx, search.Request{
		Query:   in.Query,
		Limit:   clampLimit(in.Limit),
		Filters: store.Filters{Code: in.Code},
	})
	if err != nil {
		s.logCall("get_context", rid, start, err)
		return nil, ContextOutput{}, MapError(err)
	}

	out := ContextOutput{
		Context:   search.FormatContext(resp.Results, maxChars),
		Documents: make([]string, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		out.Documents = append(out.Documents, r.DocumentID)
	}
	s.logCall("get_context", rid, start, nil, slog.Int("documents", len(out.Documents)))
	return textResult(out.Context), out, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult, *status.Snapshot, error,
) {
	snap, err := s.status.Collect(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return textResult(FormatStatus(snap)), snap, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// clampLimit applies the tool default and bounds.
func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	default:
		return n
	}
}
