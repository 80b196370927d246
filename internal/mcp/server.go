package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/qter21/legal-codes-search-api/internal/search"
	"github.com/qter21/legal-codes-search-api/internal/status"
	"github.com/qter21/legal-codes-search-api/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "legalcodes"

// Engine answers queries. *search.Engine implements it.
type Engine interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	Classify(query string) search.Classification
}

// StatusSource reports sync state. *status.Collector implements it.
type StatusSource interface {
	Collect(ctx context.Context) (*status.Snapshot, error)
}

// Deps are the collaborators of a Server. Status is optional; without it
// the sync_status tool is not registered.
type Deps struct {
	Engine  Engine
	Fetcher search.DocumentFetcher
	Status  StatusSource
	Logger  *slog.Logger
}

// Server bridges MCP clients to the retrieval engine.
type Server struct {
	mcp     *mcp.Server
	engine  Engine
	fetcher search.DocumentFetcher
	status  StatusSource
	logger  *slog.Logger
}

// NewServer creates a server and registers its tools and resources.
func NewServer(deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("search engine is required")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("document fetcher is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version.Version}, nil),
		engine:  deps.Engine,
		fetcher: deps.Fetcher,
		status:  deps.Status,
		logger:  logger,
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp_server_started", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// HTTPHandler serves the streamable HTTP transport, for mounting next to
// the REST API.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

// logCall logs the outcome of one tool call.
func (s *Server) logCall(tool, requestID string, start time.Time, err error, attrs ...slog.Attr) {
	attrs = append(attrs,
		slog.String("tool", tool),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		s.logger.LogAttrs(context.Background(), slog.LevelWarn, "mcp_tool_failed", attrs...)
		return
	}
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "mcp_tool_completed", attrs...)
}

func newRequestID() string {
	return uuid.NewString()[:8]
}
