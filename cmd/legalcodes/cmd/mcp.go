package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qter21/legal-codes-search-api/internal/embed"
	"github.com/qter21/legal-codes-search-api/internal/logging"
	"github.com/qter21/legal-codes-search-api/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var lexicalOnly bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		Long: `Run an MCP server on stdin/stdout exposing search_codes, classify_query,
get_context and sync_status, plus section resources.

stdout carries JSON-RPC only; logs go to ~/.legalcodes/logs/. The indexes
are read as they are; run 'legalcodes sync' or 'legalcodes serve' to keep
them current.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMCP(ctx, cmd, lexicalOnly)
		},
	}

	cmd.Flags().BoolVar(&lexicalOnly, "lexical-only", false, "Do not query the embedding model")

	return cmd
}

func runMCP(ctx context.Context, cmd *cobra.Command, lexicalOnly bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	level := cfg.Server.LogLevel
	if debugMode {
		level = "debug"
	}
	logger, cleanup, err := logging.Setup(logging.ProtocolConfig(level))
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	var embedder embed.Embedder
	if !lexicalOnly {
		embedder, err = embed.New(cfg.Embeddings, embed.ForQuery)
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		defer func() { _ = embedder.Close() }()
	}

	ix, err := openIndexes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	engine, err := newEngine(cfg, ix, embedder)
	if err != nil {
		return err
	}

	srv, err := mcp.NewServer(mcp.Deps{
		Engine:  engine,
		Fetcher: ix.Lexical,
		Status:  newCollector(cfg, ix, embedder),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
