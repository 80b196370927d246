package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qter21/legal-codes-search-api/internal/embed"
	"github.com/qter21/legal-codes-search-api/internal/mcp"
	"github.com/qter21/legal-codes-search-api/internal/output"
	"github.com/qter21/legal-codes-search-api/internal/search"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

type searchOptions struct {
	mode        string
	code        string
	section     string
	title       string
	limit       int
	offset      int
	format      string
	lexicalOnly bool
	maxChars    int
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search code sections",
		Long: `Search the indexes. The query is classified first: simple lookups such as
"FAM 3044" use the keyword index only, questions are answered by fusing the
keyword and vector indexes.

Formats:
  text      numbered results with a preview (default)
  markdown  the same results as markdown
  json      the full response, including per-backend metadata
  context   section texts joined into one prompt-sized block`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "auto", "Routing: auto, simple or complex")
	cmd.Flags().StringVarP(&opts.code, "code", "c", "", "Restrict to a code (e.g. FAM, PEN)")
	cmd.Flags().StringVar(&opts.section, "section", "", "Restrict to an exact section label")
	cmd.Flags().StringVar(&opts.title, "title", "", "Require these terms in the section title")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum results (default from config)")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Skip this many results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, markdown, json or context")
	cmd.Flags().BoolVar(&opts.lexicalOnly, "lexical-only", false, "Do not query the embedding model")
	cmd.Flags().IntVar(&opts.maxChars, "max-chars", 0, "Character budget for --format context (default from config)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	switch opts.format {
	case "text", "markdown", "json", "context":
	default:
		return fmt.Errorf("unknown format %q (want text, markdown, json or context)", opts.format)
	}
	mode := search.Mode(strings.ToLower(opts.mode))
	switch mode {
	case search.ModeAuto, search.ModeSimple, search.ModeComplex:
	default:
		return fmt.Errorf("unknown mode %q (want auto, simple or complex)", opts.mode)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var embedder embed.Embedder
	if !opts.lexicalOnly {
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

	resp, err := engine.Search(ctx, search.Request{
		Query:  query,
		Limit:  opts.limit,
		Offset: opts.offset,
		Mode:   mode,
		Filters: store.Filters{
			Code:          opts.code,
			Section:       opts.section,
			TitleContains: opts.title,
		},
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch opts.format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "markdown":
		_, err := fmt.Fprintln(out, mcp.FormatResults(query, resp))
		return err
	case "context":
		maxChars := opts.maxChars
		if maxChars <= 0 {
			maxChars = cfg.Search.ContextMaxChars
		}
		_, err := fmt.Fprintln(out, search.FormatContext(resp.Results, maxChars))
		return err
	}

	printResults(output.New(out), query, resp)
	return nil
}

// printResults renders a response as numbered plain-text results.
func printResults(w *output.Writer, query string, resp *search.Response) {
	if len(resp.Results) == 0 {
		w.Warningf("No sections found for %q", query)
		return
	}

	w.Header(fmt.Sprintf("%d of %d results for %q", len(resp.Results), resp.Total, query))
	w.Dim(fmt.Sprintf("%s query, %s, %dms", resp.Classification.Decision, resp.Metadata.Strategy, resp.Metadata.TotalMS))
	if resp.Metadata.Vector == search.StatusTimeout || resp.Metadata.Vector == search.StatusDown {
		w.Warningf("semantic search %s, showing keyword matches only", resp.Metadata.Vector)
	}
	w.Newline()

	for i, r := range resp.Results {
		d := r.Document
		heading := fmt.Sprintf("%d. %s § %s", i+1, d.CodeAbbrev, d.Section)
		if d.Title != "" {
			heading += " - " + d.Title
		}
		w.Header(heading)
		w.KeyValue("score", fmt.Sprintf("%.4f", r.FusedScore))
		if d.URL != "" {
			w.KeyValue("source", d.URL)
		}
		w.Status("", snippet(d.Content, 240))
		w.Newline()
	}
}

// snippet collapses whitespace and cuts s to at most n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
