package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qter21/legal-codes-search-api/internal/embed"
	"github.com/qter21/legal-codes-search-api/internal/output"
	"github.com/qter21/legal-codes-search-api/internal/store"
	"github.com/qter21/legal-codes-search-api/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool
	var offline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and sync status",
		Long: `Display the state of the indexes and the sync pipeline:
  - Documents in the keyword index, vectors in the vector index
  - Watermark and the last run
  - Pending and exhausted failures
  - Storage sizes
  - Embedding model availability`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput, offline)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the embedding model check")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput, offline bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var embedder embed.Embedder
	if !offline {
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

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snap, err := newCollector(cfg, ix, embedder).Collect(checkCtx)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(snap)
	}
	return renderer.Render(snap)
}

func newFailuresCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List documents that failed to sync",
		Long: `List failure records. Pending failures are retried by the next run;
exhausted ones reached the attempt cap and stay as gaps until the document
changes in the source or a full sync is run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFailures(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runFailures(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ix, err := openIndexes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	failures, err := newCollector(cfg, ix, nil).Failures(ctx)
	if err != nil {
		return fmt.Errorf("failed to read failures: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(failures)
	}

	w := output.New(cmd.OutOrStdout())
	if len(failures.Pending) == 0 && len(failures.Exhausted) == 0 {
		w.Successf("No failed documents for %s", failures.Target)
		return nil
	}
	printFailureGroup(w, "Pending retry", failures.Pending)
	printFailureGroup(w, "Exhausted", failures.Exhausted)
	return nil
}

func printFailureGroup(w *output.Writer, title string, docs []store.FailedDocument) {
	if len(docs) == 0 {
		return
	}
	w.Header(fmt.Sprintf("%s (%d)", title, len(docs)))
	for _, d := range docs {
		w.Warningf("%s  %s, %d attempts, last %s", d.DocumentID, d.ErrorKind, d.AttemptCount,
			d.LastAttemptAt.Local().Format(time.DateTime))
		if d.LastError != "" {
			w.Status("", snippet(d.LastError, 160))
		}
	}
	w.Newline()
}
