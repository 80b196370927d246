package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qter21/legal-codes-search-api/internal/config"
	"github.com/qter21/legal-codes-search-api/internal/embed"
	"github.com/qter21/legal-codes-search-api/internal/source"
	"github.com/qter21/legal-codes-search-api/internal/store"
	codesync "github.com/qter21/legal-codes-search-api/internal/sync"
	"github.com/qter21/legal-codes-search-api/internal/ui"
)

type syncOptions struct {
	full       bool
	noTUI      bool
	jsonOutput bool
}

func newSyncCmd() *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the indexes with the source store",
		Long: `Read section documents from the source store, encode them, and write them
to the keyword and vector indexes in batches.

By default only documents updated since the last run are read (minus the
configured look-back window) and documents whose content is unchanged are
skipped. --full rereads and rewrites the whole source.

Documents that fail are recorded and retried by later runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.full, "full", false, "Reread and rewrite every document")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Plain text progress instead of the interactive view")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the run report as JSON")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, opts syncOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	mode := codesync.ModeIncremental
	if opts.full {
		mode = codesync.ModeFull
	}

	embedder, err := embed.New(cfg.Embeddings, embed.ForSync)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	src, err := source.Open(cfg.Source)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer func() { _ = src.Close() }()

	// the lease is taken before the indexes are opened, so a run that
	// cannot sync fails fast rather than waiting on index file locks
	lease := store.NewLease(cfg.Storage.DataDir)
	if err := lease.TryAcquire(); err != nil {
		return err
	}
	defer func() { _ = lease.Release() }()

	ix, err := openIndexes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	var renderer ui.Renderer
	var progress codesync.ProgressFunc
	if !opts.jsonOutput {
		renderer = ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
			ui.WithForcePlain(opts.noTUI),
			ui.WithNoColor(ui.DetectNoColor()),
			ui.WithTarget(cfg.Source.Target)))
		if err := renderer.Start(ctx); err != nil {
			slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
		}
		defer func() { _ = renderer.Stop() }()
		progress = rendererProgress(renderer)
	}

	orch, err := codesync.New(codesync.Dependencies{
		Source:   src,
		Embedder: embedder,
		Lexical:  ix.Lexical,
		Vector:   ix.Vector,
		State:    ix.State,
		Lease:    heldLease{},
		Progress: progress,
	}, codesync.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}

	report, runErr := orch.Run(ctx, mode)

	if opts.jsonOutput {
		if report != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		}
		return runErr
	}

	renderer.Complete(completionStats(cfg, embedder, report, runErr))
	return runErr
}

// heldLease hands a lease the command already holds to the orchestrator.
type heldLease struct{}

func (heldLease) TryAcquire() error { return nil }
func (heldLease) Release() error    { return nil }

// rendererProgress forwards orchestrator events to a renderer.
func rendererProgress(r ui.Renderer) codesync.ProgressFunc {
	return func(ev codesync.Event) {
		if ev.DocumentID != "" {
			if ev.Err != nil {
				r.AddError(ui.ErrorEvent{DocumentID: ev.DocumentID, Err: ev.Err})
			}
			return
		}

		var stage ui.Stage
		switch ev.Stage {
		case codesync.StageRetrying:
			stage = ui.StageRetrying
		case codesync.StageReading:
			stage = ui.StageReading
		case codesync.StageEncoding:
			stage = ui.StageEncoding
		case codesync.StageWriting, codesync.StageBatch:
			stage = ui.StageWriting
		default:
			// StageDone is reported through Complete.
			return
		}

		r.UpdateProgress(ui.ProgressEvent{
			Stage:     stage,
			Batch:     ev.Batch,
			Documents: ev.Documents,
			Processed: ev.Report.Processed(),
			Committed: ev.Report.Committed,
			Failed:    ev.Report.Failed,
		})
	}
}

func completionStats(cfg *config.Config, embedder embed.Embedder, report *codesync.Report, runErr error) ui.CompletionStats {
	stats := ui.CompletionStats{
		Target: cfg.Source.Target,
		Embedder: ui.EmbedderInfo{
			Backend:    cfg.Embeddings.Provider,
			Model:      embedder.ModelName(),
			Dimensions: embedder.Dimensions(),
		},
		Err: runErr,
	}
	if report == nil {
		return stats
	}
	stats.Mode = string(report.Mode)
	stats.Committed = report.Committed
	stats.Failed = report.Failed
	stats.Skipped = report.Skipped
	stats.Unchanged = report.Unchanged
	stats.Retried = report.Retried
	stats.Gaps = report.Gaps
	stats.Batches = report.Batches
	stats.Watermark = report.NewWatermark
	stats.Duration = report.Duration
	return stats
}
