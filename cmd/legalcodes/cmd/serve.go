package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qter21/legal-codes-search-api/internal/async"
	"github.com/qter21/legal-codes-search-api/internal/config"
	"github.com/qter21/legal-codes-search-api/internal/embed"
	"github.com/qter21/legal-codes-search-api/internal/logging"
	"github.com/qter21/legal-codes-search-api/internal/mcp"
	"github.com/qter21/legal-codes-search-api/internal/metrics"
	"github.com/qter21/legal-codes-search-api/internal/server"
	"github.com/qter21/legal-codes-search-api/internal/source"
	"github.com/qter21/legal-codes-search-api/internal/store"
	codesync "github.com/qter21/legal-codes-search-api/internal/sync"
	"github.com/qter21/legal-codes-search-api/internal/watcher"
	"github.com/qter21/legal-codes-search-api/pkg/version"
)

type serveOptions struct {
	addr          string
	syncInterval  time.Duration
	watchSource   bool
	noSyncOnStart bool
	noMCP         bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API",
		Long: `Serve the REST API under /api/v1, Prometheus metrics under /metrics, and the
MCP streamable HTTP transport under /mcp.

Syncs run in the background: once at startup, every --sync-interval, when
the source file changes (--watch-source), and on POST /api/v1/sync.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default from config, :8080)")
	cmd.Flags().DurationVar(&opts.syncInterval, "sync-interval", 0, "Run an incremental sync this often (0 disables)")
	cmd.Flags().BoolVar(&opts.watchSource, "watch-source", false, "Sync when the source file changes")
	cmd.Flags().BoolVar(&opts.noSyncOnStart, "no-sync-on-start", false, "Skip the startup sync")
	cmd.Flags().BoolVar(&opts.noMCP, "no-mcp", false, "Do not mount the MCP transport at /mcp")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg, opts)

	logger := slog.Default()
	if !debugMode {
		l, cleanup, err := logging.Setup(serveLogConfig(cfg))
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		defer cleanup()
		logger = l
		slog.SetDefault(logger)
	}
	logger.Info("legalcodes_starting",
		slog.String("version", version.Version),
		slog.String("target", cfg.Source.Target),
		slog.String("source", cfg.Source.Path),
		slog.String("data_dir", cfg.Storage.DataDir))

	metrics.Register()

	queryEmbedder, err := embed.New(cfg.Embeddings, embed.ForQuery)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = queryEmbedder.Close() }()

	syncEmbedder, err := embed.New(cfg.Embeddings, embed.ForSync)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = syncEmbedder.Close() }()

	src, err := source.Open(cfg.Source)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer func() { _ = src.Close() }()

	ix, err := openIndexes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	engine, err := newEngine(cfg, ix, queryEmbedder)
	if err != nil {
		return err
	}
	collector := newCollector(cfg, ix, queryEmbedder)

	// The scheduler is built first so the orchestrator can report into its
	// progress tracker.
	var orch *codesync.Orchestrator
	sched := async.NewScheduler(func(ctx context.Context, mode codesync.Mode) (*codesync.Report, error) {
		return orch.Run(ctx, mode)
	}, async.SchedulerConfig{
		Interval:   cfg.Server.SyncInterval,
		RunOnStart: !opts.noSyncOnStart,
		Logger:     logger,
	})
	orch, err = codesync.New(codesync.Dependencies{
		Source:   src,
		Embedder: syncEmbedder,
		Lexical:  ix.Lexical,
		Vector:   ix.Vector,
		State:    ix.State,
		Lease:    store.NewLease(cfg.Storage.DataDir),
		Progress: sched.Progress().Apply,
	}, codesync.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}

	deps := server.Deps{
		Engine:    engine,
		Fetcher:   ix.Lexical,
		Status:    collector,
		Scheduler: sched,
		Logger:    logger,
	}
	if !opts.noMCP {
		mcpServer, err := mcp.NewServer(mcp.Deps{
			Engine:  engine,
			Fetcher: ix.Lexical,
			Status:  collector,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		deps.MCP = mcpServer.HTTPHandler()
	}
	srv := server.New(deps, server.Config{ContextMaxChars: cfg.Search.ContextMaxChars})

	sched.Start(ctx)
	defer sched.Stop()

	if cfg.Server.WatchSource {
		w, err := startSourceWatcher(ctx, cfg, sched, logger)
		if err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
	}

	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

// applyServeFlags lets explicitly set flags override the configuration.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config, opts serveOptions) {
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if cmd.Flags().Changed("sync-interval") {
		cfg.Server.SyncInterval = opts.syncInterval
	}
	if cmd.Flags().Changed("watch-source") {
		cfg.Server.WatchSource = opts.watchSource
	}
}

func serveLogConfig(cfg *config.Config) logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Server.LogLevel
	return lc
}

// startSourceWatcher triggers an incremental sync for every debounced batch
// of changes to the source file.
func startSourceWatcher(ctx context.Context, cfg *config.Config, sched *async.Scheduler, logger *slog.Logger) (*watcher.SourceWatcher, error) {
	w, err := watcher.NewSourceWatcher(cfg.Source.Path, watcher.Options{DebounceWindow: cfg.Server.WatchDebounce})
	if err != nil {
		return nil, fmt.Errorf("failed to watch source: %w", err)
	}

	go func() {
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("source_watcher_failed", slog.String("error", err.Error()))
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-w.Events():
				if !ok {
					return
				}
				queued := sched.Trigger(codesync.ModeIncremental)
				logger.Info("source_changed",
					slog.Int("events", len(batch)),
					slog.Bool("sync_queued", queued))
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				logger.Warn("source_watcher_error", slog.String("error", err.Error()))
			}
		}
	}()
	return w, nil
}
